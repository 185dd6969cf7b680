// Package memstore is an in-process Store used for local runs and tests.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/oresults/oresults/internal/document"
	"github.com/oresults/oresults/internal/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type collection struct {
	docs       map[string]document.Document
	order      []string
	uniqueKeys [][]string
}

// Store keeps collections in memory behind a single mutex.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{docs: make(map[string]document.Document)}
		s.collections[name] = c
	}
	return c
}

func (s *Store) EnsureCollection(_ context.Context, name string, uniqueKeys [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coll(name).uniqueKeys = uniqueKeys
	return nil
}

func matches(id string, doc document.Document, f store.Filter) bool {
	if f.NotID != "" && id == f.NotID {
		return false
	}
	for k, want := range f.Equals {
		got, ok := doc[k]
		if !ok || !document.Equal(got, want) {
			return false
		}
	}
	return true
}

func (s *Store) Find(_ context.Context, name string, f store.Filter) ([]document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return []document.Document{}, nil
	}
	out := make([]document.Document, 0)
	for _, id := range c.order {
		if doc := c.docs[id]; matches(id, doc, f) {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

func (s *Store) FindOne(ctx context.Context, name string, f store.Filter) (document.Document, error) {
	docs, err := s.Find(ctx, name, f)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return docs[0], nil
}

func (s *Store) FindByID(_ context.Context, name, id string) (document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		if doc, ok := c.docs[id]; ok {
			return doc.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindByIDs(_ context.Context, name string, ids []string) ([]document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]document.Document, 0, len(ids))
	c, ok := s.collections[name]
	if !ok {
		return out, nil
	}
	for _, id := range ids {
		if doc, ok := c.docs[id]; ok {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

func (s *Store) Count(_ context.Context, name string, f store.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, id := range c.order {
		if matches(id, c.docs[id], f) {
			n++
		}
	}
	return n, nil
}

// conflicts reports whether doc would violate a unique group. Only active
// documents take part, mirroring the partial indexes of the other backends.
func (c *collection) conflicts(id string, doc document.Document) bool {
	if !doc.Active() {
		return false
	}
	for _, group := range c.uniqueKeys {
		f := store.Filter{Equals: map[string]any{document.ActiveKey: true}, NotID: id}
		complete := true
		for _, k := range group {
			v, ok := doc[k]
			if !ok {
				complete = false
				break
			}
			f.Equals[k] = v
		}
		if !complete {
			continue
		}
		for _, other := range c.order {
			if matches(other, c.docs[other], f) {
				return true
			}
		}
	}
	return false
}

func (s *Store) Create(_ context.Context, name string, doc document.Document) (document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(name)
	id := bson.NewObjectID().Hex()
	stored := doc.Without(document.IDKey, document.AltIDKey)
	stored[document.IDKey] = id
	if c.conflicts(id, stored) {
		return nil, fmt.Errorf("inserting into %s: %w", name, store.ErrDuplicateKey)
	}
	c.docs[id] = stored
	c.order = append(c.order, id)
	return stored.Clone(), nil
}

func (s *Store) UpdateByID(_ context.Context, name, id string, fields document.Document) (document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	current, ok := c.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	next := current.Clone()
	for k, v := range fields {
		if k == document.IDKey || k == document.AltIDKey {
			continue
		}
		next[k] = v
	}
	if c.conflicts(id, next) {
		return nil, fmt.Errorf("updating %s %s: %w", name, id, store.ErrDuplicateKey)
	}
	c.docs[id] = next
	return next.Clone(), nil
}

func (s *Store) RemoveByID(_ context.Context, name, id string) (document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(c.docs, id)
	for i, other := range c.order {
		if other == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return doc, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close(context.Context) error { return nil }
