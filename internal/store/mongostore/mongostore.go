// Package mongostore implements store.Store on MongoDB. Identifiers are
// ObjectIDs in the database and hex strings everywhere else.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oresults/oresults/internal/document"
	"github.com/oresults/oresults/internal/store"
	pkgmongo "github.com/oresults/oresults/pkg/mongo"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type Store struct {
	client *pkgmongo.Client
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

func New(client *pkgmongo.Client) *Store {
	return &Store{
		client: client,
		logger: slog.Default().With("component", "mongostore"),
	}
}

func (s *Store) coll(name string) *mongo.Collection {
	return s.client.DB.Collection(name)
}

// IndexName derives a stable index name from a unique key group.
func IndexName(group []string) string {
	return "uniq_" + strings.Join(group, "_")
}

func (s *Store) EnsureCollection(ctx context.Context, name string, uniqueKeys [][]string) error {
	if len(uniqueKeys) == 0 {
		return nil
	}
	models := make([]mongo.IndexModel, 0, len(uniqueKeys))
	for _, group := range uniqueKeys {
		keys := bson.D{}
		for _, field := range group {
			keys = append(keys, bson.E{Key: field, Value: 1})
		}
		models = append(models, mongo.IndexModel{
			Keys: keys,
			Options: options.Index().
				SetName(IndexName(group)).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{document.ActiveKey: true}),
		})
	}
	created, err := s.coll(name).Indexes().CreateMany(ctx, models)
	if err != nil {
		return fmt.Errorf("creating indexes on %s: %w", name, err)
	}
	s.logger.Info("indexes ensured", "collection", name, "indexes", created)
	return nil
}

func (s *Store) Find(ctx context.Context, name string, f store.Filter) ([]document.Document, error) {
	filter, err := ToFilter(f)
	if err != nil {
		return nil, fmt.Errorf("building filter for %s: %w", name, err)
	}
	cur, err := s.coll(name).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("finding in %s: %w", name, err)
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("reading cursor on %s: %w", name, err)
	}
	out := make([]document.Document, 0, len(raw))
	for _, m := range raw {
		out = append(out, FromBSON(m))
	}
	return out, nil
}

func (s *Store) FindOne(ctx context.Context, name string, f store.Filter) (document.Document, error) {
	filter, err := ToFilter(f)
	if err != nil {
		return nil, store.ErrNotFound
	}
	return s.findOne(ctx, name, filter)
}

func (s *Store) findOne(ctx context.Context, name string, filter bson.M) (document.Document, error) {
	var m bson.M
	if err := s.coll(name).FindOne(ctx, filter).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("finding one in %s: %w", name, err)
	}
	return FromBSON(m), nil
}

func (s *Store) FindByID(ctx context.Context, name, id string) (document.Document, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	return s.findOne(ctx, name, bson.M{"_id": oid})
}

func (s *Store) FindByIDs(ctx context.Context, name string, ids []string) ([]document.Document, error) {
	oids := make([]bson.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := bson.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return []document.Document{}, nil
	}
	cur, err := s.coll(name).Find(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, fmt.Errorf("finding ids in %s: %w", name, err)
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("reading cursor on %s: %w", name, err)
	}
	out := make([]document.Document, 0, len(raw))
	for _, m := range raw {
		out = append(out, FromBSON(m))
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, name string, f store.Filter) (int64, error) {
	filter, err := ToFilter(f)
	if err != nil {
		return 0, fmt.Errorf("building filter for %s: %w", name, err)
	}
	n, err := s.coll(name).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("counting in %s: %w", name, err)
	}
	return n, nil
}

func (s *Store) Create(ctx context.Context, name string, doc document.Document) (document.Document, error) {
	oid := bson.NewObjectID()
	m := ToBSON(doc.Without(document.IDKey, document.AltIDKey))
	m["_id"] = oid
	if _, err := s.coll(name).InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("inserting into %s: %w", name, store.ErrDuplicateKey)
		}
		return nil, fmt.Errorf("inserting into %s: %w", name, err)
	}
	return FromBSON(m), nil
}

func (s *Store) UpdateByID(ctx context.Context, name, id string, fields document.Document) (document.Document, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	set := ToBSON(fields.Without(document.IDKey, document.AltIDKey))
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var m bson.M
	err = s.coll(name).FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, opts).Decode(&m)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return nil, fmt.Errorf("updating %s %s: %w", name, id, store.ErrDuplicateKey)
	case err != nil:
		return nil, fmt.Errorf("updating %s %s: %w", name, id, err)
	}
	return FromBSON(m), nil
}

func (s *Store) RemoveByID(ctx context.Context, name, id string) (document.Document, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	var m bson.M
	if err := s.coll(name).FindOneAndDelete(ctx, bson.M{"_id": oid}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("removing %s %s: %w", name, id, err)
	}
	return FromBSON(m), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
