package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/oresults/oresults/internal/document"
	"github.com/oresults/oresults/internal/resource"
	"github.com/oresults/oresults/internal/store"
	"github.com/oresults/oresults/internal/validate"
	apperrors "github.com/oresults/oresults/pkg/errors"
	"github.com/oresults/oresults/pkg/logger"
	"github.com/oresults/oresults/pkg/tracing"
)

const retrieveFailed = "An error occurred retrieving the document"

// List returns the active documents of res, populated. Query parameters
// naming scalar schema fields become equality filters; other parameters are
// ignored.
func (s *Service) List(ctx context.Context, res *resource.Resource, query url.Values) ([]document.Document, error) {
	ctx, span := tracing.StartChildSpan(ctx, res.Collection+".list")
	defer span.End()

	f, err := listFilter(res, query)
	if err != nil {
		span.Fail(err)
		return nil, err
	}
	docs, err := s.store.Find(ctx, res.Collection, f)
	if err != nil {
		span.Fail(err)
		logger.FromContext(ctx).Error("list failed", "resource", res.Collection, "error", err)
		return nil, apperrors.Persistence(retrieveFailed, err)
	}
	if err := s.populate(ctx, res, docs...); err != nil {
		span.Fail(err)
		return nil, err
	}
	span.SetAttr("count", len(docs))
	return docs, nil
}

func listFilter(res *resource.Resource, query url.Values) (store.Filter, error) {
	f := store.Filter{Equals: map[string]any{document.ActiveKey: true}}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		field, ok := res.Schema.Lookup(k)
		if !ok || k == document.ActiveKey || field.Type == validate.List || field.Type == validate.Docs {
			continue
		}
		var raw any = query.Get(k)
		if field.Type == validate.Bool {
			if b, err := strconv.ParseBool(query.Get(k)); err == nil {
				raw = b
			}
		}
		v, ok := field.Value(raw)
		if !ok {
			return f, apperrors.Newf(apperrors.ErrInvalidInput, "The %s filter is not valid.", k)
		}
		f.Equals[k] = v
	}
	return f, nil
}

// Get finds one document by identifier or, when key is not an identifier,
// by the resource's natural key. Inactive documents are still returned when
// addressed by identifier.
func (s *Service) Get(ctx context.Context, res *resource.Resource, key string) (document.Document, error) {
	ctx, span := tracing.StartChildSpan(ctx, res.Collection+".get")
	defer span.End()

	doc, err := s.find(ctx, res, key)
	if err != nil {
		span.Fail(err)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.New(apperrors.ErrNotFound, notFoundMessage(res))
		}
		logger.FromContext(ctx).Error("get failed", "resource", res.Collection, "key", key, "error", err)
		return nil, apperrors.Persistence(retrieveFailed, err)
	}
	if err := s.populate(ctx, res, doc); err != nil {
		span.Fail(err)
		return nil, err
	}
	return doc, nil
}

func (s *Service) find(ctx context.Context, res *resource.Resource, key string) (document.Document, error) {
	if id, ok := resource.IDField().Value(key); ok {
		return s.findByID(ctx, res, id.(string))
	}
	if res.NaturalKey == "" {
		return nil, store.ErrNotFound
	}
	field, _ := res.Schema.Lookup(res.NaturalKey)
	v, ok := field.Value(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.store.FindOne(ctx, res.Collection, store.Filter{
		Equals: map[string]any{res.NaturalKey: v, document.ActiveKey: true},
	})
}

func (s *Service) findByID(ctx context.Context, res *resource.Resource, id string) (document.Document, error) {
	load := func() (document.Document, error) {
		return s.store.FindByID(ctx, res.Collection, id)
	}
	if s.cache == nil {
		return load()
	}
	doc, hit, err := s.cache.GetOrLoad(ctx, res.Collection, id, load)
	if s.metrics != nil && err == nil {
		if hit {
			s.metrics.CacheHitsTotal.Inc()
		} else {
			s.metrics.CacheMissesTotal.Inc()
		}
	}
	return doc, err
}

// populate replaces reference identifiers with the referenced documents and
// adds computed fields. References to missing documents keep their
// identifier.
func (s *Service) populate(ctx context.Context, res *resource.Resource, docs ...document.Document) error {
	for _, field := range res.RefFields() {
		target, ok := resource.Lookup(res.Refs[field])
		if !ok {
			continue
		}
		ids := refIDs(field, docs)
		if len(ids) == 0 {
			continue
		}
		found, err := s.store.FindByIDs(ctx, target.Collection, ids)
		if err != nil {
			return apperrors.Persistence(retrieveFailed, fmt.Errorf("populating %s.%s: %w", res.Collection, field, err))
		}
		byID := make(map[string]document.Document, len(found))
		for _, d := range found {
			if target.Virtuals != nil {
				target.Virtuals(d)
			}
			byID[d.ID()] = d
		}
		for _, doc := range docs {
			switch v := doc[field].(type) {
			case string:
				if d, ok := byID[v]; ok {
					doc[field] = d
				}
			case []any:
				out := make([]any, len(v))
				for i, item := range v {
					out[i] = item
					if id, ok := item.(string); ok {
						if d, ok := byID[id]; ok {
							out[i] = d
						}
					}
				}
				doc[field] = out
			}
		}
	}
	if res.Virtuals != nil {
		for _, doc := range docs {
			res.Virtuals(doc)
		}
	}
	return nil
}

func refIDs(field string, docs []document.Document) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(v any) {
		id, ok := v.(string)
		if !ok || validate.IsMongoID(id, field) != nil {
			return
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, doc := range docs {
		switch v := doc[field].(type) {
		case string:
			add(v)
		case []any:
			for _, item := range v {
				add(item)
			}
		}
	}
	return ids
}
