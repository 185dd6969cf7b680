// Package service runs the document write workflow shared by every resource:
// validate, check for an active duplicate, persist, then notify. Reads go
// through the same package so that populate joins and computed fields are
// applied in one place.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oresults/oresults/internal/document"
	"github.com/oresults/oresults/internal/events"
	"github.com/oresults/oresults/internal/resource"
	"github.com/oresults/oresults/internal/store"
	"github.com/oresults/oresults/internal/validate"
	apperrors "github.com/oresults/oresults/pkg/errors"
	"github.com/oresults/oresults/pkg/logger"
	"github.com/oresults/oresults/pkg/metrics"
	"github.com/oresults/oresults/pkg/tracing"
)

// Cache is the read-through cache consulted by Get.
type Cache interface {
	GetOrLoad(ctx context.Context, collection, id string, load func() (document.Document, error)) (document.Document, bool, error)
	Invalidate(ctx context.Context, collection, id string) error
}

// Config wires optional collaborators. Zero values disable them.
type Config struct {
	Cache      Cache
	Publisher  events.Publisher
	Metrics    *metrics.Metrics
	BatchLimit int
}

type Service struct {
	store      store.Store
	checker    *Checker
	cache      Cache
	publisher  events.Publisher
	metrics    *metrics.Metrics
	batchLimit int
	logger     *slog.Logger
}

func New(st store.Store, cfg Config) *Service {
	if cfg.Publisher == nil {
		cfg.Publisher = events.Noop{}
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 8
	}
	return &Service{
		store:      st,
		checker:    NewChecker(st),
		cache:      cfg.Cache,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		batchLimit: cfg.BatchLimit,
		logger:     slog.Default().With("component", "service"),
	}
}

type persistFunc func(ctx context.Context, candidate document.Document) (document.Document, error)

type step struct {
	op      string
	change  events.Type
	schema  *validate.Schema
	unique  bool
	done    string
	failed  string
	persist persistFunc
}

// Create validates input against the resource schema and inserts it. Client
// supplied identifiers are ignored.
func (s *Service) Create(ctx context.Context, res *resource.Resource, input document.Document) Outcome {
	doc := received(input).Without(document.IDKey)
	if res.Defaults != nil {
		res.Defaults(doc)
	}
	return s.run(ctx, res, doc, step{
		op:     "create",
		change: events.Created,
		schema: res.Schema,
		unique: true,
		done:   fmt.Sprintf("The %s was added to the database", res.Name),
		failed: fmt.Sprintf("There was a problem adding the %s to the database.", res.Name),
		persist: func(ctx context.Context, candidate document.Document) (document.Document, error) {
			return s.store.Create(ctx, res.Collection, candidate)
		},
	})
}

// Update validates input, which must carry "_id" (or "id") next to every
// required field, and merges it into the stored document.
func (s *Service) Update(ctx context.Context, res *resource.Resource, input document.Document) Outcome {
	return s.run(ctx, res, received(input), step{
		op:     "update",
		change: events.Updated,
		schema: res.UpdateSchema(),
		unique: true,
		done:   fmt.Sprintf("The %s was updated", res.Name),
		failed: fmt.Sprintf("There was a problem updating the %s.", res.Name),
		persist: func(ctx context.Context, candidate document.Document) (document.Document, error) {
			return s.store.UpdateByID(ctx, res.Collection, candidate.ID(), candidate.Without(document.IDKey))
		},
	})
}

var idSchema = &validate.Schema{Required: []validate.Field{resource.IDField()}}

// Delete marks the document inactive, or removes it for resources with hard
// delete semantics.
func (s *Service) Delete(ctx context.Context, res *resource.Resource, id string) Outcome {
	return s.run(ctx, res, document.Document{document.IDKey: id}, step{
		op:     "delete",
		change: events.Deleted,
		schema: idSchema,
		done:   fmt.Sprintf("The %s was removed from the database", res.Name),
		failed: fmt.Sprintf("Could not remove the %s from the database", res.Name),
		persist: func(ctx context.Context, candidate document.Document) (document.Document, error) {
			if res.HardDelete {
				return s.store.RemoveByID(ctx, res.Collection, candidate.ID())
			}
			return s.store.UpdateByID(ctx, res.Collection, candidate.ID(), document.Document{document.ActiveKey: false})
		},
	})
}

// received normalizes the identifier key and defaults active to true.
func received(input document.Document) document.Document {
	doc := input.Clone()
	if doc == nil {
		doc = document.Document{}
	}
	if _, ok := doc[document.IDKey]; !ok {
		if alt, ok := doc[document.AltIDKey]; ok {
			doc[document.IDKey] = alt
		}
	}
	delete(doc, document.AltIDKey)
	if _, ok := doc[document.ActiveKey]; !ok {
		doc[document.ActiveKey] = true
	}
	return doc
}

func (s *Service) run(ctx context.Context, res *resource.Resource, doc document.Document, st step) Outcome {
	ctx, span := tracing.StartChildSpan(ctx, res.Collection+"."+st.op)
	defer span.End()
	log := logger.FromContext(ctx).With("resource", res.Collection, "operation", st.op)

	var out Outcome
	out.to(Received)
	defer func() {
		span.SetAttr("state", out.State.String())
		span.Fail(out.Err)
		s.countWrite(res, st.op, out.State)
	}()

	out.to(Validating)
	checked := st.schema.Validate(doc, doc)
	out.Errors = validate.Errors(checked)
	candidate := checked.Without(document.ErrorsKey)
	out.Document = candidate
	if len(out.Errors) > 0 {
		out.to(ValidationFailed)
		out.Message = "There have been validation errors"
		out.Err = apperrors.New(apperrors.ErrValidation, out.Message)
		if s.metrics != nil {
			s.metrics.ValidationFailures.WithLabelValues(res.Collection).Inc()
		}
		log.Debug("validation failed", "errors", len(out.Errors))
		return out
	}
	out.to(Validated)

	if st.unique {
		out.to(CheckingDuplicate)
		exists, err := s.checker.Exists(ctx, res, candidate, candidate.ID())
		if err != nil {
			out.to(PersistFailed)
			out.Message = st.failed
			out.Err = apperrors.Persistence(st.failed, err)
			log.Error("duplicate check failed", "error", err)
			return out
		}
		if exists {
			s.duplicate(res, &out)
			return out
		}
		out.to(Unique)
	}

	out.to(Persisting)
	stored, err := st.persist(ctx, candidate)
	switch {
	case errors.Is(err, store.ErrDuplicateKey):
		log.Info("unique index rejected write", "error", err)
		s.duplicate(res, &out)
		return out
	case errors.Is(err, store.ErrNotFound):
		out.to(PersistFailed)
		out.Message = notFoundMessage(res)
		out.Err = apperrors.New(apperrors.ErrNotFound, out.Message)
		return out
	case err != nil:
		out.to(PersistFailed)
		out.Message = st.failed
		out.Err = apperrors.Persistence(st.failed, err)
		log.Error("persist failed", "error", err)
		return out
	}

	out.to(Persisted)
	out.Message = st.done
	out.Document = stored
	s.afterWrite(ctx, res, st.change, stored)
	return out
}

func (s *Service) duplicate(res *resource.Resource, out *Outcome) {
	out.to(Duplicate)
	out.Message = fmt.Sprintf("This %s already exists.", res.Name)
	out.Err = apperrors.New(apperrors.ErrDuplicate, out.Message)
	if s.metrics != nil {
		s.metrics.DuplicateRejections.WithLabelValues(res.Collection).Inc()
	}
}

func notFoundMessage(res *resource.Resource) string {
	return fmt.Sprintf("No %s was found with that id.", res.Name)
}

// afterWrite drops the cached copy and publishes a change event. Neither
// failure affects the response.
func (s *Service) afterWrite(ctx context.Context, res *resource.Resource, change events.Type, stored document.Document) {
	log := logger.FromContext(ctx)
	id := stored.ID()
	if s.cache != nil && change != events.Created {
		if err := s.cache.Invalidate(ctx, res.Collection, id); err != nil {
			log.Warn("cache invalidation failed", "resource", res.Collection, "id", id, "error", err)
		}
	}
	err := s.publisher.Publish(ctx, events.Change{
		Type:      change,
		Resource:  res.Collection,
		ID:        id,
		Document:  stored,
		RequestID: logger.RequestID(ctx),
		At:        time.Now().UTC(),
	})
	if err != nil {
		log.Warn("change publish failed", "resource", res.Collection, "id", id, "error", err)
		if s.metrics != nil {
			s.metrics.ChangePublishFailures.Inc()
		}
	}
}

func (s *Service) countWrite(res *resource.Resource, op string, state State) {
	if s.metrics == nil {
		return
	}
	s.metrics.DocumentWritesTotal.WithLabelValues(res.Collection, op, state.String()).Inc()
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
