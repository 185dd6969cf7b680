// Package store defines the document-store contract shared by the MongoDB,
// PostgreSQL and in-memory backends. Every backend assigns 24-character hex
// identifiers and exposes them under the "_id" key.
package store

import (
	"context"
	"errors"

	"github.com/oresults/oresults/internal/document"
)

var (
	// ErrNotFound is returned when no document matches an identifier.
	// Malformed identifiers are reported the same way.
	ErrNotFound = errors.New("store: document not found")
	// ErrDuplicateKey is returned when a write violates a unique index.
	ErrDuplicateKey = errors.New("store: duplicate key")
)

// Filter selects documents whose fields equal every value in Equals,
// optionally excluding one identifier.
type Filter struct {
	Equals map[string]any
	NotID  string
}

// Store is a collection-oriented document store.
type Store interface {
	// EnsureCollection prepares storage for a collection and creates one
	// unique index per key group, restricted to active documents.
	EnsureCollection(ctx context.Context, collection string, uniqueKeys [][]string) error
	Find(ctx context.Context, collection string, f Filter) ([]document.Document, error)
	FindOne(ctx context.Context, collection string, f Filter) (document.Document, error)
	FindByID(ctx context.Context, collection, id string) (document.Document, error)
	FindByIDs(ctx context.Context, collection string, ids []string) ([]document.Document, error)
	Count(ctx context.Context, collection string, f Filter) (int64, error)
	Create(ctx context.Context, collection string, doc document.Document) (document.Document, error)
	// UpdateByID merges fields into the stored document and returns the result.
	UpdateByID(ctx context.Context, collection, id string, fields document.Document) (document.Document, error)
	RemoveByID(ctx context.Context, collection, id string) (document.Document, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
