// Package pgstore implements store.Store on PostgreSQL. Each collection is a
// table of JSONB documents keyed by a hex identifier; equality filters use
// JSONB containment and unique key groups become partial expression indexes.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"
	"github.com/oresults/oresults/internal/document"
	"github.com/oresults/oresults/internal/store"
	"github.com/oresults/oresults/pkg/postgres"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "pgstore"),
	}
}

func table(name string) string {
	return pq.QuoteIdentifier(name)
}

// IndexDDL returns the statement creating the unique index for one key group.
func IndexDDL(collection string, group []string) string {
	exprs := make([]string, len(group))
	for i, field := range group {
		exprs[i] = fmt.Sprintf("(doc->>%s)", pq.QuoteLiteral(field))
	}
	name := pq.QuoteIdentifier(collection + "_uniq_" + strings.Join(group, "_"))
	return fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s) WHERE (doc->>'active') = 'true'",
		name, table(collection), strings.Join(exprs, ", "),
	)
}

func (s *Store) EnsureCollection(ctx context.Context, name string, uniqueKeys [][]string) error {
	stmts := []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	doc JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, table(name))}
	for _, group := range uniqueKeys {
		stmts = append(stmts, IndexDDL(name, group))
	}
	if err := s.db.Migrate(ctx, stmts...); err != nil {
		return fmt.Errorf("ensuring collection %s: %w", name, err)
	}
	s.logger.Info("collection ensured", "collection", name, "unique_groups", len(uniqueKeys))
	return nil
}

// where builds the WHERE clause shared by Find, FindOne and Count.
func where(f store.Filter) (string, []any, error) {
	equals := make(map[string]any, len(f.Equals))
	var id string
	for k, v := range f.Equals {
		if k == document.IDKey {
			id, _ = v.(string)
			continue
		}
		equals[k] = v
	}
	contains, err := json.Marshal(equals)
	if err != nil {
		return "", nil, fmt.Errorf("encoding filter: %w", err)
	}
	clause := "doc @> $1::jsonb AND id <> $2"
	args := []any{string(contains), f.NotID}
	if id != "" {
		clause += " AND id = $3"
		args = append(args, id)
	}
	return clause, args, nil
}

func scanDocs(rows *sql.Rows) ([]document.Document, error) {
	defer rows.Close()
	out := make([]document.Document, 0)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		doc, err := decode(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

func decode(id string, raw []byte) (document.Document, error) {
	var doc document.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", id, err)
	}
	if doc == nil {
		doc = document.Document{}
	}
	doc[document.IDKey] = id
	return doc, nil
}

func encode(doc document.Document) (string, error) {
	data, err := json.Marshal(doc.Without(document.IDKey, document.AltIDKey))
	if err != nil {
		return "", fmt.Errorf("encoding document: %w", err)
	}
	return string(data), nil
}

func (s *Store) Find(ctx context.Context, name string, f store.Filter) ([]document.Document, error) {
	clause, args, err := where(f)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT id, doc FROM %s WHERE %s ORDER BY created_at, id", table(name), clause)
	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if postgres.IsUndefinedTable(err) {
		return []document.Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding in %s: %w", name, err)
	}
	return scanDocs(rows)
}

func (s *Store) FindOne(ctx context.Context, name string, f store.Filter) (document.Document, error) {
	clause, args, err := where(f)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT id, doc FROM %s WHERE %s ORDER BY created_at, id LIMIT 1", table(name), clause)
	var id string
	var raw []byte
	err = s.db.DB.QueryRowContext(ctx, query, args...).Scan(&id, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding one in %s: %w", name, err)
	}
	return decode(id, raw)
}

func (s *Store) FindByID(ctx context.Context, name, id string) (document.Document, error) {
	if _, err := bson.ObjectIDFromHex(id); err != nil {
		return nil, store.ErrNotFound
	}
	var raw []byte
	query := fmt.Sprintf("SELECT doc FROM %s WHERE id = $1", table(name))
	err := s.db.DB.QueryRowContext(ctx, query, strings.ToLower(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding %s %s: %w", name, id, err)
	}
	return decode(strings.ToLower(id), raw)
}

func (s *Store) FindByIDs(ctx context.Context, name string, ids []string) ([]document.Document, error) {
	if len(ids) == 0 {
		return []document.Document{}, nil
	}
	query := fmt.Sprintf("SELECT id, doc FROM %s WHERE id = ANY($1) ORDER BY created_at, id", table(name))
	rows, err := s.db.DB.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("finding ids in %s: %w", name, err)
	}
	return scanDocs(rows)
}

func (s *Store) Count(ctx context.Context, name string, f store.Filter) (int64, error) {
	clause, args, err := where(f)
	if err != nil {
		return 0, err
	}
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table(name), clause)
	if err := s.db.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting in %s: %w", name, err)
	}
	return n, nil
}

func (s *Store) Create(ctx context.Context, name string, doc document.Document) (document.Document, error) {
	id := bson.NewObjectID().Hex()
	body, err := encode(doc)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("INSERT INTO %s (id, doc) VALUES ($1, $2::jsonb) RETURNING doc", table(name))
	var raw []byte
	if err := s.db.DB.QueryRowContext(ctx, query, id, body).Scan(&raw); err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, fmt.Errorf("inserting into %s: %w", name, store.ErrDuplicateKey)
		}
		return nil, fmt.Errorf("inserting into %s: %w", name, err)
	}
	return decode(id, raw)
}

func (s *Store) UpdateByID(ctx context.Context, name, id string, fields document.Document) (document.Document, error) {
	if _, err := bson.ObjectIDFromHex(id); err != nil {
		return nil, store.ErrNotFound
	}
	id = strings.ToLower(id)
	patch, err := encode(fields)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("UPDATE %s SET doc = doc || $2::jsonb WHERE id = $1 RETURNING doc", table(name))
	var raw []byte
	err = s.db.DB.QueryRowContext(ctx, query, id, patch).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, store.ErrNotFound
	case postgres.IsUniqueViolation(err):
		return nil, fmt.Errorf("updating %s %s: %w", name, id, store.ErrDuplicateKey)
	case err != nil:
		return nil, fmt.Errorf("updating %s %s: %w", name, id, err)
	}
	return decode(id, raw)
}

func (s *Store) RemoveByID(ctx context.Context, name, id string) (document.Document, error) {
	if _, err := bson.ObjectIDFromHex(id); err != nil {
		return nil, store.ErrNotFound
	}
	id = strings.ToLower(id)
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1 RETURNING doc", table(name))
	var raw []byte
	err := s.db.DB.QueryRowContext(ctx, query, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("removing %s %s: %w", name, id, err)
	}
	return decode(id, raw)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close(context.Context) error {
	return s.db.Close()
}
