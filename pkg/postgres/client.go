// Package postgres wraps a lib/pq connection pool with the helpers the JSONB
// document store needs: transactional schema statements and classification
// of constraint errors.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/oresults/oresults/pkg/config"
	"github.com/oresults/oresults/pkg/resilience"
)

// SQLSTATE codes the store reacts to.
const (
	codeUniqueViolation    = "23505"
	codeUndefinedTable     = "42P01"
	codeInvalidPassword    = "28P01"
	codeInvalidAuth        = "28000"
	codeInvalidCatalogName = "3D000"
)

type Client struct {
	DB     *sql.DB
	logger *slog.Logger
}

// New opens the pool described by cfg and verifies it answers within five
// seconds. Rejected credentials or an unknown database come back as
// resilience.Permanent errors.
func New(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("opening postgres connection: %w", err))
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		err = fmt.Errorf("pinging postgres %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
		if isConfigError(err) {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}
	c := FromDB(db)
	c.logger.Info("connected", "host", cfg.Host, "database", cfg.Database, "max_open", cfg.MaxOpenConns)
	return c, nil
}

// FromDB wraps an already opened handle.
func FromDB(db *sql.DB) *Client {
	return &Client{DB: db, logger: slog.Default().With("component", "postgres")}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// InTx runs fn in a transaction, rolling back when fn fails.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Migrate applies the statements in order inside one transaction. They must
// be idempotent (IF NOT EXISTS) since every start runs them again.
func (c *Client) Migrate(ctx context.Context, statements ...string) error {
	return c.InTx(ctx, func(tx *sql.Tx) error {
		for i, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement %d: %w", i+1, err)
			}
		}
		return nil
	})
}

// IsUniqueViolation reports whether err is a unique index conflict.
func IsUniqueViolation(err error) bool {
	return hasCode(err, codeUniqueViolation)
}

// IsUndefinedTable reports whether err names a table that does not exist.
func IsUndefinedTable(err error) bool {
	return hasCode(err, codeUndefinedTable)
}

// isConfigError reports failures that retrying cannot fix.
func isConfigError(err error) bool {
	return hasCode(err, codeInvalidPassword) || hasCode(err, codeInvalidAuth) || hasCode(err, codeInvalidCatalogName)
}

func hasCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}
