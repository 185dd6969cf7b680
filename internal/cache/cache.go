package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oresults/oresults/internal/document"
	"github.com/oresults/oresults/pkg/config"
	pkgredis "github.com/oresults/oresults/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "doc:"

// DocumentCache keeps single documents by collection and identifier in Redis.
// Concurrent misses for the same key share one load.
type DocumentCache struct {
	client *pkgredis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

func New(client *pkgredis.Client, cfg config.RedisConfig) *DocumentCache {
	return &DocumentCache{
		client: client,
		ttl:    cfg.CacheTTL,
		logger: slog.Default().With("component", "document-cache"),
	}
}

func (c *DocumentCache) Get(ctx context.Context, collection, id string) (document.Document, bool) {
	key := buildKey(collection, id)
	data, found, err := c.client.Get(ctx, key)
	if err != nil {
		c.logger.Error("cache get failed", "key", key, "error", err)
	}
	if err != nil || !found {
		return nil, false
	}
	var doc document.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return doc, true
}

func (c *DocumentCache) Set(ctx context.Context, collection, id string, doc document.Document) {
	key := buildKey(collection, id)
	data, err := json.Marshal(doc)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrLoad returns the cached document or calls load once per key across
// concurrent callers, caching a successful result.
func (c *DocumentCache) GetOrLoad(
	ctx context.Context,
	collection, id string,
	load func() (document.Document, error),
) (document.Document, bool, error) {
	if doc, ok := c.Get(ctx, collection, id); ok {
		return doc, true, nil
	}
	val, err, _ := c.group.Do(buildKey(collection, id), func() (any, error) {
		doc, err := load()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, collection, id, doc)
		return doc, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(document.Document).Clone(), false, nil
}

// Invalidate drops one cached document.
func (c *DocumentCache) Invalidate(ctx context.Context, collection, id string) error {
	if err := c.client.Del(ctx, buildKey(collection, id)); err != nil {
		return fmt.Errorf("invalidating %s %s: %w", collection, id, err)
	}
	return nil
}

func buildKey(collection, id string) string {
	return keyPrefix + collection + ":" + id
}
