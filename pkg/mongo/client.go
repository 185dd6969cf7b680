// Package mongo opens the MongoDB connection used by the document store.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/oresults/oresults/pkg/config"
	"github.com/oresults/oresults/pkg/resilience"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

type Client struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// New connects and pings the primary. A URI the driver rejects is returned
// as a resilience.Permanent error; an unreachable server is not.
func New(ctx context.Context, cfg config.MongoConfig) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("o-results").
		SetConnectTimeout(cfg.Timeout).
		SetServerSelectionTimeout(cfg.Timeout)
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("connecting to mongo: %w", err))
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	return &Client{Client: client, DB: client.Database(cfg.Database)}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx, readpref.Primary())
}

func (c *Client) Close(ctx context.Context) error {
	return c.Client.Disconnect(ctx)
}
