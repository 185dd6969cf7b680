package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/oresults/oresults/internal/cache"
	"github.com/oresults/oresults/internal/events"
	"github.com/oresults/oresults/internal/resource"
	"github.com/oresults/oresults/internal/router"
	"github.com/oresults/oresults/internal/service"
	"github.com/oresults/oresults/internal/store"
	"github.com/oresults/oresults/internal/store/memstore"
	"github.com/oresults/oresults/internal/store/mongostore"
	"github.com/oresults/oresults/internal/store/pgstore"
	"github.com/oresults/oresults/pkg/config"
	"github.com/oresults/oresults/pkg/health"
	"github.com/oresults/oresults/pkg/kafka"
	"github.com/oresults/oresults/pkg/logger"
	"github.com/oresults/oresults/pkg/metrics"
	"github.com/oresults/oresults/pkg/middleware"
	pkgmongo "github.com/oresults/oresults/pkg/mongo"
	"github.com/oresults/oresults/pkg/postgres"
	"github.com/oresults/oresults/pkg/ratelimit"
	pkgredis "github.com/oresults/oresults/pkg/redis"
	"github.com/oresults/oresults/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging)
	slog.Info("starting o-results api", "port", cfg.Server.Port, "store", cfg.Store.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		if cfg.Metrics.Port > 0 && cfg.Metrics.Port != cfg.Server.Port {
			shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
			defer shutdownMetrics(context.Background())
		}
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			slog.Error("store close error", "error", err)
		}
	}()

	for _, res := range resource.All() {
		err := resilience.WithTimeout(ctx, cfg.Mongo.Timeout, "ensure "+res.Collection, func(ctx context.Context) error {
			return st.EnsureCollection(ctx, res.Collection, res.UniqueKeys)
		})
		if err != nil {
			slog.Error("failed to prepare collection", "collection", res.Collection, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("collections ready", "count", len(resource.All()))

	checker := health.NewChecker(cfg.Server.RequestTimeout)
	checker.Register("store", health.Ping(st.Ping))

	svcCfg := service.Config{Metrics: m, BatchLimit: cfg.Batch.MaxConcurrency}

	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, document caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			svcCfg.Cache = cache.New(redisClient, cfg.Redis)
			checker.Register("redis", health.Optional(health.Ping(redisClient.Ping)))
			slog.Info("document cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if cfg.Kafka.Enabled {
		breaker := resilience.NewCircuitBreaker("kafka-changes", resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				if m != nil {
					m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				}
			},
		})
		publisher := events.NewKafkaPublisher(kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Changes), breaker)
		defer publisher.Close()
		svcCfg.Publisher = publisher
		checker.Register("kafka", health.Breaker(breaker))
		slog.Info("change events enabled", "topic", cfg.Kafka.Topics.Changes, "brokers", cfg.Kafka.Brokers)
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		defer limiter.Stop()
		slog.Info("rate limiting enabled", "requests", cfg.RateLimit.Requests, "window", cfg.RateLimit.Window)
	}

	svc := service.New(st, svcCfg)
	api := router.New(svc, router.Options{
		Metrics:        m,
		Checker:        checker,
		Limiter:        limiter,
		CORS:           middleware.DefaultCORSConfig(),
		RequestTimeout: cfg.Server.RequestTimeout,
		Tracing:        cfg.Tracing.Enabled,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("api listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("api stopped")
}

// openStore connects to the configured backend, retrying while the database
// comes up. Misconfiguration fails on the first attempt.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	retry := resilience.RetryConfig{MaxAttempts: cfg.Store.ConnectRetries}
	switch cfg.Store.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory store, data will not survive a restart")
		return memstore.New(), nil
	case config.DriverPostgres:
		var db *postgres.Client
		err := resilience.Retry(ctx, "postgres-connect", retry, func(ctx context.Context) error {
			var err error
			db, err = postgres.New(ctx, cfg.Postgres)
			return err
		})
		if err != nil {
			return nil, err
		}
		return pgstore.New(db), nil
	default:
		var client *pkgmongo.Client
		err := resilience.Retry(ctx, "mongo-connect", retry, func(ctx context.Context) error {
			var err error
			client, err = pkgmongo.New(ctx, cfg.Mongo)
			return err
		})
		if err != nil {
			return nil, err
		}
		return mongostore.New(client), nil
	}
}
