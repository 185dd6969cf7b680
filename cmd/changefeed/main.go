package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/oresults/oresults/internal/events"
	"github.com/oresults/oresults/pkg/config"
	"github.com/oresults/oresults/pkg/kafka"
	"github.com/oresults/oresults/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	resourceFilter := flag.String("resource", "", "only log changes to this collection")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging)
	slog.Info("starting change feed",
		"brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.Topics.Changes,
		"group", cfg.Kafka.ConsumerGroup,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Changes, handleChange(*resourceFilter))
	if err := consumer.Run(ctx); err != nil {
		slog.Error("change feed error", "error", err)
		os.Exit(1)
	}
	slog.Info("change feed stopped")
}

// handleChange logs each change. Undecodable records are logged and
// committed so one bad message cannot stall the partition.
func handleChange(only string) kafka.Handler {
	log := logger.WithComponent("changefeed")
	return func(ctx context.Context, rec kafka.Record) error {
		change, err := kafka.DecodeJSON[events.Change](rec.Value)
		if err != nil {
			log.Warn("skipping undecodable change", "partition", rec.Partition, "offset", rec.Offset, "error", err)
			return nil
		}
		if only != "" && change.Resource != only {
			return nil
		}
		log.Info("document "+string(change.Type),
			"resource", change.Resource,
			"id", change.ID,
			"request_id", change.RequestID,
			"at", change.At,
			"active", change.Document.Active(),
		)
		return nil
	}
}
