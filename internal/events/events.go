// Package events publishes document change notifications so that other
// services can follow writes without polling the store.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/oresults/oresults/internal/document"
	"github.com/oresults/oresults/pkg/kafka"
	"github.com/oresults/oresults/pkg/resilience"
)

type Type string

const (
	Created Type = "created"
	Updated Type = "updated"
	Deleted Type = "deleted"
)

// Change describes one persisted write.
type Change struct {
	Type      Type              `json:"type"`
	Resource  string            `json:"resource"`
	ID        string            `json:"id"`
	Document  document.Document `json:"document,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	At        time.Time         `json:"at"`
}

// Key is the partition key: all changes to one document stay ordered.
func (c Change) Key() string {
	return c.Resource + ":" + c.ID
}

type Publisher interface {
	Publish(ctx context.Context, change Change) error
	Close() error
}

// Noop discards every change.
type Noop struct{}

func (Noop) Publish(context.Context, Change) error { return nil }

func (Noop) Close() error { return nil }

type sender interface {
	Publish(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes changes to Kafka behind a circuit breaker so that a
// broker outage fails fast instead of stalling every write.
type KafkaPublisher struct {
	producer sender
	breaker  *resilience.CircuitBreaker
	logger   *slog.Logger
}

func NewKafkaPublisher(producer sender, breaker *resilience.CircuitBreaker) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		breaker:  breaker,
		logger:   slog.Default().With("component", "change-publisher"),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, change Change) error {
	msg := kafka.Message{
		Key:   change.Key(),
		Value: change,
		Headers: map[string]string{
			"event-type": string(change.Type),
			"resource":   change.Resource,
		},
	}
	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.producer.Publish(ctx, msg)
	})
}

// State exposes the breaker state for health checks.
func (p *KafkaPublisher) State() resilience.State {
	return p.breaker.GetState()
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
