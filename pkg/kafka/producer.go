package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oresults/oresults/pkg/config"
	"github.com/segmentio/kafka-go"
)

// Message is the unit of data published to Kafka. Key selects the partition,
// Value is JSON-serialised and Headers travel as Kafka record headers.
type Message struct {
	Key     string
	Value   any
	Headers map[string]string
}

// Producer publishes JSON-encoded messages to one Kafka topic.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer creates a Producer for the given topic.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            3,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Producer{
		writer: w,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

func encode(m Message) (kafka.Message, error) {
	value, err := json.Marshal(m.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshaling message value: %w", err)
	}
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{Key: []byte(m.Key), Value: value, Headers: headers}, nil
}

// Publish writes messages synchronously in a single call.
func (p *Producer) Publish(ctx context.Context, messages ...Message) error {
	out := make([]kafka.Message, 0, len(messages))
	for _, m := range messages {
		km, err := encode(m)
		if err != nil {
			return err
		}
		out = append(out, km)
	}
	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		p.logger.Error("failed to publish", "count", len(out), "error", err)
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	p.logger.Debug("published", "count", len(out))
	return nil
}

// Close flushes pending writes and closes the underlying Kafka writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
