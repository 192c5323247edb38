// Package events publishes lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is the envelope published for every lifecycle event.
// Payload is kept as the raw JSON written to the outbox.
type Message struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Producer    string          `json:"producer"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

// Publisher sends event envelopes to the event stream
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
	Close() error
}

// Config holds producer settings
type Config struct {
	Brokers []string
	Topic   string
}

// Producer publishes events with kafka-go. Messages are keyed by aggregate
// id so every event of one booking, payment or ticket lands on one partition.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a synchronous Kafka producer
func NewProducer(cfg Config) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            5,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: w}
}

// Publish implements Publisher
func (p *Producer) Publish(ctx context.Context, msg *Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.AggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Topic returns the destination topic
func (p *Producer) Topic() string {
	return p.writer.Topic
}

// Close flushes and closes the writer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Discard is used when Kafka is disabled. Events stay in the outbox as
// processed rows.
type Discard struct{}

// Publish implements Publisher
func (Discard) Publish(ctx context.Context, msg *Message) error { return nil }

// Close implements Publisher
func (Discard) Close() error { return nil }
