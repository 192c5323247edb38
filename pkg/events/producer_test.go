package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducer(t *testing.T) {
	p := NewProducer(Config{Brokers: []string{"localhost:9092"}, Topic: "afc.lifecycle"})
	assert.Equal(t, "afc.lifecycle", p.Topic())
	require.NoError(t, p.Close())
}

func TestMessageEnvelope(t *testing.T) {
	msg := &Message{
		ID:          "1",
		Type:        "payment.completed",
		AggregateID: "agg",
		Producer:    "afc-backend",
		OccurredAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Payload:     json.RawMessage(`{"amount":210}`),
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id":"1","type":"payment.completed","aggregate_id":"agg","producer":"afc-backend",
		"occurred_at":"2026-03-01T10:00:00Z","payload":{"amount":210}
	}`, string(raw))
}

func TestDiscard(t *testing.T) {
	var p Publisher = Discard{}
	assert.NoError(t, p.Publish(context.Background(), &Message{Type: "ticket.used"}))
	assert.NoError(t, p.Close())
}
