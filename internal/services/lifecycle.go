package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smarttransit/afc-backend/internal/errs"
	"github.com/smarttransit/afc-backend/internal/models"
)

// clock is swapped in tests
type clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// enqueue writes an outbox message inside the caller's transaction
func enqueue(ctx context.Context, outbox OutboxWriter, messageType string, aggregateID uuid.UUID, payload models.JSONB, now time.Time) error {
	m := models.NewOutboxMessage(messageType, aggregateID, payload)
	m.NextAttemptAt = now
	m.CreatedAt = now
	m.UpdatedAt = now
	if err := outbox.Create(ctx, m); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", messageType, err)
	}
	return nil
}

func invalidState(entity, number string, from, to interface{}) error {
	return errs.Conflict("invalid_state", "%s %s cannot move from %v to %v", entity, number, from, to)
}

// payloadUUID reads a uuid stored as a string in an outbox payload
func payloadUUID(p models.JSONB, key string) (uuid.UUID, error) {
	raw, ok := p[key].(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("payload field %s missing", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("payload field %s: %w", key, err)
	}
	return id, nil
}

func payloadFloat(p models.JSONB, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// startOfDay truncates t to midnight in its own location
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// rawToJSONB keeps a gateway body for the transaction log; bodies that are
// not JSON objects are stored under "body"
func rawToJSONB(raw json.RawMessage) models.JSONB {
	if len(raw) == 0 {
		return nil
	}
	var out models.JSONB
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.JSONB{"body": string(raw)}
	}
	return out
}
