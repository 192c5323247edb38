package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/smarttransit/afc-backend/internal/models"
)

const outboxColumns = `
	id, message_type, aggregate_id, payload, status, attempts, next_attempt_at,
	last_error, created_at, updated_at, processed_at`

// OutboxRepository stores saga commands and lifecycle events written in the
// same transaction as the state change that produced them
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Create inserts a message, joining the caller's transaction when present
func (r *OutboxRepository) Create(ctx context.Context, m *models.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (` + outboxColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		m.ID, m.MessageType, m.AggregateID, m.Payload, m.Status, m.Attempts, m.NextAttemptAt,
		m.LastError, m.CreatedAt, m.UpdatedAt, m.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox message: %w", err)
	}
	return nil
}

// ClaimBatch moves up to limit due messages to processing and returns them.
// SKIP LOCKED lets several relays share the table without double delivery.
func (r *OutboxRepository) ClaimBatch(ctx context.Context, now time.Time, limit int) ([]*models.OutboxMessage, error) {
	query := `
		WITH claimed AS (
			SELECT id
			FROM outbox_messages
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_messages
		SET status = 'processing', updated_at = $1
		WHERE id IN (SELECT id FROM claimed)
		RETURNING ` + outboxColumns

	var messages []*models.OutboxMessage
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &messages, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to claim outbox batch: %w", err)
	}
	return messages, nil
}

// MarkProcessed finishes a message
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE outbox_messages
		SET status = 'processed', processed_at = $1, updated_at = $1
		WHERE id = $2`

	if _, err := executor(ctx, r.db).ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("failed to mark outbox message processed: %w", err)
	}
	return nil
}

// Reschedule returns a failed message to the queue for a later attempt
func (r *OutboxRepository) Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	query := `
		UPDATE outbox_messages
		SET status = 'pending', attempts = $1, next_attempt_at = $2, last_error = $3, updated_at = NOW()
		WHERE id = $4`

	if _, err := executor(ctx, r.db).ExecContext(ctx, query, attempts, next, lastErr, id); err != nil {
		return fmt.Errorf("failed to reschedule outbox message: %w", err)
	}
	return nil
}

// Close ends a message that will not be retried, as compensated or dead
func (r *OutboxRepository) Close(ctx context.Context, id uuid.UUID, status models.OutboxStatus, attempts int, lastErr string, at time.Time) error {
	query := `
		UPDATE outbox_messages
		SET status = $1, attempts = $2, last_error = $3, processed_at = $4, updated_at = $4
		WHERE id = $5`

	if _, err := executor(ctx, r.db).ExecContext(ctx, query, status, attempts, lastErr, at, id); err != nil {
		return fmt.Errorf("failed to close outbox message: %w", err)
	}
	return nil
}

// ReleaseStale puts messages stuck in processing (relay crashed mid-flight)
// back in the queue
func (r *OutboxRepository) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE outbox_messages
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1`

	res, err := executor(ctx, r.db).ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale outbox messages: %w", err)
	}
	return res.RowsAffected()
}

// ListByAggregate returns every message for one entity, oldest first
func (r *OutboxRepository) ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]*models.OutboxMessage, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox_messages WHERE aggregate_id = $1 ORDER BY created_at ASC`

	var messages []*models.OutboxMessage
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &messages, query, aggregateID); err != nil {
		return nil, fmt.Errorf("failed to list outbox messages: %w", err)
	}
	return messages, nil
}
