package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/smarttransit/afc-backend/internal/models"
)

// HistoryRepository appends to and reads one lifecycle's audit table.
// Rows are only ever inserted; there is no update or delete path.
type HistoryRepository struct {
	db       *sqlx.DB
	table    string
	entityFK string
}

// NewBookingHistoryRepository returns the booking_history repository
func NewBookingHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db, table: "booking_history", entityFK: "booking_id"}
}

// NewPaymentHistoryRepository returns the payment_history repository
func NewPaymentHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db, table: "payment_history", entityFK: "payment_id"}
}

// NewTicketHistoryRepository returns the ticket_history repository
func NewTicketHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db, table: "ticket_history", entityFK: "ticket_id"}
}

// Append writes one history row, inside the caller's transaction when present
func (r *HistoryRepository) Append(ctx context.Context, entry *models.HistoryEntry) error {
	if entry == nil {
		return fmt.Errorf("history entry cannot be nil")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, %s, from_status, to_status, action, actor, reason, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, r.table, r.entityFK)

	var from interface{}
	if entry.FromStatus != "" {
		from = entry.FromStatus
	}

	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		entry.ID, entry.EntityID, from, entry.ToStatus, entry.Action,
		entry.Actor, entry.Reason, entry.Metadata, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", r.table, err)
	}
	return nil
}

// ListByEntity returns an entity's history, oldest first
func (r *HistoryRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.HistoryEntry, error) {
	query := fmt.Sprintf(`
		SELECT id, %s AS entity_id, COALESCE(from_status, '') AS from_status, to_status,
			action, actor, reason, metadata, created_at
		FROM %s
		WHERE %s = $1
		ORDER BY created_at ASC, id ASC`, r.entityFK, r.table, r.entityFK)

	var entries []*models.HistoryEntry
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &entries, query, entityID); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.table, err)
	}
	return entries, nil
}
