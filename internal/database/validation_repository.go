package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/smarttransit/afc-backend/internal/models"
)

const validationColumns = `
	id, ticket_id, qr_hash, validation_type, result, is_valid, message,
	station_id, device_id, gate_id, operator_id, device_info, usage_after, validated_at`

const transferColumns = `
	id, ticket_id, from_validation_id, to_validation_id, from_station_id, to_station_id,
	from_station_name, to_station_name, transfer_number, elapsed_seconds, transferred_at, created_at`

// ValidationRepository stores gate decisions and transfers. Both tables are
// insert-only.
type ValidationRepository struct {
	db *sqlx.DB
}

// NewValidationRepository creates a new validation repository
func NewValidationRepository(db *sqlx.DB) *ValidationRepository {
	return &ValidationRepository{db: db}
}

// Create records one gate decision
func (r *ValidationRepository) Create(ctx context.Context, v *models.TicketValidation) error {
	query := `
		INSERT INTO ticket_validations (` + validationColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		v.ID, v.TicketID, v.QRHash, v.ValidationType, v.Result, v.IsValid, v.Message,
		v.StationID, v.DeviceID, v.GateID, v.OperatorID, v.DeviceInfo, v.UsageAfter, v.ValidatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ticket validation: %w", err)
	}
	return nil
}

// GetByID returns one validation, or nil
func (r *ValidationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TicketValidation, error) {
	query := `SELECT ` + validationColumns + ` FROM ticket_validations WHERE id = $1`

	var v models.TicketValidation
	err := sqlx.GetContext(ctx, executor(ctx, r.db), &v, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket validation: %w", err)
	}
	return &v, nil
}

// ListByTicket returns a ticket's validations, oldest first
func (r *ValidationRepository) ListByTicket(ctx context.Context, ticketID uuid.UUID) ([]*models.TicketValidation, error) {
	query := `SELECT ` + validationColumns + ` FROM ticket_validations WHERE ticket_id = $1 ORDER BY validated_at ASC`

	var out []*models.TicketValidation
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &out, query, ticketID); err != nil {
		return nil, fmt.Errorf("failed to list ticket validations: %w", err)
	}
	return out, nil
}

// CreateTransfer records a transfer. to_validation_id is unique so one entry
// scan can close at most one transfer.
func (r *ValidationRepository) CreateTransfer(ctx context.Context, t *models.TicketTransfer) error {
	query := `
		INSERT INTO ticket_transfers (` + transferColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		t.ID, t.TicketID, t.FromValidationID, t.ToValidationID, t.FromStationID, t.ToStationID,
		t.FromStationName, t.ToStationName, t.TransferNumber, t.ElapsedSeconds, t.TransferredAt, t.CreatedAt,
	)
	if err != nil {
		return wrapWriteError("create ticket transfer", err)
	}
	return nil
}

// ListTransfers returns a ticket's transfers, oldest first
func (r *ValidationRepository) ListTransfers(ctx context.Context, ticketID uuid.UUID) ([]*models.TicketTransfer, error) {
	query := `SELECT ` + transferColumns + ` FROM ticket_transfers WHERE ticket_id = $1 ORDER BY transferred_at ASC`

	var out []*models.TicketTransfer
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &out, query, ticketID); err != nil {
		return nil, fmt.Errorf("failed to list ticket transfers: %w", err)
	}
	return out, nil
}
