package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/smarttransit/afc-backend/internal/models"
)

const ticketColumns = `
	id, ticket_number, booking_id, booking_number, payment_id, user_id,
	passenger_name, passenger_count, ticket_type, route_id, source_station_id, destination_station_id,
	travel_date, valid_from, valid_until, max_usage_count, usage_count, first_used_at, last_used_at,
	qr_payload, qr_hash, qr_version, transfer_count, max_transfers, is_refundable,
	fare_amount, currency, status, status_reason, activated_at, cancelled_at,
	version, is_deleted, created_at, updated_at`

const qrColumns = `id, ticket_id, version, payload, hash, status, previous_qr_id, next_qr_id, invalidated_at, created_at`

// TicketRepository handles ticket and QR code persistence
type TicketRepository struct {
	db *sqlx.DB
}

// NewTicketRepository creates a new ticket repository
func NewTicketRepository(db *sqlx.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

// ============================================================================
// TICKETS
// ============================================================================

// Create inserts a ticket. booking_id and qr_hash carry unique constraints.
func (r *TicketRepository) Create(ctx context.Context, t *models.Ticket) error {
	query := `
		INSERT INTO tickets (` + ticketColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24, $25,
			$26, $27, $28, $29, $30, $31,
			$32, $33, $34, $35
		)`

	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		t.ID, t.TicketNumber, t.BookingID, t.BookingNumber, t.PaymentID, t.UserID,
		t.PassengerName, t.PassengerCount, t.TicketType, t.RouteID, t.SourceStationID, t.DestinationStationID,
		t.TravelDate, t.ValidFrom, t.ValidUntil, t.MaxUsageCount, t.UsageCount, t.FirstUsedAt, t.LastUsedAt,
		t.QRPayload, t.QRHash, t.QRVersion, t.TransferCount, t.MaxTransfers, t.IsRefundable,
		t.FareAmount, t.Currency, t.Status, t.StatusReason, t.ActivatedAt, t.CancelledAt,
		t.Version, t.IsDeleted, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError("create ticket", err)
	}
	return nil
}

// Update writes the mutable ticket columns under an optimistic version check
func (r *TicketRepository) Update(ctx context.Context, t *models.Ticket) error {
	query := `
		UPDATE tickets SET
			status = $1,
			status_reason = $2,
			usage_count = $3,
			first_used_at = $4,
			last_used_at = $5,
			qr_payload = $6,
			qr_hash = $7,
			qr_version = $8,
			transfer_count = $9,
			activated_at = $10,
			cancelled_at = $11,
			updated_at = $12,
			version = version + 1
		WHERE id = $13 AND version = $14 AND is_deleted = FALSE`

	res, err := executor(ctx, r.db).ExecContext(ctx, query,
		t.Status, t.StatusReason, t.UsageCount, t.FirstUsedAt, t.LastUsedAt,
		t.QRPayload, t.QRHash, t.QRVersion, t.TransferCount,
		t.ActivatedAt, t.CancelledAt, t.UpdatedAt, t.ID, t.Version,
	)
	if err != nil {
		return wrapWriteError("update ticket", err)
	}
	if err := expectOneRow(res, "ticket"); err != nil {
		return err
	}
	t.Version++
	return nil
}

// GetByID returns a ticket, or nil if it does not exist
func (r *TicketRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	return r.getOne(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1 AND is_deleted = FALSE`, id)
}

// GetByIDForUpdate locks the ticket row, returning nil if it is already locked
func (r *TicketRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	return r.getOne(ctx, `SELECT `+ticketColumns+` FROM tickets
		WHERE id = $1 AND is_deleted = FALSE
		FOR UPDATE SKIP LOCKED`, id)
}

// GetByNumber returns a ticket by its ticket number
func (r *TicketRepository) GetByNumber(ctx context.Context, number string) (*models.Ticket, error) {
	return r.getOne(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_number = $1 AND is_deleted = FALSE`, number)
}

// GetByBooking returns the ticket issued for a booking
func (r *TicketRepository) GetByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Ticket, error) {
	return r.getOne(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE booking_id = $1 AND is_deleted = FALSE`, bookingID)
}

// GetByQRHash resolves a QR hash through every issued version, so a gate can
// tell a superseded QR from an unknown one
func (r *TicketRepository) GetByQRHash(ctx context.Context, hash string) (*models.Ticket, error) {
	return r.getOne(ctx, `SELECT `+prefixed("t", ticketColumns)+` FROM tickets t
		JOIN ticket_qr_codes q ON q.ticket_id = t.id
		WHERE q.hash = $1 AND t.is_deleted = FALSE`, hash)
}

func (r *TicketRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Ticket, error) {
	var t models.Ticket
	err := sqlx.GetContext(ctx, executor(ctx, r.db), &t, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return &t, nil
}

// Search filters tickets for the admin views
func (r *TicketRepository) Search(ctx context.Context, params models.TicketSearchParams) ([]*models.Ticket, int, error) {
	params.Normalize()

	where := []string{"is_deleted = FALSE"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(params.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(models.StringArray(params.Statuses))+")")
	}
	if params.TicketNumber != "" {
		where = append(where, "ticket_number = "+arg(params.TicketNumber))
	}
	if params.StationID != "" {
		p := arg(params.StationID)
		where = append(where, "(source_station_id = "+p+" OR destination_station_id = "+p+")")
	}
	if params.UserID != nil {
		where = append(where, "user_id = "+arg(*params.UserID))
	}
	if params.From != nil {
		where = append(where, "valid_from >= "+arg(*params.From))
	}
	if params.To != nil {
		where = append(where, "valid_from <= "+arg(*params.To))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &total, `SELECT COUNT(*) FROM tickets WHERE `+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count tickets: %w", err)
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE ` + clause +
		` ORDER BY created_at DESC LIMIT ` + arg(params.Limit) + ` OFFSET ` + arg(params.Offset)

	var tickets []*models.Ticket
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &tickets, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to search tickets: %w", err)
	}
	return tickets, total, nil
}

// ListExpirable returns ids of unused tickets whose validity window has closed
func (r *TicketRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM tickets
		WHERE status IN ('generated', 'active', 'suspended') AND valid_until < $1 AND is_deleted = FALSE
		ORDER BY valid_until ASC
		LIMIT $2`

	var ids []uuid.UUID
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &ids, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list expirable tickets: %w", err)
	}
	return ids, nil
}

// Stats aggregates tickets per status
func (r *TicketRepository) Stats(ctx context.Context) ([]models.StatusCount, error) {
	query := `
		SELECT status, COUNT(*) AS count, COALESCE(SUM(fare_amount), 0) AS amount
		FROM tickets
		WHERE is_deleted = FALSE
		GROUP BY status
		ORDER BY status`

	var rows []models.StatusCount
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &rows, query); err != nil {
		return nil, fmt.Errorf("failed to get ticket stats: %w", err)
	}
	return rows, nil
}

// ============================================================================
// QR CODES
// ============================================================================

// CreateQRCode inserts a QR version
func (r *TicketRepository) CreateQRCode(ctx context.Context, qr *models.TicketQRCode) error {
	query := `INSERT INTO ticket_qr_codes (` + qrColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		qr.ID, qr.TicketID, qr.Version, qr.Payload, qr.Hash, qr.Status,
		qr.PreviousQRID, qr.NextQRID, qr.InvalidatedAt, qr.CreatedAt,
	)
	if err != nil {
		return wrapWriteError("create ticket qr code", err)
	}
	return nil
}

// GetActiveQRCode returns the ticket's single active QR version
func (r *TicketRepository) GetActiveQRCode(ctx context.Context, ticketID uuid.UUID) (*models.TicketQRCode, error) {
	query := `SELECT ` + qrColumns + ` FROM ticket_qr_codes WHERE ticket_id = $1 AND status = 'active'`

	var qr models.TicketQRCode
	err := sqlx.GetContext(ctx, executor(ctx, r.db), &qr, query, ticketID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active qr code: %w", err)
	}
	return &qr, nil
}

// InvalidateQRCode retires a QR version and links it to its successor
func (r *TicketRepository) InvalidateQRCode(ctx context.Context, id uuid.UUID, nextID uuid.UUID, at time.Time) error {
	query := `
		UPDATE ticket_qr_codes
		SET status = 'invalidated', next_qr_id = $1, invalidated_at = $2
		WHERE id = $3 AND status = 'active'`

	res, err := executor(ctx, r.db).ExecContext(ctx, query, nextID, at, id)
	if err != nil {
		return fmt.Errorf("failed to invalidate qr code: %w", err)
	}
	return expectOneRow(res, "ticket qr code")
}

// ListQRCodes returns every QR version of a ticket, oldest first
func (r *TicketRepository) ListQRCodes(ctx context.Context, ticketID uuid.UUID) ([]*models.TicketQRCode, error) {
	query := `SELECT ` + qrColumns + ` FROM ticket_qr_codes WHERE ticket_id = $1 ORDER BY version ASC`

	var codes []*models.TicketQRCode
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &codes, query, ticketID); err != nil {
		return nil, fmt.Errorf("failed to list qr codes: %w", err)
	}
	return codes, nil
}

// prefixed qualifies a column list with a table alias
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
