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

const paymentColumns = `
	id, payment_number, booking_id, booking_number, user_id, status, method, gateway, currency,
	amount, service_fee, gateway_fee, tax_amount, total_amount,
	refunded_amount, refund_count, is_refundable,
	gateway_payment_id, gateway_reference, payment_url, failure_reason,
	expires_at, completed_at, version, is_deleted, created_at, updated_at`

const refundColumns = `id, payment_id, amount, status, reason, requested_by, gateway_refund_id, created_at`

// PaymentRepository handles payment and refund persistence
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// ============================================================================
// WRITES
// ============================================================================

// Create inserts a payment. A partial unique index on booking_id over active
// statuses backs the one-active-payment-per-booking rule.
func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17,
			$18, $19, $20, $21,
			$22, $23, $24, $25, $26, $27
		)`

	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		p.ID, p.PaymentNumber, p.BookingID, p.BookingNumber, p.UserID, p.Status, p.Method, p.Gateway, p.Currency,
		p.Amount, p.ServiceFee, p.GatewayFee, p.TaxAmount, p.TotalAmount,
		p.RefundedAmount, p.RefundCount, p.IsRefundable,
		p.GatewayPaymentID, p.GatewayReference, p.PaymentURL, p.FailureReason,
		p.ExpiresAt, p.CompletedAt, p.Version, p.IsDeleted, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError("create payment", err)
	}
	return nil
}

// Update writes the mutable payment columns under an optimistic version check
func (r *PaymentRepository) Update(ctx context.Context, p *models.Payment) error {
	query := `
		UPDATE payments SET
			status = $1,
			refunded_amount = $2,
			refund_count = $3,
			gateway_payment_id = $4,
			gateway_reference = $5,
			payment_url = $6,
			failure_reason = $7,
			completed_at = $8,
			updated_at = $9,
			version = version + 1
		WHERE id = $10 AND version = $11 AND is_deleted = FALSE`

	res, err := executor(ctx, r.db).ExecContext(ctx, query,
		p.Status, p.RefundedAmount, p.RefundCount,
		p.GatewayPaymentID, p.GatewayReference, p.PaymentURL, p.FailureReason,
		p.CompletedAt, p.UpdatedAt, p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if err := expectOneRow(res, "payment"); err != nil {
		return err
	}
	p.Version++
	return nil
}

// CreateRefund appends a refund row
func (r *PaymentRepository) CreateRefund(ctx context.Context, refund *models.PaymentRefund) error {
	query := `INSERT INTO payment_refunds (` + refundColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		refund.ID, refund.PaymentID, refund.Amount, refund.Status, refund.Reason,
		refund.RequestedBy, refund.GatewayRefundID, refund.CreatedAt,
	)
	if err != nil {
		return wrapWriteError("create payment refund", err)
	}
	return nil
}

// UpdateRefund records the gateway outcome of a refund
func (r *PaymentRepository) UpdateRefund(ctx context.Context, refund *models.PaymentRefund) error {
	query := `UPDATE payment_refunds SET status = $1, gateway_refund_id = $2 WHERE id = $3`

	res, err := executor(ctx, r.db).ExecContext(ctx, query, refund.Status, refund.GatewayRefundID, refund.ID)
	if err != nil {
		return fmt.Errorf("failed to update payment refund: %w", err)
	}
	return expectOneRow(res, "payment refund")
}

// ============================================================================
// READS
// ============================================================================

// GetByID returns a payment, or nil if it does not exist
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND is_deleted = FALSE`, id)
}

// GetByIDForUpdate locks the payment row, returning nil if it is already locked
func (r *PaymentRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE id = $1 AND is_deleted = FALSE
		FOR UPDATE SKIP LOCKED`, id)
}

// GetByNumber returns a payment by its payment number
func (r *PaymentRepository) GetByNumber(ctx context.Context, number string) (*models.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_number = $1 AND is_deleted = FALSE`, number)
}

// GetByGatewayPaymentID resolves a gateway's own id back to our payment
func (r *PaymentRepository) GetByGatewayPaymentID(ctx context.Context, gateway, gatewayPaymentID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE gateway = $1 AND gateway_payment_id = $2 AND is_deleted = FALSE`

	var p models.Payment
	err := sqlx.GetContext(ctx, executor(ctx, r.db), &p, query, gateway, gatewayPaymentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by gateway id: %w", err)
	}
	return &p, nil
}

func (r *PaymentRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Payment, error) {
	var p models.Payment
	err := sqlx.GetContext(ctx, executor(ctx, r.db), &p, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// ListByBooking returns every payment attempt for a booking, newest first
func (r *PaymentRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE booking_id = $1 AND is_deleted = FALSE
		ORDER BY created_at DESC`

	var payments []*models.Payment
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &payments, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to list payments by booking: %w", err)
	}
	return payments, nil
}

// GetActiveByBooking returns the booking's active payment, if any
func (r *PaymentRepository) GetActiveByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE booking_id = $1 AND is_deleted = FALSE
			AND status NOT IN ('failed', 'cancelled', 'expired')
		ORDER BY created_at DESC
		LIMIT 1`

	var p models.Payment
	err := sqlx.GetContext(ctx, executor(ctx, r.db), &p, query, bookingID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active payment: %w", err)
	}
	return &p, nil
}

// ListRefunds returns a payment's refunds, oldest first
func (r *PaymentRepository) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]*models.PaymentRefund, error) {
	query := `SELECT ` + refundColumns + ` FROM payment_refunds WHERE payment_id = $1 ORDER BY created_at ASC`

	var refunds []*models.PaymentRefund
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &refunds, query, paymentID); err != nil {
		return nil, fmt.Errorf("failed to list payment refunds: %w", err)
	}
	return refunds, nil
}

// Search filters payments for the admin views
func (r *PaymentRepository) Search(ctx context.Context, params models.PaymentSearchParams) ([]*models.Payment, int, error) {
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
	if params.Gateway != "" {
		where = append(where, "gateway = "+arg(params.Gateway))
	}
	if params.PaymentNumber != "" {
		where = append(where, "payment_number = "+arg(params.PaymentNumber))
	}
	if params.BookingID != nil {
		where = append(where, "booking_id = "+arg(*params.BookingID))
	}
	if params.From != nil {
		where = append(where, "created_at >= "+arg(*params.From))
	}
	if params.To != nil {
		where = append(where, "created_at <= "+arg(*params.To))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &total, `SELECT COUNT(*) FROM payments WHERE `+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + clause +
		` ORDER BY created_at DESC LIMIT ` + arg(params.Limit) + ` OFFSET ` + arg(params.Offset)

	var payments []*models.Payment
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &payments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to search payments: %w", err)
	}
	return payments, total, nil
}

// ListExpiredPending returns ids of pending or processing payments past expiry
func (r *PaymentRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM payments
		WHERE status IN ('pending', 'processing') AND expires_at < $1 AND is_deleted = FALSE
		ORDER BY expires_at ASC
		LIMIT $2`

	var ids []uuid.UUID
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &ids, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired payments: %w", err)
	}
	return ids, nil
}

// Stats aggregates payments per status
func (r *PaymentRepository) Stats(ctx context.Context) ([]models.StatusCount, error) {
	query := `
		SELECT status, COUNT(*) AS count, COALESCE(SUM(total_amount), 0) AS amount
		FROM payments
		WHERE is_deleted = FALSE
		GROUP BY status
		ORDER BY status`

	var rows []models.StatusCount
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &rows, query); err != nil {
		return nil, fmt.Errorf("failed to get payment stats: %w", err)
	}
	return rows, nil
}
