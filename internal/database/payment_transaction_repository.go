package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/smarttransit/afc-backend/internal/models"
)

// PaymentTransactionRepository records every gateway interaction
type PaymentTransactionRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentTransactionRepository creates a new payment transaction repository
func NewPaymentTransactionRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentTransactionRepository {
	return &PaymentTransactionRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new transaction entry.
// Gateway interactions must never go unrecorded, so failures are logged loudly.
func (r *PaymentTransactionRepository) Log(ctx context.Context, tx *models.PaymentTransaction) error {
	if tx == nil {
		return fmt.Errorf("transaction entry cannot be nil")
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_transactions (
			id, payment_id, type, gateway, amount,
			gateway_transaction_id, gateway_status, success,
			request_payload, response_payload, http_status_code, error_message,
			idempotency_key, is_duplicate, processing_time_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16
		)`

	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		tx.ID, tx.PaymentID, tx.Type, tx.Gateway, tx.Amount,
		tx.GatewayTransactionID, tx.GatewayStatus, tx.Success,
		tx.RequestPayload, tx.ResponsePayload, tx.HTTPStatusCode, tx.ErrorMessage,
		tx.IdempotencyKey, tx.IsDuplicate, tx.ProcessingTimeMs, tx.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"payment_id": tx.PaymentID,
			"type":       tx.Type,
			"gateway":    tx.Gateway,
		}).Error("CRITICAL: Failed to log payment transaction")
		return fmt.Errorf("failed to log payment transaction: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"payment_id":     tx.PaymentID,
		"type":           tx.Type,
	}).Debug("Payment transaction logged")

	return nil
}

// CheckDuplicate reports whether a webhook with this idempotency key was
// already processed for the payment
func (r *PaymentTransactionRepository) CheckDuplicate(ctx context.Context, paymentID uuid.UUID, idempotencyKey string) (bool, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM payment_transactions
		WHERE payment_id = $1
		AND type = 'webhook'
		AND idempotency_key = $2
		AND is_duplicate = FALSE`

	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &count, query, paymentID, idempotencyKey); err != nil {
		return false, fmt.Errorf("failed to check duplicate: %w", err)
	}
	return count > 0, nil
}

// ListByPayment retrieves all transactions for a payment
func (r *PaymentTransactionRepository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*models.PaymentTransaction, error) {
	query := `
		SELECT id, payment_id, type, gateway, amount,
			gateway_transaction_id, gateway_status, success,
			request_payload, response_payload, http_status_code, error_message,
			idempotency_key, is_duplicate, processing_time_ms, created_at
		FROM payment_transactions
		WHERE payment_id = $1
		ORDER BY created_at ASC`

	var txs []*models.PaymentTransaction
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &txs, query, paymentID); err != nil {
		return nil, fmt.Errorf("failed to list payment transactions: %w", err)
	}
	return txs, nil
}
