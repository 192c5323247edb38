package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the status of a payment
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusProcessing        PaymentStatus = "processing"
	PaymentStatusCompleted         PaymentStatus = "completed"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusCancelled         PaymentStatus = "cancelled"
	PaymentStatusExpired           PaymentStatus = "expired"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusRefunded          PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {
		PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed,
		PaymentStatusCancelled, PaymentStatusExpired,
	},
	PaymentStatusProcessing: {
		PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired,
	},
	PaymentStatusCompleted:         {PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
	PaymentStatusPartiallyRefunded: {PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
}

// CanTransitionTo reports whether next is a legal successor of s
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsActive reports whether the payment still covers its booking.
// Failed, cancelled and expired payments free the booking for a new attempt.
func (s PaymentStatus) IsActive() bool {
	switch s {
	case PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired:
		return false
	}
	return true
}

// IsSettled reports whether money has been captured
func (s PaymentStatus) IsSettled() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusPartiallyRefunded, PaymentStatusRefunded:
		return true
	}
	return false
}

// Payment actions recorded in history
const (
	PaymentActionCreated    = "created"
	PaymentActionProcessing = "processing"
	PaymentActionCompleted  = "completed"
	PaymentActionFailed     = "failed"
	PaymentActionCancelled  = "cancelled"
	PaymentActionExpired    = "expired"
	PaymentActionRefunded   = "refunded"

	PaymentActionGatewayAccepted = "gateway_accepted"
	PaymentActionRefundRequested = "refund_requested"
	PaymentActionRefundFailed    = "refund_failed"
)

// Payment represents money collected against one booking
type Payment struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	PaymentNumber    string        `json:"payment_number" db:"payment_number"`
	BookingID        uuid.UUID     `json:"booking_id" db:"booking_id"`
	BookingNumber    string        `json:"booking_number" db:"booking_number"`
	UserID           uuid.UUID     `json:"user_id" db:"user_id"`
	Status           PaymentStatus `json:"status" db:"status"`
	Method           string        `json:"method" db:"method"`
	Gateway          string        `json:"gateway" db:"gateway"`
	Currency         string        `json:"currency" db:"currency"`
	Amount           float64       `json:"amount" db:"amount"`
	ServiceFee       float64       `json:"service_fee" db:"service_fee"`
	GatewayFee       float64       `json:"gateway_fee" db:"gateway_fee"`
	TaxAmount        float64       `json:"tax_amount" db:"tax_amount"`
	TotalAmount      float64       `json:"total_amount" db:"total_amount"`
	RefundedAmount   float64       `json:"refunded_amount" db:"refunded_amount"`
	RefundCount      int           `json:"refund_count" db:"refund_count"`
	IsRefundable     bool          `json:"is_refundable" db:"is_refundable"`
	GatewayPaymentID *string       `json:"gateway_payment_id,omitempty" db:"gateway_payment_id"`
	GatewayReference *string       `json:"gateway_reference,omitempty" db:"gateway_reference"`
	PaymentURL       *string       `json:"payment_url,omitempty" db:"payment_url"`
	FailureReason    *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	ExpiresAt        time.Time     `json:"expires_at" db:"expires_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	Version          int64         `json:"version" db:"version"`
	IsDeleted        bool          `json:"-" db:"is_deleted"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`

	Refunds []*PaymentRefund `json:"refunds,omitempty" db:"-"`
	History []*HistoryEntry  `json:"history,omitempty" db:"-"`
}

// RefundableBalance is what may still be returned to the payer
func (p *Payment) RefundableBalance() float64 {
	return RoundMoney(p.TotalAmount - p.RefundedAmount)
}

// IsOwnedBy reports whether the payment belongs to userID
func (p *Payment) IsOwnedBy(userID uuid.UUID) bool {
	return p.UserID == userID
}

// RefundStatus represents the status of one refund
type RefundStatus string

const (
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusFailed    RefundStatus = "failed"
)

// PaymentRefund is one partial or full refund of a payment
type PaymentRefund struct {
	ID              uuid.UUID    `json:"id" db:"id"`
	PaymentID       uuid.UUID    `json:"payment_id" db:"payment_id"`
	Amount          float64      `json:"amount" db:"amount"`
	Status          RefundStatus `json:"status" db:"status"`
	Reason          string       `json:"reason" db:"reason"`
	RequestedBy     Actor        `json:"requested_by" db:"requested_by"`
	GatewayRefundID *string      `json:"gateway_refund_id,omitempty" db:"gateway_refund_id"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
}

// TransactionType is the kind of gateway interaction logged
type TransactionType string

const (
	TransactionCreate  TransactionType = "create"
	TransactionVerify  TransactionType = "verify"
	TransactionRefund  TransactionType = "refund"
	TransactionWebhook TransactionType = "webhook"
)

// PaymentTransaction is an immutable record of one gateway interaction
type PaymentTransaction struct {
	ID                   uuid.UUID       `json:"id" db:"id"`
	PaymentID            uuid.UUID       `json:"payment_id" db:"payment_id"`
	Type                 TransactionType `json:"type" db:"type"`
	Gateway              string          `json:"gateway" db:"gateway"`
	Amount               float64         `json:"amount" db:"amount"`
	GatewayTransactionID *string         `json:"gateway_transaction_id,omitempty" db:"gateway_transaction_id"`
	GatewayStatus        *string         `json:"gateway_status,omitempty" db:"gateway_status"`
	Success              bool            `json:"success" db:"success"`
	RequestPayload       JSONB           `json:"request_payload,omitempty" db:"request_payload"`
	ResponsePayload      JSONB           `json:"response_payload,omitempty" db:"response_payload"`
	HTTPStatusCode       *int            `json:"http_status_code,omitempty" db:"http_status_code"`
	ErrorMessage         *string         `json:"error_message,omitempty" db:"error_message"`
	IdempotencyKey       *string         `json:"idempotency_key,omitempty" db:"idempotency_key"`
	IsDuplicate          bool            `json:"is_duplicate" db:"is_duplicate"`
	ProcessingTimeMs     *int            `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
}

// NewPaymentTransaction creates a transaction log entry with required fields
func NewPaymentTransaction(paymentID uuid.UUID, txType TransactionType, gateway string, amount float64) *PaymentTransaction {
	return &PaymentTransaction{
		ID:        uuid.New(),
		PaymentID: paymentID,
		Type:      txType,
		Gateway:   gateway,
		Amount:    amount,
		CreatedAt: time.Now(),
	}
}

// SetOutcome records the gateway's answer
func (t *PaymentTransaction) SetOutcome(gatewayTxID, gatewayStatus string, success bool) *PaymentTransaction {
	t.GatewayTransactionID = StringPtr(gatewayTxID)
	t.GatewayStatus = StringPtr(gatewayStatus)
	t.Success = success
	return t
}

// SetError records a failed interaction
func (t *PaymentTransaction) SetError(err error) *PaymentTransaction {
	if err != nil {
		msg := err.Error()
		t.ErrorMessage = &msg
		t.Success = false
	}
	return t
}

// SetProcessingTime calculates and sets processing time
func (t *PaymentTransaction) SetProcessingTime(start time.Time) *PaymentTransaction {
	ms := int(time.Since(start).Milliseconds())
	t.ProcessingTimeMs = &ms
	return t
}

// MarkAsDuplicate marks a replayed webhook
func (t *PaymentTransaction) MarkAsDuplicate() *PaymentTransaction {
	t.IsDuplicate = true
	return t
}

// CreatePaymentRequest represents the request to pay for a booking
type CreatePaymentRequest struct {
	BookingID uuid.UUID `json:"booking_id" binding:"required"`
	Method    string    `json:"method" binding:"required"`
	Gateway   string    `json:"gateway,omitempty"`
	ReturnURL string    `json:"return_url,omitempty"`
}

// GatewayResult is a normalised gateway outcome fed into Process
type GatewayResult struct {
	Status               PaymentStatus `json:"status" binding:"required"`
	GatewayTransactionID string        `json:"gateway_transaction_id,omitempty"`
	GatewayReference     string        `json:"gateway_reference,omitempty"`
	Amount               *float64      `json:"amount,omitempty"`
	FailureReason        string        `json:"failure_reason,omitempty"`
	Raw                  JSONB         `json:"raw,omitempty"`
}

// RefundRequest represents a refund request against a payment
type RefundRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
	Reason string  `json:"reason" binding:"required"`
}

// FeeEstimateRequest asks for the fee breakdown of a prospective payment
type FeeEstimateRequest struct {
	Amount  float64 `json:"amount" binding:"required,gt=0"`
	Method  string  `json:"method" binding:"required"`
	Gateway string  `json:"gateway,omitempty"`
}

// FeeBreakdown is the fee side of a payment
type FeeBreakdown struct {
	Gateway     string  `json:"gateway"`
	Method      string  `json:"method"`
	Amount      float64 `json:"amount"`
	ServiceFee  float64 `json:"service_fee"`
	GatewayFee  float64 `json:"gateway_fee"`
	TaxAmount   float64 `json:"tax_amount"`
	TotalAmount float64 `json:"total_amount"`
}

// PaymentSearchParams filters the admin payment search
type PaymentSearchParams struct {
	ListParams
	Statuses      []string   `form:"status"`
	Gateway       string     `form:"gateway"`
	PaymentNumber string     `form:"payment_number"`
	BookingID     *uuid.UUID `form:"-"`
	From          *time.Time `form:"from" time_format:"2006-01-02"`
	To            *time.Time `form:"to" time_format:"2006-01-02"`
}
