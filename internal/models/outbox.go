package models

import (
	"time"

	"github.com/google/uuid"
)

// OutboxStatus tracks a message through the saga relay
type OutboxStatus string

const (
	OutboxStatusPending     OutboxStatus = "pending"
	OutboxStatusProcessing  OutboxStatus = "processing"
	OutboxStatusProcessed   OutboxStatus = "processed"
	OutboxStatusCompensated OutboxStatus = "compensated"
	OutboxStatusDead        OutboxStatus = "dead"
)

// Outbox message types. Commands are executed by the relay; events are
// published to the message bus.
const (
	CommandBookingConfirm = "booking.confirm"

	EventBookingCreated   = "booking.created"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventBookingExpired   = "booking.expired"
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
	EventPaymentExpired   = "payment.expired"
	EventTicketIssued     = "ticket.issued"
	EventTicketCancelled  = "ticket.cancelled"
	EventTicketUsed       = "ticket.used"
	EventSagaCompensated  = "saga.compensated"
)

// OutboxMessage is written in the same transaction as the state change that
// caused it and relayed afterwards
type OutboxMessage struct {
	ID            uuid.UUID    `json:"id" db:"id"`
	MessageType   string       `json:"message_type" db:"message_type"`
	AggregateID   uuid.UUID    `json:"aggregate_id" db:"aggregate_id"`
	Payload       JSONB        `json:"payload" db:"payload"`
	Status        OutboxStatus `json:"status" db:"status"`
	Attempts      int          `json:"attempts" db:"attempts"`
	NextAttemptAt time.Time    `json:"next_attempt_at" db:"next_attempt_at"`
	LastError     *string      `json:"last_error,omitempty" db:"last_error"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
	ProcessedAt   *time.Time   `json:"processed_at,omitempty" db:"processed_at"`
}

// NewOutboxMessage creates a pending message ready for immediate relay
func NewOutboxMessage(messageType string, aggregateID uuid.UUID, payload JSONB) *OutboxMessage {
	now := time.Now()
	return &OutboxMessage{
		ID:            uuid.New(),
		MessageType:   messageType,
		AggregateID:   aggregateID,
		Payload:       payload,
		Status:        OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsCommand reports whether the relay must execute the message rather than publish it
func (m *OutboxMessage) IsCommand() bool {
	return m.MessageType == CommandBookingConfirm
}
