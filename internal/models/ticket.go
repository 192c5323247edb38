package models

import (
	"time"

	"github.com/google/uuid"
)

// TicketStatus represents the status of a ticket
type TicketStatus string

const (
	TicketStatusDraft     TicketStatus = "draft"
	TicketStatusGenerated TicketStatus = "generated"
	TicketStatusActive    TicketStatus = "active"
	TicketStatusUsed      TicketStatus = "used"
	TicketStatusExpired   TicketStatus = "expired"
	TicketStatusCancelled TicketStatus = "cancelled"
	TicketStatusRefunded  TicketStatus = "refunded"
	TicketStatusSuspended TicketStatus = "suspended"
	TicketStatusInvalid   TicketStatus = "invalid"
)

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusDraft: {TicketStatusGenerated},
	TicketStatusGenerated: {
		TicketStatusActive, TicketStatusCancelled, TicketStatusSuspended,
		TicketStatusExpired, TicketStatusInvalid,
	},
	TicketStatusActive: {
		TicketStatusUsed, TicketStatusCancelled, TicketStatusSuspended, TicketStatusExpired,
	},
	TicketStatusSuspended: {TicketStatusActive, TicketStatusCancelled, TicketStatusExpired},
	TicketStatusCancelled: {TicketStatusRefunded},
}

// CanTransitionTo reports whether next is a legal successor of s
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	for _, allowed := range ticketTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Ticket actions recorded in history
const (
	TicketActionCreated     = "created"
	TicketActionGenerated   = "generated"
	TicketActionActivated   = "activated"
	TicketActionUsed        = "used"
	TicketActionCancelled   = "cancelled"
	TicketActionRefunded    = "refunded"
	TicketActionSuspended   = "suspended"
	TicketActionReinstated  = "reinstated"
	TicketActionExpired     = "expired"
	TicketActionQRRotated   = "qr_regenerated"
	TicketActionTransferred = "transferred"
)

// TicketType is the fare product kind
type TicketType string

const (
	TicketTypeSingle  TicketType = "single"
	TicketTypeReturn  TicketType = "return"
	TicketTypeDayPass TicketType = "day_pass"
)

// IsValid reports whether t is a known ticket type
func (t TicketType) IsValid() bool {
	return t == TicketTypeSingle || t == TicketTypeReturn || t == TicketTypeDayPass
}

// Ticket is the scannable credential issued for a confirmed, paid booking
type Ticket struct {
	ID                   uuid.UUID    `json:"id" db:"id"`
	TicketNumber         string       `json:"ticket_number" db:"ticket_number"`
	BookingID            uuid.UUID    `json:"booking_id" db:"booking_id"`
	BookingNumber        string       `json:"booking_number" db:"booking_number"`
	PaymentID            uuid.UUID    `json:"payment_id" db:"payment_id"`
	UserID               uuid.UUID    `json:"user_id" db:"user_id"`
	PassengerName        string       `json:"passenger_name" db:"passenger_name"`
	PassengerCount       int          `json:"passenger_count" db:"passenger_count"`
	TicketType           TicketType   `json:"ticket_type" db:"ticket_type"`
	RouteID              string       `json:"route_id" db:"route_id"`
	SourceStationID      string       `json:"source_station_id" db:"source_station_id"`
	DestinationStationID string       `json:"destination_station_id" db:"destination_station_id"`
	TravelDate           time.Time    `json:"travel_date" db:"travel_date"`
	ValidFrom            time.Time    `json:"valid_from" db:"valid_from"`
	ValidUntil           time.Time    `json:"valid_until" db:"valid_until"`
	MaxUsageCount        int          `json:"max_usage_count" db:"max_usage_count"`
	UsageCount           int          `json:"usage_count" db:"usage_count"`
	FirstUsedAt          *time.Time   `json:"first_used_at,omitempty" db:"first_used_at"`
	LastUsedAt           *time.Time   `json:"last_used_at,omitempty" db:"last_used_at"`
	QRPayload            string       `json:"qr_payload" db:"qr_payload"`
	QRHash               string       `json:"qr_hash" db:"qr_hash"`
	QRVersion            int          `json:"qr_version" db:"qr_version"`
	TransferCount        int          `json:"transfer_count" db:"transfer_count"`
	MaxTransfers         int          `json:"max_transfers" db:"max_transfers"`
	IsRefundable         bool         `json:"is_refundable" db:"is_refundable"`
	FareAmount           float64      `json:"fare_amount" db:"fare_amount"`
	Currency             string       `json:"currency" db:"currency"`
	Status               TicketStatus `json:"status" db:"status"`
	StatusReason         *string      `json:"status_reason,omitempty" db:"status_reason"`
	ActivatedAt          *time.Time   `json:"activated_at,omitempty" db:"activated_at"`
	CancelledAt          *time.Time   `json:"cancelled_at,omitempty" db:"cancelled_at"`
	Version              int64        `json:"version" db:"version"`
	IsDeleted            bool         `json:"-" db:"is_deleted"`
	CreatedAt            time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at" db:"updated_at"`

	History []*HistoryEntry `json:"history,omitempty" db:"-"`
}

// IsOwnedBy reports whether the ticket belongs to userID
func (t *Ticket) IsOwnedBy(userID uuid.UUID) bool {
	return t.UserID == userID
}

// WithinValidity reports whether now falls inside the validity window
func (t *Ticket) WithinValidity(now time.Time) bool {
	return !now.Before(t.ValidFrom) && !now.After(t.ValidUntil)
}

// IsExhausted reports whether every permitted use has been consumed
func (t *Ticket) IsExhausted() bool {
	return t.UsageCount >= t.MaxUsageCount
}

// IsPreUse reports whether the ticket may still be cancelled or suspended
func (t *Ticket) IsPreUse() bool {
	switch t.Status {
	case TicketStatusGenerated, TicketStatusActive, TicketStatusSuspended:
		return true
	}
	return false
}

// QRStatus represents the status of one QR version
type QRStatus string

const (
	QRStatusActive      QRStatus = "active"
	QRStatusInvalidated QRStatus = "invalidated"
)

// TicketQRCode is one version of a ticket's QR artifact. Superseded
// versions are invalidated and linked, never deleted.
type TicketQRCode struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	TicketID      uuid.UUID  `json:"ticket_id" db:"ticket_id"`
	Version       int        `json:"version" db:"version"`
	Payload       string     `json:"payload" db:"payload"`
	Hash          string     `json:"hash" db:"hash"`
	Status        QRStatus   `json:"status" db:"status"`
	PreviousQRID  *uuid.UUID `json:"previous_qr_id,omitempty" db:"previous_qr_id"`
	NextQRID      *uuid.UUID `json:"next_qr_id,omitempty" db:"next_qr_id"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty" db:"invalidated_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// TicketTransfer links an exit validation to a later entry validation
type TicketTransfer struct {
	ID               uuid.UUID `json:"id" db:"id"`
	TicketID         uuid.UUID `json:"ticket_id" db:"ticket_id"`
	FromValidationID uuid.UUID `json:"from_validation_id" db:"from_validation_id"`
	ToValidationID   uuid.UUID `json:"to_validation_id" db:"to_validation_id"`
	FromStationID    string    `json:"from_station_id" db:"from_station_id"`
	ToStationID      string    `json:"to_station_id" db:"to_station_id"`
	FromStationName  string    `json:"from_station_name" db:"from_station_name"`
	ToStationName    string    `json:"to_station_name" db:"to_station_name"`
	TransferNumber   int       `json:"transfer_number" db:"transfer_number"`
	ElapsedSeconds   int       `json:"elapsed_seconds" db:"elapsed_seconds"`
	TransferredAt    time.Time `json:"transferred_at" db:"transferred_at"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// CreateTicketRequest represents the request to issue a ticket for a booking
type CreateTicketRequest struct {
	BookingID  uuid.UUID  `json:"booking_id" binding:"required"`
	TicketType TicketType `json:"ticket_type,omitempty"`
}

// CancelTicketRequest represents the request to cancel a ticket
type CancelTicketRequest struct {
	Reason        string `json:"reason"`
	RequestRefund bool   `json:"request_refund"`
}

// SuspendTicketRequest represents the request to suspend a ticket
type SuspendTicketRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// TransferRequest links two recorded validations as a transfer
type TransferRequest struct {
	FromValidationID uuid.UUID `json:"from_validation_id" binding:"required"`
	ToValidationID   uuid.UUID `json:"to_validation_id" binding:"required"`
}

// BulkTicketRequest applies one transition to at most 100 tickets
type BulkTicketRequest struct {
	TicketIDs []uuid.UUID `json:"ticket_ids" binding:"required,min=1,max=100"`
	Reason    string      `json:"reason"`
}

// BulkItemResult is the per-ticket outcome of a bulk operation
type BulkItemResult struct {
	TicketID uuid.UUID    `json:"ticket_id"`
	Success  bool         `json:"success"`
	Status   TicketStatus `json:"status,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// BulkResult summarises a bulk operation
type BulkResult struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Items     []*BulkItemResult `json:"items"`
}

// Add appends an item and updates the counters
func (r *BulkResult) Add(item *BulkItemResult) {
	r.Items = append(r.Items, item)
	r.Total++
	if item.Success {
		r.Succeeded++
	} else {
		r.Failed++
	}
}

// TicketSearchParams filters the admin ticket search
type TicketSearchParams struct {
	ListParams
	Statuses     []string   `form:"status"`
	TicketNumber string     `form:"ticket_number"`
	StationID    string     `form:"station_id"`
	UserID       *uuid.UUID `form:"-"`
	From         *time.Time `form:"from" time_format:"2006-01-02"`
	To           *time.Time `form:"to" time_format:"2006-01-02"`
}
