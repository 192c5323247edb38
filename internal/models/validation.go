package models

import (
	"time"

	"github.com/google/uuid"
)

// ValidationType is the kind of gate scan
type ValidationType string

const (
	ValidationEntry      ValidationType = "entry"
	ValidationExit       ValidationType = "exit"
	ValidationTransfer   ValidationType = "transfer"
	ValidationInspection ValidationType = "inspection"
)

// IsValid reports whether t is a known validation type
func (t ValidationType) IsValid() bool {
	switch t {
	case ValidationEntry, ValidationExit, ValidationTransfer, ValidationInspection:
		return true
	}
	return false
}

// ConsumesUsage reports whether a successful scan of this type counts
// against the ticket's usage allowance. Inspections only look.
func (t ValidationType) ConsumesUsage() bool {
	return t != ValidationInspection
}

// ValidationResult is the outcome of one gate decision
type ValidationResult string

const (
	ResultValid         ValidationResult = "valid"
	ResultInvalid       ValidationResult = "invalid"
	ResultCancelled     ValidationResult = "cancelled"
	ResultSuspended     ValidationResult = "suspended"
	ResultNotYetValid   ValidationResult = "not_yet_valid"
	ResultExpired       ValidationResult = "expired"
	ResultUsageExceeded ValidationResult = "usage_exceeded"
	ResultWrongStation  ValidationResult = "wrong_station"
)

// Decision is what the validation engine answers for one scan
type Decision struct {
	Result  ValidationResult `json:"result"`
	IsValid bool             `json:"is_valid"`
	Message string           `json:"message"`
}

// TicketValidation is the immutable record of one gate decision
type TicketValidation struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	TicketID       *uuid.UUID       `json:"ticket_id,omitempty" db:"ticket_id"`
	QRHash         *string          `json:"qr_hash,omitempty" db:"qr_hash"`
	ValidationType ValidationType   `json:"validation_type" db:"validation_type"`
	Result         ValidationResult `json:"result" db:"result"`
	IsValid        bool             `json:"is_valid" db:"is_valid"`
	Message        string           `json:"message" db:"message"`
	StationID      string           `json:"station_id" db:"station_id"`
	DeviceID       string           `json:"device_id" db:"device_id"`
	GateID         *string          `json:"gate_id,omitempty" db:"gate_id"`
	OperatorID     *string          `json:"operator_id,omitempty" db:"operator_id"`
	DeviceInfo     JSONB            `json:"device_info,omitempty" db:"device_info"`
	UsageAfter     int              `json:"usage_after" db:"usage_after"`
	ValidatedAt    time.Time        `json:"validated_at" db:"validated_at"`
}

// ValidateRequest is one gate scan
type ValidateRequest struct {
	QRPayload      string         `json:"qr_payload" binding:"required"`
	ValidationType ValidationType `json:"validation_type" binding:"required"`
	StationID      string         `json:"station_id" binding:"required"`
	DeviceID       string         `json:"device_id" binding:"required"`
	GateID         string         `json:"gate_id,omitempty"`
	OperatorID     string         `json:"operator_id,omitempty"`

	// Filled by the transport from request headers
	DeviceInfo JSONB `json:"-"`
}

// BulkValidateRequest carries scans a gate buffered while offline, at most
// 100 per request
type BulkValidateRequest struct {
	Validations []ValidateRequest `json:"validations" binding:"required,min=1,max=100,dive"`
}

// ValidationResponse is returned to the gate
type ValidationResponse struct {
	ValidationID uuid.UUID        `json:"validation_id"`
	TicketID     *uuid.UUID       `json:"ticket_id,omitempty"`
	TicketNumber string           `json:"ticket_number,omitempty"`
	Result       ValidationResult `json:"result"`
	IsValid      bool             `json:"is_valid"`
	Message      string           `json:"message"`
	UsageCount   int              `json:"usage_count"`
	MaxUsage     int              `json:"max_usage_count"`
	TicketStatus TicketStatus     `json:"ticket_status,omitempty"`
}

// BulkValidationItem is the outcome of one buffered scan. Error is set when
// the scan could not be recorded at all.
type BulkValidationItem struct {
	Index    int                 `json:"index"`
	Response *ValidationResponse `json:"response,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// GateActor identifies the device that drove a transition
func GateActor(deviceID string) Actor {
	return Actor("gate:" + deviceID)
}
