package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the status of a booking
type BookingStatus string

const (
	BookingStatusDraft     BookingStatus = "draft"
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusFailed    BookingStatus = "failed"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusDraft:     {BookingStatusPending, BookingStatusCancelled},
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled, BookingStatusFailed},
	BookingStatusConfirmed: {BookingStatusCancelled, BookingStatusCompleted},
}

// CanTransitionTo reports whether next is a legal successor of s
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s BookingStatus) IsTerminal() bool {
	return len(bookingTransitions[s]) == 0
}

// IsEditable reports whether contact and seat metadata may still change
func (s BookingStatus) IsEditable() bool {
	return s == BookingStatusDraft || s == BookingStatusPending
}

// Booking actions recorded in history
const (
	BookingActionCreated   = "created"
	BookingActionSubmitted = "submitted"
	BookingActionConfirmed = "confirmed"
	BookingActionCancelled = "cancelled"
	BookingActionCompleted = "completed"
	BookingActionExpired   = "expired"
	BookingActionUpdated   = "updated"
)

// Booking represents a journey reservation
type Booking struct {
	ID                   uuid.UUID     `json:"id" db:"id"`
	BookingNumber        string        `json:"booking_number" db:"booking_number"`
	UserID               uuid.UUID     `json:"user_id" db:"user_id"`
	RouteID              string        `json:"route_id" db:"route_id"`
	SourceStationID      string        `json:"source_station_id" db:"source_station_id"`
	DestinationStationID string        `json:"destination_station_id" db:"destination_station_id"`
	TravelDate           time.Time     `json:"travel_date" db:"travel_date"`
	ContactName          string        `json:"contact_name" db:"contact_name"`
	ContactPhone         string        `json:"contact_phone" db:"contact_phone"`
	ContactEmail         *string       `json:"contact_email,omitempty" db:"contact_email"`
	BaseFare             float64       `json:"base_fare" db:"base_fare"`
	TotalFare            float64       `json:"total_fare" db:"total_fare"`
	DiscountAmount       float64       `json:"discount_amount" db:"discount_amount"`
	TaxAmount            float64       `json:"tax_amount" db:"tax_amount"`
	FinalAmount          float64       `json:"final_amount" db:"final_amount"`
	DiscountCode         *string       `json:"discount_code,omitempty" db:"discount_code"`
	Currency             string        `json:"currency" db:"currency"`
	FareSnapshot         FareBreakdown `json:"fare_snapshot" db:"fare_snapshot"`
	Status               BookingStatus `json:"status" db:"status"`
	BookingExpiresAt     time.Time     `json:"booking_expires_at" db:"booking_expires_at"`
	PaymentID            *uuid.UUID    `json:"payment_id,omitempty" db:"payment_id"`
	ConfirmedAt          *time.Time    `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CancelledAt          *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancellationReason   *string       `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CompletedAt          *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	Version              int64         `json:"version" db:"version"`
	IsDeleted            bool          `json:"-" db:"is_deleted"`
	CreatedAt            time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at" db:"updated_at"`

	Passengers []*BookingPassenger `json:"passengers,omitempty" db:"-"`
	History    []*HistoryEntry     `json:"history,omitempty" db:"-"`
}

// BookingPassenger is one traveller on a booking
type BookingPassenger struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	BookingID      uuid.UUID     `json:"booking_id" db:"booking_id"`
	PassengerType  PassengerType `json:"passenger_type" db:"passenger_type"`
	Name           string        `json:"name" db:"name"`
	Age            *int          `json:"age,omitempty" db:"age"`
	Phone          *string       `json:"phone,omitempty" db:"phone"`
	Email          *string       `json:"email,omitempty" db:"email"`
	SeatNumber     *string       `json:"seat_number,omitempty" db:"seat_number"`
	BaseFare       float64       `json:"base_fare" db:"base_fare"`
	DiscountAmount float64       `json:"discount_amount" db:"discount_amount"`
	Fare           float64       `json:"fare" db:"fare"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// IsOwnedBy reports whether the booking belongs to userID
func (b *Booking) IsOwnedBy(userID uuid.UUID) bool {
	return b.UserID == userID
}

// IsExpired reports whether a pending booking has outlived its hold
func (b *Booking) IsExpired(now time.Time) bool {
	return b.Status == BookingStatusPending && now.After(b.BookingExpiresAt)
}

// PassengerRequest describes one traveller in a create request
type PassengerRequest struct {
	Type  PassengerType `json:"type" binding:"required"`
	Name  string        `json:"name" binding:"required"`
	Age   *int          `json:"age,omitempty"`
	Phone *string       `json:"phone,omitempty"`
	Email *string       `json:"email,omitempty"`
}

// CreateBookingRequest represents the request to create a booking
type CreateBookingRequest struct {
	RouteID              string             `json:"route_id" binding:"required"`
	SourceStationID      string             `json:"source_station_id" binding:"required"`
	DestinationStationID string             `json:"destination_station_id" binding:"required"`
	TravelDate           time.Time          `json:"travel_date" binding:"required"`
	Passengers           []PassengerRequest `json:"passengers" binding:"required,min=1"`
	ContactName          string             `json:"contact_name" binding:"required"`
	ContactPhone         string             `json:"contact_phone" binding:"required"`
	ContactEmail         *string            `json:"contact_email,omitempty"`
	DiscountCode         string             `json:"discount_code,omitempty"`
}

// Validate validates the create booking request
func (r *CreateBookingRequest) Validate(maxPassengers int) error {
	if len(r.Passengers) == 0 {
		return errors.New("at least one passenger is required")
	}
	if maxPassengers > 0 && len(r.Passengers) > maxPassengers {
		return errors.New("too many passengers on one booking")
	}
	if r.SourceStationID == r.DestinationStationID {
		return errors.New("source and destination stations must differ")
	}
	for _, p := range r.Passengers {
		if !p.Type.IsValid() {
			return errors.New("unknown passenger type: " + string(p.Type))
		}
		if strings.TrimSpace(p.Name) == "" {
			return errors.New("passenger name is required")
		}
		if p.Age != nil && (*p.Age < 0 || *p.Age > 130) {
			return errors.New("passenger age is out of range")
		}
	}
	return nil
}

// FareRequest projects the booking request onto the fare calculator input
func (r *CreateBookingRequest) FareRequest() FareRequest {
	types := make([]PassengerType, len(r.Passengers))
	for i, p := range r.Passengers {
		types[i] = p.Type
	}
	return FareRequest{
		RouteID:              r.RouteID,
		SourceStationID:      r.SourceStationID,
		DestinationStationID: r.DestinationStationID,
		PassengerTypes:       types,
		DiscountCode:         r.DiscountCode,
		TravelDate:           r.TravelDate,
	}
}

// PassengerUpdate changes the mutable metadata of one passenger
type PassengerUpdate struct {
	PassengerID uuid.UUID `json:"passenger_id" binding:"required"`
	SeatNumber  *string   `json:"seat_number,omitempty"`
	Phone       *string   `json:"phone,omitempty"`
	Email       *string   `json:"email,omitempty"`
}

// UpdateBookingRequest represents the request to update contact and seat metadata
type UpdateBookingRequest struct {
	Version      int64             `json:"version" binding:"required"`
	ContactName  *string           `json:"contact_name,omitempty"`
	ContactPhone *string           `json:"contact_phone,omitempty"`
	ContactEmail *string           `json:"contact_email,omitempty"`
	Passengers   []PassengerUpdate `json:"passengers,omitempty"`
}

// ConfirmBookingRequest is sent by the payment side once money is captured.
// SeatAssignments maps passenger id to seat number.
type ConfirmBookingRequest struct {
	PaymentID       uuid.UUID         `json:"payment_id" binding:"required"`
	SeatAssignments map[string]string `json:"seat_assignments,omitempty"`
}

// CancelBookingRequest represents the request to cancel a booking
type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

// BookingSearchParams filters the admin booking search
type BookingSearchParams struct {
	ListParams
	Statuses      []string   `form:"status"`
	UserID        *uuid.UUID `form:"-"`
	RouteID       string     `form:"route_id"`
	BookingNumber string     `form:"booking_number"`
	From          *time.Time `form:"from" time_format:"2006-01-02"`
	To            *time.Time `form:"to" time_format:"2006-01-02"`
}
