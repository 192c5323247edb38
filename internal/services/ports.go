package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/smarttransit/afc-backend/internal/models"
)

// ============================================================================
// STORAGE
// ============================================================================

// Transactor runs fn inside one database transaction carried by ctx
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// SequenceAllocator hands out human-readable entity numbers
type SequenceAllocator interface {
	Next(ctx context.Context, prefix string, at time.Time) (string, error)
}

// HistoryStore is an append-only lifecycle audit trail
type HistoryStore interface {
	Append(ctx context.Context, entry *models.HistoryEntry) error
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.HistoryEntry, error)
}

// OutboxWriter enqueues saga commands and lifecycle events
type OutboxWriter interface {
	Create(ctx context.Context, m *models.OutboxMessage) error
}

// OutboxRelayStore is the relay's view of the outbox
type OutboxRelayStore interface {
	OutboxWriter
	ClaimBatch(ctx context.Context, now time.Time, limit int) ([]*models.OutboxMessage, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error
	Close(ctx context.Context, id uuid.UUID, status models.OutboxStatus, attempts int, lastErr string, at time.Time) error
	ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error)
}

// BookingStore persists bookings and their passengers
type BookingStore interface {
	Create(ctx context.Context, b *models.Booking) error
	Update(ctx context.Context, b *models.Booking) error
	UpdatePassenger(ctx context.Context, p *models.BookingPassenger) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetByNumber(ctx context.Context, number string) (*models.Booking, error)
	ListPassengers(ctx context.Context, bookingID uuid.UUID) ([]*models.BookingPassenger, error)
	ListByUser(ctx context.Context, userID uuid.UUID, params models.ListParams) ([]*models.Booking, int, error)
	Search(ctx context.Context, params models.BookingSearchParams) ([]*models.Booking, int, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	Stats(ctx context.Context) ([]models.StatusCount, error)
}

// PaymentStore persists payments and refunds
type PaymentStore interface {
	Create(ctx context.Context, p *models.Payment) error
	Update(ctx context.Context, p *models.Payment) error
	CreateRefund(ctx context.Context, refund *models.PaymentRefund) error
	UpdateRefund(ctx context.Context, refund *models.PaymentRefund) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByNumber(ctx context.Context, number string) (*models.Payment, error)
	GetByGatewayPaymentID(ctx context.Context, gateway, gatewayPaymentID string) (*models.Payment, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.Payment, error)
	GetActiveByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error)
	ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]*models.PaymentRefund, error)
	Search(ctx context.Context, params models.PaymentSearchParams) ([]*models.Payment, int, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	Stats(ctx context.Context) ([]models.StatusCount, error)
}

// TransactionLog records every gateway interaction
type TransactionLog interface {
	Log(ctx context.Context, tx *models.PaymentTransaction) error
	CheckDuplicate(ctx context.Context, paymentID uuid.UUID, idempotencyKey string) (bool, error)
}

// TicketStore persists tickets and their QR versions
type TicketStore interface {
	Create(ctx context.Context, t *models.Ticket) error
	Update(ctx context.Context, t *models.Ticket) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	GetByNumber(ctx context.Context, number string) (*models.Ticket, error)
	GetByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Ticket, error)
	GetByQRHash(ctx context.Context, hash string) (*models.Ticket, error)
	Search(ctx context.Context, params models.TicketSearchParams) ([]*models.Ticket, int, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	Stats(ctx context.Context) ([]models.StatusCount, error)
	CreateQRCode(ctx context.Context, qr *models.TicketQRCode) error
	GetActiveQRCode(ctx context.Context, ticketID uuid.UUID) (*models.TicketQRCode, error)
	InvalidateQRCode(ctx context.Context, id uuid.UUID, nextID uuid.UUID, at time.Time) error
}

// ValidationStore persists gate decisions and transfers
type ValidationStore interface {
	Create(ctx context.Context, v *models.TicketValidation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.TicketValidation, error)
	CreateTransfer(ctx context.Context, t *models.TicketTransfer) error
}

// ============================================================================
// PEER LIFECYCLES
// ============================================================================
// Satisfied in-process by the local adapters when one binary runs every
// role, and by internal/clients over HTTP otherwise.

// BookingReader loads a booking with its passengers
type BookingReader interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
}

// BookingConfirmer confirms a booking once its payment is captured
type BookingConfirmer interface {
	ConfirmBooking(ctx context.Context, id uuid.UUID, req *models.ConfirmBookingRequest) (*models.Booking, error)
}

// BookingCompleter closes a booking after its ticket is used
type BookingCompleter interface {
	CompleteBooking(ctx context.Context, id uuid.UUID) error
}

// PaymentReader loads a payment
type PaymentReader interface {
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
}

// RefundRequester asks the payment lifecycle to return money
type RefundRequester interface {
	RefundPayment(ctx context.Context, paymentID uuid.UUID, actor models.Actor, req *models.RefundRequest) (*models.Payment, error)
}

// StationDirectory resolves routes and stations
type StationDirectory interface {
	GetRoute(ctx context.Context, routeID string) (*models.RouteFare, error)
	GetStation(ctx context.Context, stationID string) (*models.Station, error)
}

// ============================================================================
// CALLER
// ============================================================================

// Caller is the authenticated principal behind a request
type Caller struct {
	UserID     uuid.UUID
	Privileged bool
	Actor      models.Actor
}

// UserCaller builds a caller for an end user
func UserCaller(userID uuid.UUID) Caller {
	return Caller{UserID: userID, Actor: models.UserActor(userID)}
}

// SystemCaller builds a privileged caller for background work and peers
func SystemCaller(actor models.Actor) Caller {
	return Caller{Privileged: true, Actor: actor}
}

// CanAccess reports whether the caller may see an entity owned by owner
func (c Caller) CanAccess(owner uuid.UUID) bool {
	return c.Privileged || (c.UserID != uuid.Nil && c.UserID == owner)
}
