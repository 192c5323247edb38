package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/smarttransit/afc-backend/internal/config"
	"github.com/smarttransit/afc-backend/internal/database"
	"github.com/smarttransit/afc-backend/internal/errs"
	"github.com/smarttransit/afc-backend/internal/metrics"
	"github.com/smarttransit/afc-backend/internal/models"
	"github.com/smarttransit/afc-backend/pkg/qrcrypt"
)

// bulkWorkers bounds the fan-out of bulk ticket operations
const bulkWorkers = 8

// TicketService owns issuance, QR rotation, transfers and ticket expiry
type TicketService struct {
	tickets     TicketStore
	validations ValidationStore
	history     HistoryStore
	sequences   SequenceAllocator
	outbox      OutboxWriter
	tx          Transactor
	bookings    BookingReader
	payments    PaymentReader
	refunds     RefundRequester
	stations    StationDirectory
	codec       *qrcrypt.Codec
	config      config.TicketConfig
	logger      *logrus.Logger
	now         clock
}

// TicketPeers groups the lifecycles the ticket service consults
type TicketPeers struct {
	Bookings BookingReader
	Payments PaymentReader
	Refunds  RefundRequester
	Stations StationDirectory
}

// NewTicketService creates a new ticket service
func NewTicketService(
	tickets TicketStore,
	validations ValidationStore,
	history HistoryStore,
	sequences SequenceAllocator,
	outbox OutboxWriter,
	tx Transactor,
	peers TicketPeers,
	codec *qrcrypt.Codec,
	cfg config.TicketConfig,
	logger *logrus.Logger,
) *TicketService {
	return &TicketService{
		tickets:     tickets,
		validations: validations,
		history:     history,
		sequences:   sequences,
		outbox:      outbox,
		tx:          tx,
		bookings:    peers.Bookings,
		payments:    peers.Payments,
		refunds:     peers.Refunds,
		stations:    peers.Stations,
		codec:       codec,
		config:      cfg,
		logger:      logger,
		now:         systemClock,
	}
}

// ============================================================================
// ISSUANCE
// ============================================================================

// Create issues the ticket of a confirmed and paid booking
func (s *TicketService) Create(ctx context.Context, caller Caller, req *models.CreateTicketRequest) (*models.Ticket, error) {
	ticketType := req.TicketType
	if ticketType == "" {
		ticketType = models.TicketTypeSingle
	}
	if !ticketType.IsValid() {
		return nil, errs.Validation("invalid_ticket_type", "unknown ticket type %s", ticketType)
	}

	// 1. Booking must be confirmed
	booking, err := s.bookings.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, errs.Dependency("booking service unavailable", err)
	}
	if booking == nil || !caller.CanAccess(booking.UserID) {
		return nil, errs.NotFound("booking")
	}
	if booking.Status != models.BookingStatusConfirmed || booking.PaymentID == nil {
		return nil, errs.Conflict("invalid_state", "booking %s is %s, a ticket requires confirmed", booking.BookingNumber, booking.Status)
	}

	// 2. Payment must be captured
	payment, err := s.payments.GetPayment(ctx, *booking.PaymentID)
	if err != nil {
		return nil, errs.Dependency("payment service unavailable", err)
	}
	if payment == nil {
		return nil, errs.NotFound("payment")
	}
	if payment.Status != models.PaymentStatusCompleted {
		return nil, errs.Conflict("invalid_state", "payment %s is %s, a ticket requires completed", payment.PaymentNumber, payment.Status)
	}

	// 3. One ticket per booking
	existing, err := s.tickets.GetByBooking(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errs.Conflict("ticket_exists", "booking %s already has ticket %s", booking.BookingNumber, existing.TicketNumber)
	}

	now := s.now()
	validFrom := startOfDay(booking.TravelDate)
	ticket := &models.Ticket{
		ID:                   uuid.New(),
		BookingID:            booking.ID,
		BookingNumber:        booking.BookingNumber,
		PaymentID:            payment.ID,
		UserID:               booking.UserID,
		PassengerName:        leadPassenger(booking),
		PassengerCount:       len(booking.Passengers),
		TicketType:           ticketType,
		RouteID:              booking.RouteID,
		SourceStationID:      booking.SourceStationID,
		DestinationStationID: booking.DestinationStationID,
		TravelDate:           booking.TravelDate,
		ValidFrom:            validFrom,
		ValidUntil:           validFrom.Add(time.Duration(s.config.ValidityHours) * time.Hour),
		MaxUsageCount:        s.usageAllowance(ticketType),
		MaxTransfers:         s.config.MaxTransfers,
		IsRefundable:         s.config.Refundable,
		FareAmount:           booking.FinalAmount,
		Currency:             booking.Currency,
		Status:               models.TicketStatusDraft,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	// 4. Ticket, first QR version and history in one transaction
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		number, err := s.sequences.Next(ctx, database.PrefixTicket, now)
		if err != nil {
			return err
		}
		ticket.TicketNumber = number

		qr, err := s.mintQR(ticket, 1, nil, now)
		if err != nil {
			return err
		}
		if err := s.tickets.Create(ctx, ticket); err != nil {
			return err
		}
		if err := s.tickets.CreateQRCode(ctx, qr); err != nil {
			return err
		}
		if err := s.history.Append(ctx, models.NewHistoryEntry(ticket.ID, "", string(models.TicketStatusDraft),
			models.TicketActionCreated, caller.Actor, "", now)); err != nil {
			return err
		}
		if err := s.transition(ctx, ticket, models.TicketStatusGenerated, models.TicketActionGenerated, caller.Actor, "", now); err != nil {
			return err
		}
		return enqueue(ctx, s.outbox, models.EventTicketIssued, ticket.ID, ticketPayload(ticket), now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"ticket_id":     ticket.ID,
		"ticket_number": ticket.TicketNumber,
		"booking_id":    booking.ID,
		"valid_until":   ticket.ValidUntil,
	}).Info("Ticket issued")

	return ticket, nil
}

func (s *TicketService) usageAllowance(t models.TicketType) int {
	switch t {
	case models.TicketTypeReturn:
		return s.config.UsageReturn
	case models.TicketTypeDayPass:
		return s.config.UsageDayPass
	default:
		return s.config.UsageSingle
	}
}

func leadPassenger(b *models.Booking) string {
	if len(b.Passengers) > 0 && b.Passengers[0].Name != "" {
		return b.Passengers[0].Name
	}
	return b.ContactName
}

// mintQR seals a new QR version and stamps it on the ticket
func (s *TicketService) mintQR(t *models.Ticket, version int, previous *uuid.UUID, now time.Time) (*models.TicketQRCode, error) {
	payload, hash, err := s.codec.Seal(qrcrypt.Claims{
		TicketID:     t.ID,
		TicketNumber: t.TicketNumber,
		Version:      version,
		IssuedAt:     now.Unix(),
		ValidUntil:   t.ValidUntil.Unix(),
	})
	if err != nil {
		return nil, errs.Internal("failed to seal qr code", err)
	}

	t.QRPayload = payload
	t.QRHash = hash
	t.QRVersion = version

	return &models.TicketQRCode{
		ID:           uuid.New(),
		TicketID:     t.ID,
		Version:      version,
		Payload:      payload,
		Hash:         hash,
		Status:       models.QRStatusActive,
		PreviousQRID: previous,
		CreatedAt:    now,
	}, nil
}

// ============================================================================
// TRANSITIONS
// ============================================================================

// Activate opens a generated ticket inside its validity window
func (s *TicketService) Activate(ctx context.Context, id uuid.UUID, caller Caller) (*models.Ticket, error) {
	return s.mutate(ctx, id, caller, func(ctx context.Context, t *models.Ticket, now time.Time) error {
		if t.Status != models.TicketStatusGenerated {
			return invalidState("ticket", t.TicketNumber, t.Status, models.TicketStatusActive)
		}
		if !t.WithinValidity(now) {
			return errs.Validation("outside_validity", "ticket %s is valid from %s until %s",
				t.TicketNumber, t.ValidFrom.Format(time.RFC3339), t.ValidUntil.Format(time.RFC3339))
		}
		t.ActivatedAt = models.TimePtr(now)
		return s.transition(ctx, t, models.TicketStatusActive, models.TicketActionActivated, caller.Actor, "", now)
	})
}

// Suspend blocks a ticket at the gates until reinstated
func (s *TicketService) Suspend(ctx context.Context, id uuid.UUID, caller Caller, reason string) (*models.Ticket, error) {
	return s.mutate(ctx, id, caller, func(ctx context.Context, t *models.Ticket, now time.Time) error {
		t.StatusReason = models.StringPtr(reason)
		return s.transition(ctx, t, models.TicketStatusSuspended, models.TicketActionSuspended, caller.Actor, reason, now)
	})
}

// Reinstate returns a suspended ticket to active while it is still valid
func (s *TicketService) Reinstate(ctx context.Context, id uuid.UUID, caller Caller) (*models.Ticket, error) {
	return s.mutate(ctx, id, caller, func(ctx context.Context, t *models.Ticket, now time.Time) error {
		if t.Status != models.TicketStatusSuspended {
			return invalidState("ticket", t.TicketNumber, t.Status, models.TicketStatusActive)
		}
		if !t.WithinValidity(now) {
			return errs.Validation("outside_validity", "ticket %s is outside its validity window", t.TicketNumber)
		}
		t.StatusReason = nil
		if t.ActivatedAt == nil {
			t.ActivatedAt = models.TimePtr(now)
		}
		return s.transition(ctx, t, models.TicketStatusActive, models.TicketActionReinstated, caller.Actor, "", now)
	})
}

// Cancel cancels a ticket that has not been used and optionally refunds its
// fare. Cancelling an already cancelled ticket with a refund request retries
// the refund.
func (s *TicketService) Cancel(ctx context.Context, id uuid.UUID, caller Caller, req *models.CancelTicketRequest) (*models.Ticket, error) {
	ticket, err := s.load(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if req.RequestRefund && !ticket.IsRefundable {
		return nil, errs.Validation("not_refundable", "ticket %s is not refundable", ticket.TicketNumber)
	}

	if ticket.Status != models.TicketStatusCancelled || !req.RequestRefund {
		ticket, err = s.mutate(ctx, id, caller, func(ctx context.Context, t *models.Ticket, now time.Time) error {
			if !t.IsPreUse() {
				return invalidState("ticket", t.TicketNumber, t.Status, models.TicketStatusCancelled)
			}
			t.CancelledAt = models.TimePtr(now)
			t.StatusReason = models.StringPtr(req.Reason)
			if err := s.transition(ctx, t, models.TicketStatusCancelled, models.TicketActionCancelled, caller.Actor, req.Reason, now); err != nil {
				return err
			}
			return enqueue(ctx, s.outbox, models.EventTicketCancelled, t.ID, ticketPayload(t), now)
		})
		if err != nil {
			return nil, err
		}
	}

	if !req.RequestRefund {
		return ticket, nil
	}

	// Refund outside the ticket transaction; the payment lifecycle owns the money
	reason := req.Reason
	if reason == "" {
		reason = "ticket " + ticket.TicketNumber + " cancelled"
	}
	if _, err := s.refunds.RefundPayment(ctx, ticket.PaymentID, caller.Actor, &models.RefundRequest{
		Amount: ticket.FareAmount,
		Reason: reason,
	}); err != nil {
		s.logger.WithError(err).WithField("ticket_id", ticket.ID).Warn("Refund for cancelled ticket failed")
		if errs.KindOf(err) == errs.KindInternal {
			return nil, errs.Dependency("refund request failed", err)
		}
		return nil, err
	}

	return s.mutate(ctx, id, caller, func(ctx context.Context, t *models.Ticket, now time.Time) error {
		return s.transition(ctx, t, models.TicketStatusRefunded, models.TicketActionRefunded, caller.Actor, reason, now)
	})
}

// RegenerateQRCode retires the active QR and mints the next version. The
// old payload stops validating as soon as the transaction commits.
func (s *TicketService) RegenerateQRCode(ctx context.Context, id uuid.UUID, caller Caller) (*models.Ticket, error) {
	return s.mutate(ctx, id, caller, func(ctx context.Context, t *models.Ticket, now time.Time) error {
		if !t.IsPreUse() {
			return errs.Conflict("invalid_state", "ticket %s is %s, its QR code cannot be regenerated", t.TicketNumber, t.Status)
		}

		current, err := s.tickets.GetActiveQRCode(ctx, t.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return errs.Internal("ticket has no active qr code", fmt.Errorf("ticket %s", t.ID))
		}

		next, err := s.mintQR(t, t.QRVersion+1, &current.ID, now)
		if err != nil {
			return err
		}
		if err := s.tickets.InvalidateQRCode(ctx, current.ID, next.ID, now); err != nil {
			return err
		}
		if err := s.tickets.CreateQRCode(ctx, next); err != nil {
			return err
		}

		t.UpdatedAt = now
		if err := s.tickets.Update(ctx, t); err != nil {
			return err
		}
		entry := models.NewHistoryEntry(t.ID, string(t.Status), string(t.Status), models.TicketActionQRRotated, caller.Actor, "", now)
		entry.Metadata = models.JSONB{"qr_version": next.Version, "previous_qr_id": current.ID.String()}
		return s.history.Append(ctx, entry)
	})
}

// Transfer links an exit validation to a later entry validation of the same ticket
func (s *TicketService) Transfer(ctx context.Context, id uuid.UUID, caller Caller, req *models.TransferRequest) (*models.TicketTransfer, error) {
	from, err := s.validations.GetByID(ctx, req.FromValidationID)
	if err != nil {
		return nil, err
	}
	to, err := s.validations.GetByID(ctx, req.ToValidationID)
	if err != nil {
		return nil, err
	}
	if from == nil || to == nil {
		return nil, errs.NotFound("validation")
	}
	if err := checkTransferLegs(id, from, to, s.config.TransferWindow); err != nil {
		return nil, err
	}

	fromName := s.stationName(ctx, from.StationID)
	toName := s.stationName(ctx, to.StationID)

	var transfer *models.TicketTransfer
	_, err = s.mutate(ctx, id, caller, func(ctx context.Context, t *models.Ticket, now time.Time) error {
		if t.TransferCount >= t.MaxTransfers {
			return errs.Conflict("transfer_limit", "ticket %s has used all %d transfers", t.TicketNumber, t.MaxTransfers)
		}

		t.TransferCount++
		t.UpdatedAt = now
		if err := s.tickets.Update(ctx, t); err != nil {
			return err
		}

		transfer = &models.TicketTransfer{
			ID:               uuid.New(),
			TicketID:         t.ID,
			FromValidationID: from.ID,
			ToValidationID:   to.ID,
			FromStationID:    from.StationID,
			ToStationID:      to.StationID,
			FromStationName:  fromName,
			ToStationName:    toName,
			TransferNumber:   t.TransferCount,
			ElapsedSeconds:   int(to.ValidatedAt.Sub(from.ValidatedAt).Seconds()),
			TransferredAt:    to.ValidatedAt,
			CreatedAt:        now,
		}
		if err := s.validations.CreateTransfer(ctx, transfer); err != nil {
			return err
		}
		entry := models.NewHistoryEntry(t.ID, string(t.Status), string(t.Status), models.TicketActionTransferred, caller.Actor, "", now)
		entry.Metadata = models.JSONB{"transfer_id": transfer.ID.String(), "transfer_number": transfer.TransferNumber}
		return s.history.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

func checkTransferLegs(ticketID uuid.UUID, from, to *models.TicketValidation, window time.Duration) error {
	if from.TicketID == nil || *from.TicketID != ticketID || to.TicketID == nil || *to.TicketID != ticketID {
		return errs.Validation("validation_mismatch", "both validations must belong to the ticket")
	}
	if !from.IsValid || !to.IsValid {
		return errs.Validation("invalid_leg", "only accepted scans can form a transfer")
	}
	if from.ValidationType != models.ValidationExit {
		return errs.Validation("invalid_leg", "a transfer starts with an exit scan, got %s", from.ValidationType)
	}
	if to.ValidationType != models.ValidationEntry && to.ValidationType != models.ValidationTransfer {
		return errs.Validation("invalid_leg", "a transfer ends with an entry scan, got %s", to.ValidationType)
	}
	if !to.ValidatedAt.After(from.ValidatedAt) {
		return errs.Validation("invalid_leg", "the entry scan must follow the exit scan")
	}
	if to.ValidatedAt.Sub(from.ValidatedAt) > window {
		return errs.Validation("transfer_window_elapsed", "entry came %s after exit, the window is %s",
			to.ValidatedAt.Sub(from.ValidatedAt).Round(time.Second), window)
	}
	return nil
}

// stationName falls back to the station id when the directory has no entry
func (s *TicketService) stationName(ctx context.Context, stationID string) string {
	station, err := s.stations.GetStation(ctx, stationID)
	if err != nil || station == nil {
		s.logger.WithError(err).WithField("station_id", stationID).Warn("Station lookup failed")
		return stationID
	}
	return station.Name
}

// mutate loads a ticket under the caller's visibility and applies fn in one
// transaction
func (s *TicketService) mutate(ctx context.Context, id uuid.UUID, caller Caller, fn func(ctx context.Context, t *models.Ticket, now time.Time) error) (*models.Ticket, error) {
	var ticket *models.Ticket
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		ticket, err = s.load(ctx, id, caller)
		if err != nil {
			return err
		}
		return fn(ctx, ticket, s.now())
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (s *TicketService) transition(ctx context.Context, t *models.Ticket, to models.TicketStatus, action string, actor models.Actor, reason string, now time.Time) error {
	return transitionTicket(ctx, s.tickets, s.history, s.logger, t, to, action, actor, reason, now)
}

// transitionTicket is shared with the validation engine
func transitionTicket(ctx context.Context, tickets TicketStore, history HistoryStore, logger *logrus.Logger,
	t *models.Ticket, to models.TicketStatus, action string, actor models.Actor, reason string, now time.Time) error {
	from := t.Status
	if !from.CanTransitionTo(to) {
		return invalidState("ticket", t.TicketNumber, from, to)
	}

	t.Status = to
	t.UpdatedAt = now
	if err := tickets.Update(ctx, t); err != nil {
		t.Status = from
		return err
	}
	if err := history.Append(ctx, models.NewHistoryEntry(t.ID, string(from), string(to), action, actor, reason, now)); err != nil {
		return err
	}

	metrics.Transitions.WithLabelValues("ticket", string(to)).Inc()
	logger.WithFields(logrus.Fields{
		"ticket_id":   t.ID,
		"from_status": from,
		"to_status":   to,
	}).Debug("Ticket status changed")
	return nil
}

// ============================================================================
// BULK
// ============================================================================

// BulkCancel cancels each ticket independently
func (s *TicketService) BulkCancel(ctx context.Context, caller Caller, req *models.BulkTicketRequest) *models.BulkResult {
	return s.bulk(ctx, req.TicketIDs, func(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
		return s.Cancel(ctx, id, caller, &models.CancelTicketRequest{Reason: req.Reason})
	})
}

// BulkActivate activates each ticket independently
func (s *TicketService) BulkActivate(ctx context.Context, caller Caller, req *models.BulkTicketRequest) *models.BulkResult {
	return s.bulk(ctx, req.TicketIDs, func(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
		return s.Activate(ctx, id, caller)
	})
}

// BulkSuspend suspends each ticket independently
func (s *TicketService) BulkSuspend(ctx context.Context, caller Caller, req *models.BulkTicketRequest) *models.BulkResult {
	return s.bulk(ctx, req.TicketIDs, func(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
		return s.Suspend(ctx, id, caller, req.Reason)
	})
}

// bulk runs op per ticket on a bounded pool; an item's failure is recorded,
// never propagated
func (s *TicketService) bulk(ctx context.Context, ids []uuid.UUID, op func(ctx context.Context, id uuid.UUID) (*models.Ticket, error)) *models.BulkResult {
	items := make([]*models.BulkItemResult, len(ids))

	var g errgroup.Group
	g.SetLimit(bulkWorkers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			item := &models.BulkItemResult{TicketID: id}
			ticket, err := op(ctx, id)
			if err != nil {
				item.Error = errs.PublicMessage(err)
			} else {
				item.Success = true
				item.Status = ticket.Status
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	result := &models.BulkResult{Items: make([]*models.BulkItemResult, 0, len(items))}
	for _, item := range items {
		result.Add(item)
	}
	return result
}

// ============================================================================
// EXPIRY
// ============================================================================

// ExpiryCandidates lists tickets whose validity has lapsed
func (s *TicketService) ExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	return s.tickets.ListExpirable(ctx, now, limit)
}

// ExpireOne expires one ticket in its own transaction
func (s *TicketService) ExpireOne(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	expired := false
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		ticket, err := s.tickets.GetByIDForUpdate(ctx, id)
		if err != nil || ticket == nil {
			return err
		}
		if !ticket.IsPreUse() || !now.After(ticket.ValidUntil) {
			return nil
		}
		if err := s.transition(ctx, ticket, models.TicketStatusExpired, models.TicketActionExpired, models.ActorSweeper, "Expired", now); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}

// ============================================================================
// READS
// ============================================================================

// Get returns a ticket with its history
func (s *TicketService) Get(ctx context.Context, id uuid.UUID, caller Caller) (*models.Ticket, error) {
	ticket, err := s.load(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	return ticket, s.hydrate(ctx, ticket)
}

// GetByNumber returns a ticket by its human-readable number
func (s *TicketService) GetByNumber(ctx context.Context, number string, caller Caller) (*models.Ticket, error) {
	ticket, err := s.tickets.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if ticket == nil || !caller.CanAccess(ticket.UserID) {
		return nil, errs.NotFound("ticket")
	}
	return ticket, s.hydrate(ctx, ticket)
}

// GetByBooking returns the ticket issued for a booking
func (s *TicketService) GetByBooking(ctx context.Context, bookingID uuid.UUID, caller Caller) (*models.Ticket, error) {
	ticket, err := s.tickets.GetByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if ticket == nil || !caller.CanAccess(ticket.UserID) {
		return nil, errs.NotFound("ticket")
	}
	return ticket, nil
}

// Search filters tickets for operators
func (s *TicketService) Search(ctx context.Context, params models.TicketSearchParams) ([]*models.Ticket, int, error) {
	params.Normalize()
	return s.tickets.Search(ctx, params)
}

// Stats aggregates tickets by status
func (s *TicketService) Stats(ctx context.Context) (*models.LifecycleStats, error) {
	rows, err := s.tickets.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return models.NewLifecycleStats(rows), nil
}

func (s *TicketService) load(ctx context.Context, id uuid.UUID, caller Caller) (*models.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticket == nil || !caller.CanAccess(ticket.UserID) {
		return nil, errs.NotFound("ticket")
	}
	return ticket, nil
}

func (s *TicketService) hydrate(ctx context.Context, t *models.Ticket) error {
	history, err := s.history.ListByEntity(ctx, t.ID)
	if err != nil {
		return err
	}
	t.History = history
	return nil
}

func ticketPayload(t *models.Ticket) models.JSONB {
	return models.JSONB{
		"ticket_id":      t.ID.String(),
		"ticket_number":  t.TicketNumber,
		"booking_id":     t.BookingID.String(),
		"user_id":        t.UserID.String(),
		"status":         string(t.Status),
		"usage_count":    t.UsageCount,
		"max_usage":      t.MaxUsageCount,
		"valid_until":    t.ValidUntil.Format(time.RFC3339),
		"transfer_count": t.TransferCount,
	}
}
