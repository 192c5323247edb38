package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smarttransit/afc-backend/internal/config"
	"github.com/smarttransit/afc-backend/internal/database"
	"github.com/smarttransit/afc-backend/internal/errs"
	"github.com/smarttransit/afc-backend/internal/fare"
	"github.com/smarttransit/afc-backend/internal/metrics"
	"github.com/smarttransit/afc-backend/internal/models"
	"github.com/smarttransit/afc-backend/pkg/validator"
)

// BookingService owns the booking lifecycle:
// draft → pending → confirmed → completed, with cancelled and failed exits
type BookingService struct {
	bookings   BookingStore
	history    HistoryStore
	sequences  SequenceAllocator
	outbox     OutboxWriter
	tx         Transactor
	stations   StationDirectory
	calculator *fare.Calculator
	phones     *validator.PhoneValidator
	config     config.BookingConfig
	logger     *logrus.Logger
	now        clock
}

// NewBookingService creates a new booking service
func NewBookingService(
	bookings BookingStore,
	history HistoryStore,
	sequences SequenceAllocator,
	outbox OutboxWriter,
	tx Transactor,
	stations StationDirectory,
	calculator *fare.Calculator,
	cfg config.BookingConfig,
	logger *logrus.Logger,
) *BookingService {
	return &BookingService{
		bookings:   bookings,
		history:    history,
		sequences:  sequences,
		outbox:     outbox,
		tx:         tx,
		stations:   stations,
		calculator: calculator,
		phones:     validator.NewPhoneValidator(),
		config:     cfg,
		logger:     logger,
		now:        systemClock,
	}
}

// normalizeContacts rewrites every phone number on the request to E.164
func (s *BookingService) normalizeContacts(req *models.CreateBookingRequest) error {
	phone, err := s.phones.Normalize(req.ContactPhone)
	if err != nil {
		return errs.Validation("invalid_phone", "contact_phone: %s", err.Error())
	}
	req.ContactPhone = phone
	for i := range req.Passengers {
		if err := s.phones.NormalizeOptional(req.Passengers[i].Phone); err != nil {
			return errs.Validation("invalid_phone", "passengers[%d].phone: %s", i, err.Error())
		}
	}
	return nil
}

// ============================================================================
// FARES
// ============================================================================

// CalculateFare prices a journey without creating anything
func (s *BookingService) CalculateFare(ctx context.Context, req *models.FareRequest) (*models.FareBreakdown, error) {
	route, err := s.resolveRoute(ctx, req.RouteID, req.SourceStationID, req.DestinationStationID)
	if err != nil {
		return nil, err
	}
	return s.calculator.Calculate(route, *req)
}

func (s *BookingService) resolveRoute(ctx context.Context, routeID, source, destination string) (*models.RouteFare, error) {
	route, err := s.stations.GetRoute(ctx, routeID)
	if err != nil {
		return nil, errs.Dependency("station directory unavailable", err)
	}
	if route == nil {
		return nil, errs.NotFound("route")
	}
	if !route.Serves(source, destination) {
		return nil, errs.Validation("route_mismatch", "route %s does not run from %s to %s", routeID, source, destination)
	}
	return route, nil
}

// ============================================================================
// CREATE
// ============================================================================

// Create prices and records a booking, then submits it so it is held as
// pending until paid or expired
func (s *BookingService) Create(ctx context.Context, userID uuid.UUID, req *models.CreateBookingRequest) (*models.Booking, error) {
	// 1. Validate request
	if err := req.Validate(s.config.MaxPassengers); err != nil {
		return nil, errs.Validation("invalid_request", "%s", err.Error())
	}
	if err := s.normalizeContacts(req); err != nil {
		return nil, err
	}

	now := s.now()
	if startOfDay(req.TravelDate).Before(startOfDay(now.In(req.TravelDate.Location()))) {
		return nil, errs.Validation("travel_date_past", "travel date is in the past")
	}

	// 2. Price the journey
	route, err := s.resolveRoute(ctx, req.RouteID, req.SourceStationID, req.DestinationStationID)
	if err != nil {
		return nil, err
	}
	breakdown, err := s.calculator.Calculate(route, req.FareRequest())
	if err != nil {
		return nil, err
	}

	// 3. Build booking
	booking := &models.Booking{
		ID:                   uuid.New(),
		UserID:               userID,
		RouteID:              req.RouteID,
		SourceStationID:      req.SourceStationID,
		DestinationStationID: req.DestinationStationID,
		TravelDate:           req.TravelDate,
		ContactName:          req.ContactName,
		ContactPhone:         req.ContactPhone,
		ContactEmail:         req.ContactEmail,
		BaseFare:             breakdown.BaseFare,
		TotalFare:            breakdown.TotalFare,
		DiscountAmount:       breakdown.DiscountAmount,
		TaxAmount:            breakdown.TaxAmount,
		FinalAmount:          breakdown.FinalAmount,
		Currency:             breakdown.Currency,
		FareSnapshot:         *breakdown,
		Status:               models.BookingStatusDraft,
		BookingExpiresAt:     now.Add(s.config.HoldDuration),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if breakdown.DiscountCodeValid {
		booking.DiscountCode = models.StringPtr(breakdown.DiscountCode)
	}
	for i, p := range req.Passengers {
		line := breakdown.Passengers[i]
		booking.Passengers = append(booking.Passengers, &models.BookingPassenger{
			ID:             uuid.New(),
			BookingID:      booking.ID,
			PassengerType:  p.Type,
			Name:           p.Name,
			Age:            p.Age,
			Phone:          p.Phone,
			Email:          p.Email,
			BaseFare:       line.BaseFare,
			DiscountAmount: line.DiscountAmount,
			Fare:           line.Fare,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	// 4. Persist draft and submit it in one transaction
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		number, err := s.sequences.Next(ctx, database.PrefixBooking, now)
		if err != nil {
			return err
		}
		booking.BookingNumber = number

		if err := s.bookings.Create(ctx, booking); err != nil {
			return err
		}
		created := models.NewHistoryEntry(booking.ID, "", string(models.BookingStatusDraft),
			models.BookingActionCreated, models.UserActor(userID), "", now)
		if err := s.history.Append(ctx, created); err != nil {
			return err
		}
		if err := s.transition(ctx, booking, models.BookingStatusPending, models.BookingActionSubmitted, models.UserActor(userID), "", now); err != nil {
			return err
		}
		return enqueue(ctx, s.outbox, models.EventBookingCreated, booking.ID, bookingPayload(booking), now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":     booking.ID,
		"booking_number": booking.BookingNumber,
		"final_amount":   booking.FinalAmount,
	}).Info("Booking created")

	return booking, nil
}

// ============================================================================
// UPDATE
// ============================================================================

// Update changes contact details and passenger seat/contact metadata while
// the booking is still draft or pending
func (s *BookingService) Update(ctx context.Context, id uuid.UUID, caller Caller, req *models.UpdateBookingRequest) (*models.Booking, error) {
	booking, err := s.load(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if !booking.Status.IsEditable() {
		return nil, errs.Conflict("invalid_state", "booking %s can no longer be edited in status %s", booking.BookingNumber, booking.Status)
	}
	if req.Version != booking.Version {
		return nil, errs.StaleVersion("booking")
	}
	if err := s.phones.NormalizeOptional(req.ContactPhone); err != nil {
		return nil, errs.Validation("invalid_phone", "contact_phone: %s", err.Error())
	}
	for i, u := range req.Passengers {
		if err := s.phones.NormalizeOptional(u.Phone); err != nil {
			return nil, errs.Validation("invalid_phone", "passengers[%d].phone: %s", i, err.Error())
		}
	}

	passengers, err := s.bookings.ListPassengers(ctx, id)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*models.BookingPassenger, len(passengers))
	for _, p := range passengers {
		byID[p.ID] = p
	}

	now := s.now()
	var changed []*models.BookingPassenger
	for _, u := range req.Passengers {
		p, ok := byID[u.PassengerID]
		if !ok {
			return nil, errs.Validation("unknown_passenger", "passenger %s is not on booking %s", u.PassengerID, booking.BookingNumber)
		}
		if u.SeatNumber != nil {
			p.SeatNumber = u.SeatNumber
		}
		if u.Phone != nil {
			p.Phone = u.Phone
		}
		if u.Email != nil {
			p.Email = u.Email
		}
		p.UpdatedAt = now
		changed = append(changed, p)
	}

	if req.ContactName != nil {
		booking.ContactName = *req.ContactName
	}
	if req.ContactPhone != nil {
		booking.ContactPhone = *req.ContactPhone
	}
	if req.ContactEmail != nil {
		booking.ContactEmail = req.ContactEmail
	}
	booking.UpdatedAt = now

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.bookings.Update(ctx, booking); err != nil {
			return err
		}
		for _, p := range changed {
			if err := s.bookings.UpdatePassenger(ctx, p); err != nil {
				return err
			}
		}
		return s.history.Append(ctx, models.NewHistoryEntry(booking.ID, string(booking.Status), string(booking.Status),
			models.BookingActionUpdated, caller.Actor, "", now))
	})
	if err != nil {
		return nil, err
	}

	booking.Passengers = passengers
	return booking, nil
}

// ============================================================================
// TRANSITIONS
// ============================================================================

// Confirm records the captured payment and seat assignments. Confirming an
// already confirmed booking with the same payment is a no-op.
func (s *BookingService) Confirm(ctx context.Context, id uuid.UUID, actor models.Actor, req *models.ConfirmBookingRequest) (*models.Booking, error) {
	var booking *models.Booking
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		booking, err = s.bookings.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if booking == nil {
			return errs.NotFound("booking")
		}

		if booking.Status == models.BookingStatusConfirmed && booking.PaymentID != nil {
			if *booking.PaymentID == req.PaymentID {
				return nil
			}
			return errs.Conflict("payment_mismatch", "booking %s is already confirmed by another payment", booking.BookingNumber)
		}
		if !booking.Status.CanTransitionTo(models.BookingStatusConfirmed) {
			return invalidState("booking", booking.BookingNumber, booking.Status, models.BookingStatusConfirmed)
		}

		now := s.now()
		if len(req.SeatAssignments) > 0 {
			if err := s.assignSeats(ctx, booking, req.SeatAssignments, now); err != nil {
				return err
			}
		}

		booking.PaymentID = &req.PaymentID
		booking.ConfirmedAt = models.TimePtr(now)
		if err := s.transition(ctx, booking, models.BookingStatusConfirmed, models.BookingActionConfirmed, actor, "", now); err != nil {
			return err
		}
		return enqueue(ctx, s.outbox, models.EventBookingConfirmed, booking.ID, bookingPayload(booking), now)
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

func (s *BookingService) assignSeats(ctx context.Context, booking *models.Booking, seats map[string]string, now time.Time) error {
	passengers, err := s.bookings.ListPassengers(ctx, booking.ID)
	if err != nil {
		return err
	}
	byID := make(map[string]*models.BookingPassenger, len(passengers))
	for _, p := range passengers {
		byID[p.ID.String()] = p
	}
	for passengerID, seat := range seats {
		p, ok := byID[passengerID]
		if !ok {
			return errs.Validation("unknown_passenger", "passenger %s is not on booking %s", passengerID, booking.BookingNumber)
		}
		p.SeatNumber = models.StringPtr(seat)
		p.UpdatedAt = now
		if err := s.bookings.UpdatePassenger(ctx, p); err != nil {
			return err
		}
	}
	booking.Passengers = passengers
	return nil
}

// Cancel ends a draft, pending or confirmed booking
func (s *BookingService) Cancel(ctx context.Context, id uuid.UUID, caller Caller, reason string) (*models.Booking, error) {
	booking, err := s.load(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if !booking.Status.CanTransitionTo(models.BookingStatusCancelled) {
		return nil, invalidState("booking", booking.BookingNumber, booking.Status, models.BookingStatusCancelled)
	}

	now := s.now()
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		booking.CancelledAt = models.TimePtr(now)
		booking.CancellationReason = models.StringPtr(reason)
		if err := s.transition(ctx, booking, models.BookingStatusCancelled, models.BookingActionCancelled, caller.Actor, reason, now); err != nil {
			return err
		}
		return enqueue(ctx, s.outbox, models.EventBookingCancelled, booking.ID, bookingPayload(booking), now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"actor":      caller.Actor,
	}).Info("Booking cancelled")

	return booking, nil
}

// Complete closes a confirmed booking once its ticket has been used
func (s *BookingService) Complete(ctx context.Context, id uuid.UUID, actor models.Actor) (*models.Booking, error) {
	var booking *models.Booking
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		booking, err = s.bookings.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if booking == nil {
			return errs.NotFound("booking")
		}
		if booking.Status == models.BookingStatusCompleted {
			return nil
		}

		now := s.now()
		booking.CompletedAt = models.TimePtr(now)
		return s.transition(ctx, booking, models.BookingStatusCompleted, models.BookingActionCompleted, actor, "", now)
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// ExpiryCandidates lists pending bookings past their hold
func (s *BookingService) ExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	return s.bookings.ListExpiredPending(ctx, now, limit)
}

// ExpireOne fails one lapsed booking in its own transaction. It returns
// false when the row is locked elsewhere or no longer eligible.
func (s *BookingService) ExpireOne(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	expired := false
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		booking, err := s.bookings.GetByIDForUpdate(ctx, id)
		if err != nil || booking == nil {
			return err
		}
		if !booking.IsExpired(now) {
			return nil
		}
		if err := s.transition(ctx, booking, models.BookingStatusFailed, models.BookingActionExpired, models.ActorSweeper, "Expired", now); err != nil {
			return err
		}
		expired = true
		return enqueue(ctx, s.outbox, models.EventBookingExpired, booking.ID, bookingPayload(booking), now)
	})
	return expired, err
}

// transition moves a booking to a new status, persisting the change and its
// history row. It must run inside a transaction.
func (s *BookingService) transition(ctx context.Context, b *models.Booking, to models.BookingStatus, action string, actor models.Actor, reason string, now time.Time) error {
	from := b.Status
	if !from.CanTransitionTo(to) {
		return invalidState("booking", b.BookingNumber, from, to)
	}

	b.Status = to
	b.UpdatedAt = now
	if err := s.bookings.Update(ctx, b); err != nil {
		b.Status = from
		return err
	}
	if err := s.history.Append(ctx, models.NewHistoryEntry(b.ID, string(from), string(to), action, actor, reason, now)); err != nil {
		return err
	}

	metrics.Transitions.WithLabelValues("booking", string(to)).Inc()
	s.logger.WithFields(logrus.Fields{
		"booking_id":  b.ID,
		"from_status": from,
		"to_status":   to,
	}).Debug("Booking status changed")
	return nil
}

// ============================================================================
// READS
// ============================================================================

// Get returns a booking with passengers and history
func (s *BookingService) Get(ctx context.Context, id uuid.UUID, caller Caller) (*models.Booking, error) {
	booking, err := s.load(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	return booking, s.hydrate(ctx, booking)
}

// GetByNumber returns a booking by its human-readable number
func (s *BookingService) GetByNumber(ctx context.Context, number string, caller Caller) (*models.Booking, error) {
	booking, err := s.bookings.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if booking == nil || !caller.CanAccess(booking.UserID) {
		return nil, errs.NotFound("booking")
	}
	return booking, s.hydrate(ctx, booking)
}

// ListMine pages through a user's bookings, newest first
func (s *BookingService) ListMine(ctx context.Context, userID uuid.UUID, params models.ListParams) ([]*models.Booking, int, error) {
	params.Normalize()
	return s.bookings.ListByUser(ctx, userID, params)
}

// Search filters bookings for operators
func (s *BookingService) Search(ctx context.Context, params models.BookingSearchParams) ([]*models.Booking, int, error) {
	params.Normalize()
	return s.bookings.Search(ctx, params)
}

// Stats aggregates bookings by status
func (s *BookingService) Stats(ctx context.Context) (*models.LifecycleStats, error) {
	rows, err := s.bookings.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return models.NewLifecycleStats(rows), nil
}

func (s *BookingService) load(ctx context.Context, id uuid.UUID, caller Caller) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// Bookings of other users are reported as absent
	if booking == nil || !caller.CanAccess(booking.UserID) {
		return nil, errs.NotFound("booking")
	}
	return booking, nil
}

func (s *BookingService) hydrate(ctx context.Context, b *models.Booking) error {
	passengers, err := s.bookings.ListPassengers(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("failed to load passengers: %w", err)
	}
	history, err := s.history.ListByEntity(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	b.Passengers = passengers
	b.History = history
	return nil
}

func bookingPayload(b *models.Booking) models.JSONB {
	payload := models.JSONB{
		"booking_id":     b.ID.String(),
		"booking_number": b.BookingNumber,
		"user_id":        b.UserID.String(),
		"status":         string(b.Status),
		"final_amount":   b.FinalAmount,
		"currency":       b.Currency,
	}
	if b.PaymentID != nil {
		payload["payment_id"] = b.PaymentID.String()
	}
	return payload
}

// ============================================================================
// IN-PROCESS PEER ADAPTER
// ============================================================================

// LocalBookings exposes the booking service to the other lifecycles of the
// same process
type LocalBookings struct {
	Service *BookingService
	Name    string
}

// GetBooking implements BookingReader
func (l LocalBookings) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	booking, err := l.Service.Get(ctx, id, SystemCaller(models.ServiceActor(l.Name)))
	if errs.Is(err, errs.KindNotFound) {
		return nil, nil
	}
	return booking, err
}

// ConfirmBooking implements BookingConfirmer
func (l LocalBookings) ConfirmBooking(ctx context.Context, id uuid.UUID, req *models.ConfirmBookingRequest) (*models.Booking, error) {
	return l.Service.Confirm(ctx, id, models.ServiceActor(l.Name), req)
}

// CompleteBooking implements BookingCompleter
func (l LocalBookings) CompleteBooking(ctx context.Context, id uuid.UUID) error {
	_, err := l.Service.Complete(ctx, id, models.ServiceActor(l.Name))
	return err
}
