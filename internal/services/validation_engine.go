package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smarttransit/afc-backend/internal/errs"
	"github.com/smarttransit/afc-backend/internal/metrics"
	"github.com/smarttransit/afc-backend/internal/models"
	"github.com/smarttransit/afc-backend/pkg/qrcrypt"
)

const (
	// validateAttempts bounds retries when a concurrent scan bumped the ticket version
	validateAttempts = 3
	completeTimeout  = 5 * time.Second
)

// ValidationEngine decides gate scans from local ticket state only
type ValidationEngine struct {
	tickets     TicketStore
	validations ValidationStore
	history     HistoryStore
	outbox      OutboxWriter
	tx          Transactor
	codec       *qrcrypt.Codec
	completer   BookingCompleter
	logger      *logrus.Logger
	now         clock
}

// NewValidationEngine creates a new validation engine
func NewValidationEngine(
	tickets TicketStore,
	validations ValidationStore,
	history HistoryStore,
	outbox OutboxWriter,
	tx Transactor,
	codec *qrcrypt.Codec,
	completer BookingCompleter,
	logger *logrus.Logger,
) *ValidationEngine {
	return &ValidationEngine{
		tickets:     tickets,
		validations: validations,
		history:     history,
		outbox:      outbox,
		tx:          tx,
		codec:       codec,
		completer:   completer,
		logger:      logger,
		now:         systemClock,
	}
}

// ============================================================================
// DECISION
// ============================================================================

// Decide is the gate decision over a ticket snapshot. It has no side
// effects. claims and ticket are nil when the QR could not be opened or
// matched to a ticket.
func Decide(ticket *models.Ticket, claims *qrcrypt.Claims, qrHash string, req *models.ValidateRequest, now time.Time) models.Decision {
	if claims == nil || ticket == nil {
		return reject(models.ResultInvalid, "QR code is not recognised")
	}
	if claims.TicketID != ticket.ID || claims.Version != ticket.QRVersion || qrHash != ticket.QRHash {
		return reject(models.ResultInvalid, "QR code has been replaced")
	}

	switch ticket.Status {
	case models.TicketStatusDraft, models.TicketStatusInvalid:
		return reject(models.ResultInvalid, "Ticket is not valid for travel")
	case models.TicketStatusCancelled, models.TicketStatusRefunded:
		return reject(models.ResultCancelled, "Ticket has been cancelled")
	case models.TicketStatusSuspended:
		return reject(models.ResultSuspended, "Ticket is suspended")
	}

	if now.Before(ticket.ValidFrom) {
		return reject(models.ResultNotYetValid, "Ticket is valid from "+ticket.ValidFrom.Format(time.RFC3339))
	}
	if now.After(ticket.ValidUntil) || ticket.Status == models.TicketStatusExpired {
		return reject(models.ResultExpired, "Ticket has expired")
	}
	if ticket.IsExhausted() || ticket.Status == models.TicketStatusUsed {
		return reject(models.ResultUsageExceeded, "Ticket has no journeys left")
	}

	switch req.ValidationType {
	case models.ValidationEntry:
		if req.StationID != ticket.SourceStationID {
			return reject(models.ResultWrongStation, "Ticket is not valid for entry at this station")
		}
	case models.ValidationExit:
		if req.StationID != ticket.DestinationStationID {
			return reject(models.ResultWrongStation, "Ticket is not valid for exit at this station")
		}
	}

	return models.Decision{Result: models.ResultValid, IsValid: true, Message: "Ticket accepted"}
}

func reject(result models.ValidationResult, message string) models.Decision {
	return models.Decision{Result: result, Message: message}
}

// ============================================================================
// VALIDATE
// ============================================================================

// Validate decides one scan and records it. Every call writes exactly one
// validation row; accepted scans also consume usage in the same transaction.
func (e *ValidationEngine) Validate(ctx context.Context, req *models.ValidateRequest) (*models.ValidationResponse, error) {
	if !req.ValidationType.IsValid() {
		return nil, errs.Validation("invalid_validation_type", "unknown validation type %s", req.ValidationType)
	}
	start := time.Now()

	// 1. Open the QR locally; failures fall through to an invalid decision
	hash := e.codec.Hash(req.QRPayload)
	claims, err := e.codec.Open(req.QRPayload)
	if err != nil {
		claims = nil
	}

	var ticketID uuid.UUID
	if claims != nil {
		t, err := e.tickets.GetByQRHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		if t != nil {
			ticketID = t.ID
		}
	}

	// 2. Decide and record, retrying when a concurrent scan won the version race
	var resp *models.ValidationResponse
	var used *models.Ticket
	for attempt := 1; ; attempt++ {
		resp, used, err = e.record(ctx, ticketID, claims, hash, req)
		if err == nil || errs.CodeOf(err) != "stale_version" || attempt >= validateAttempts {
			break
		}
		e.logger.WithField("ticket_id", ticketID).Debug("Concurrent scan, retrying validation")
	}
	if err != nil {
		return nil, err
	}

	metrics.Validations.WithLabelValues(string(req.ValidationType), string(resp.Result)).Inc()
	metrics.ValidationLatency.Observe(time.Since(start).Seconds())

	if used != nil {
		e.completeBooking(used)
	}

	e.logger.WithFields(logrus.Fields{
		"validation_id": resp.ValidationID,
		"ticket_id":     resp.TicketID,
		"station_id":    req.StationID,
		"device_id":     req.DeviceID,
		"result":        resp.Result,
	}).Info("Ticket validated")

	return resp, nil
}

// record runs one decide-and-write attempt. It returns the ticket when the
// scan exhausted it.
func (e *ValidationEngine) record(ctx context.Context, ticketID uuid.UUID, claims *qrcrypt.Claims, hash string, req *models.ValidateRequest) (*models.ValidationResponse, *models.Ticket, error) {
	var resp *models.ValidationResponse
	var used *models.Ticket

	err := e.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var ticket *models.Ticket
		if ticketID != uuid.Nil {
			var err error
			if ticket, err = e.tickets.GetByID(ctx, ticketID); err != nil {
				return err
			}
		}

		now := e.now()
		decision := Decide(ticket, claims, hash, req, now)

		if decision.IsValid && req.ValidationType.ConsumesUsage() {
			exhausted, err := e.consume(ctx, ticket, req, now)
			if err != nil {
				return err
			}
			if exhausted {
				used = ticket
			}
		}

		v := &models.TicketValidation{
			ID:             uuid.New(),
			QRHash:         models.StringPtr(hash),
			ValidationType: req.ValidationType,
			Result:         decision.Result,
			IsValid:        decision.IsValid,
			Message:        decision.Message,
			StationID:      req.StationID,
			DeviceID:       req.DeviceID,
			GateID:         models.StringPtr(req.GateID),
			OperatorID:     models.StringPtr(req.OperatorID),
			DeviceInfo:     req.DeviceInfo,
			ValidatedAt:    now,
		}
		resp = &models.ValidationResponse{
			ValidationID: v.ID,
			Result:       decision.Result,
			IsValid:      decision.IsValid,
			Message:      decision.Message,
		}
		if ticket != nil {
			v.TicketID = &ticket.ID
			v.UsageAfter = ticket.UsageCount
			resp.TicketID = &ticket.ID
			resp.TicketNumber = ticket.TicketNumber
			resp.UsageCount = ticket.UsageCount
			resp.MaxUsage = ticket.MaxUsageCount
			resp.TicketStatus = ticket.Status
		}
		return e.validations.Create(ctx, v)
	})
	if err != nil {
		return nil, nil, err
	}
	return resp, used, nil
}

// consume applies one journey to the ticket and reports whether it is now exhausted
func (e *ValidationEngine) consume(ctx context.Context, t *models.Ticket, req *models.ValidateRequest, now time.Time) (bool, error) {
	actor := models.GateActor(req.DeviceID)

	t.UsageCount++
	if t.FirstUsedAt == nil {
		t.FirstUsedAt = models.TimePtr(now)
	}
	t.LastUsedAt = models.TimePtr(now)

	persisted := false
	if t.Status == models.TicketStatusGenerated {
		t.ActivatedAt = models.TimePtr(now)
		if err := transitionTicket(ctx, e.tickets, e.history, e.logger, t, models.TicketStatusActive, models.TicketActionActivated, actor, "", now); err != nil {
			return false, err
		}
		persisted = true
	}

	if !t.IsExhausted() {
		if persisted {
			return false, nil
		}
		t.UpdatedAt = now
		return false, e.tickets.Update(ctx, t)
	}

	if err := transitionTicket(ctx, e.tickets, e.history, e.logger, t, models.TicketStatusUsed, models.TicketActionUsed, actor, "", now); err != nil {
		return false, err
	}
	if err := enqueue(ctx, e.outbox, models.EventTicketUsed, t.ID, ticketPayload(t), now); err != nil {
		return false, err
	}
	return true, nil
}

// completeBooking closes the booking of a used ticket without holding up the gate
func (e *ValidationEngine) completeBooking(t *models.Ticket) {
	if e.completer == nil {
		return
	}
	bookingID := t.BookingID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), completeTimeout)
		defer cancel()
		if err := e.completer.CompleteBooking(ctx, bookingID); err != nil {
			e.logger.WithError(err).WithField("booking_id", bookingID).Warn("Failed to complete booking after ticket use")
		}
	}()
}

// BulkValidate replays scans a gate buffered while offline, in order
func (e *ValidationEngine) BulkValidate(ctx context.Context, req *models.BulkValidateRequest) []*models.BulkValidationItem {
	items := make([]*models.BulkValidationItem, 0, len(req.Validations))
	for i := range req.Validations {
		item := &models.BulkValidationItem{Index: i}
		resp, err := e.Validate(ctx, &req.Validations[i])
		if err != nil {
			item.Error = errs.PublicMessage(err)
		} else {
			item.Response = resp
		}
		items = append(items, item)
	}
	return items
}
