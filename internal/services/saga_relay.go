package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smarttransit/afc-backend/internal/config"
	"github.com/smarttransit/afc-backend/internal/errs"
	"github.com/smarttransit/afc-backend/internal/metrics"
	"github.com/smarttransit/afc-backend/internal/models"
	"github.com/smarttransit/afc-backend/pkg/events"
)

const (
	// staleClaimAfter is how long a claimed message may sit in processing
	// before another relay takes it back
	staleClaimAfter = 2 * time.Minute
	publishTimeout  = 5 * time.Second
)

// SagaRelay drains the outbox. booking.confirm commands are executed against
// the booking lifecycle and compensated with a refund when confirmation is
// impossible; everything else is published as a lifecycle event.
type SagaRelay struct {
	outbox    OutboxRelayStore
	confirmer BookingConfirmer
	refunds   RefundRequester
	publisher events.Publisher
	config    config.SagaConfig
	producer  string
	logger    *logrus.Logger
	now       clock
}

// NewSagaRelay creates a new outbox relay
func NewSagaRelay(
	outbox OutboxRelayStore,
	confirmer BookingConfirmer,
	refunds RefundRequester,
	publisher events.Publisher,
	cfg config.SagaConfig,
	producer string,
	logger *logrus.Logger,
) *SagaRelay {
	return &SagaRelay{
		outbox:    outbox,
		confirmer: confirmer,
		refunds:   refunds,
		publisher: publisher,
		config:    cfg,
		producer:  producer,
		logger:    logger,
		now:       systemClock,
	}
}

// Run polls the outbox until ctx is cancelled
func (r *SagaRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.logger.WithField("poll_interval", r.config.PollInterval.String()).Info("Saga relay started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Saga relay stopped")
			return
		case <-ticker.C:
			if released, err := r.outbox.ReleaseStale(ctx, r.now().Add(-staleClaimAfter)); err != nil {
				r.logger.WithError(err).Warn("Failed to release stale outbox claims")
			} else if released > 0 {
				r.logger.WithField("released", released).Warn("Released stale outbox claims")
			}
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.WithError(err).Error("Failed to process outbox batch")
			}
		}
	}
}

// RunOnce claims and handles one batch, returning how many messages were claimed
func (r *SagaRelay) RunOnce(ctx context.Context) (int, error) {
	batch, err := r.outbox.ClaimBatch(ctx, r.now(), r.config.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, m := range batch {
		if m.IsCommand() {
			r.confirm(ctx, m)
		} else {
			r.publish(ctx, m)
		}
	}
	return len(batch), nil
}

// ============================================================================
// COMMANDS
// ============================================================================

func (r *SagaRelay) confirm(ctx context.Context, m *models.OutboxMessage) {
	log := r.logger.WithFields(logrus.Fields{
		"message_id":   m.ID,
		"message_type": m.MessageType,
		"booking_id":   m.AggregateID,
		"attempt":      m.Attempts + 1,
	})

	bookingID, err := payloadUUID(m.Payload, "booking_id")
	if err != nil {
		r.bury(ctx, m, err)
		return
	}
	paymentID, err := payloadUUID(m.Payload, "payment_id")
	if err != nil {
		r.bury(ctx, m, err)
		return
	}

	_, err = r.confirmer.ConfirmBooking(ctx, bookingID, &models.ConfirmBookingRequest{PaymentID: paymentID})
	if err == nil {
		r.done(ctx, m)
		log.Info("Booking confirmed")
		return
	}

	metrics.OutboxErrors.WithLabelValues(m.MessageType).Inc()

	// A lost version race is retried, any other rejection means the booking
	// can no longer take this payment
	if errs.CodeOf(err) != "stale_version" {
		switch errs.KindOf(err) {
		case errs.KindConflict, errs.KindNotFound, errs.KindValidation:
			log.WithError(err).Warn("Booking cannot be confirmed, compensating")
			r.compensate(ctx, m, err)
			return
		}
	}

	attempts := m.Attempts + 1
	if attempts >= r.config.MaxAttempts {
		log.WithError(err).Error("Booking confirmation exhausted its retries, compensating")
		m.Attempts = attempts
		r.compensate(ctx, m, err)
		return
	}

	r.retry(ctx, m, attempts, err)
	log.WithError(err).Warn("Booking confirmation failed, rescheduled")
}

// compensate refunds the captured payment in full and closes the saga
func (r *SagaRelay) compensate(ctx context.Context, m *models.OutboxMessage, cause error) {
	paymentID, err := payloadUUID(m.Payload, "payment_id")
	if err != nil {
		r.bury(ctx, m, err)
		return
	}

	reason := fmt.Sprintf("booking could not be confirmed: %s", errs.PublicMessage(cause))
	_, err = r.refunds.RefundPayment(ctx, paymentID, models.ServiceActor(r.producer), &models.RefundRequest{
		Amount: payloadFloat(m.Payload, "amount"),
		Reason: reason,
	})
	if err != nil && errs.CodeOf(err) != "refund_exceeds_balance" {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"message_id": m.ID,
			"payment_id": paymentID,
		}).Error("Compensating refund failed, manual reconciliation required")
		r.bury(ctx, m, fmt.Errorf("%s; refund failed: %w", reason, err))
		return
	}

	now := r.now()
	if err := r.outbox.Close(ctx, m.ID, models.OutboxStatusCompensated, m.Attempts, reason, now); err != nil {
		r.logger.WithError(err).WithField("message_id", m.ID).Error("Failed to close compensated saga")
		return
	}

	payload := models.JSONB{
		"booking_id": m.Payload["booking_id"],
		"payment_id": m.Payload["payment_id"],
		"amount":     m.Payload["amount"],
		"reason":     reason,
	}
	if err := enqueue(ctx, r.outbox, models.EventSagaCompensated, m.AggregateID, payload, now); err != nil {
		r.logger.WithError(err).WithField("message_id", m.ID).Warn("Failed to enqueue compensation event")
	}

	metrics.SagaCompensations.Inc()
	r.logger.WithFields(logrus.Fields{
		"message_id": m.ID,
		"payment_id": paymentID,
		"booking_id": m.AggregateID,
	}).Warn("Saga compensated with a full refund")
}

// ============================================================================
// EVENTS
// ============================================================================

func (r *SagaRelay) publish(ctx context.Context, m *models.OutboxMessage) {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		r.bury(ctx, m, err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	err = r.publisher.Publish(sendCtx, &events.Message{
		ID:          m.ID.String(),
		Type:        m.MessageType,
		AggregateID: m.AggregateID.String(),
		Producer:    r.producer,
		OccurredAt:  m.CreatedAt,
		Payload:     payload,
	})
	cancel()

	if err == nil {
		r.done(ctx, m)
		return
	}

	metrics.OutboxErrors.WithLabelValues(m.MessageType).Inc()
	attempts := m.Attempts + 1
	if attempts >= r.config.MaxAttempts {
		m.Attempts = attempts
		r.bury(ctx, m, err)
		return
	}
	r.retry(ctx, m, attempts, err)
	r.logger.WithError(err).WithField("message_id", m.ID).Warn("Failed to publish event, rescheduled")
}

// ============================================================================
// BOOKKEEPING
// ============================================================================

func (r *SagaRelay) done(ctx context.Context, m *models.OutboxMessage) {
	if err := r.outbox.MarkProcessed(ctx, m.ID, r.now()); err != nil {
		r.logger.WithError(err).WithField("message_id", m.ID).Error("Failed to mark outbox message processed")
		return
	}
	metrics.OutboxPublished.WithLabelValues(m.MessageType).Inc()
}

func (r *SagaRelay) retry(ctx context.Context, m *models.OutboxMessage, attempts int, cause error) {
	next := r.now().Add(r.backoff(attempts))
	if err := r.outbox.Reschedule(ctx, m.ID, attempts, next, cause.Error()); err != nil {
		r.logger.WithError(err).WithField("message_id", m.ID).Error("Failed to reschedule outbox message")
	}
}

// bury parks a message as dead for manual handling
func (r *SagaRelay) bury(ctx context.Context, m *models.OutboxMessage, cause error) {
	r.logger.WithError(cause).WithFields(logrus.Fields{
		"message_id":   m.ID,
		"message_type": m.MessageType,
	}).Error("Outbox message is dead")
	if err := r.outbox.Close(ctx, m.ID, models.OutboxStatusDead, m.Attempts, cause.Error(), r.now()); err != nil {
		r.logger.WithError(err).WithField("message_id", m.ID).Error("Failed to close dead outbox message")
	}
}

// backoff doubles from BaseBackoff per attempt, capped at MaxBackoff
func (r *SagaRelay) backoff(attempts int) time.Duration {
	d := r.config.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= r.config.MaxBackoff {
			return r.config.MaxBackoff
		}
	}
	return d
}
