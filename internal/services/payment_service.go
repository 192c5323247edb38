package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smarttransit/afc-backend/internal/config"
	"github.com/smarttransit/afc-backend/internal/database"
	"github.com/smarttransit/afc-backend/internal/errs"
	"github.com/smarttransit/afc-backend/internal/metrics"
	"github.com/smarttransit/afc-backend/internal/models"
	"github.com/smarttransit/afc-backend/pkg/gateway"
)

// PaymentService owns the payment lifecycle, gateway interaction and refunds
type PaymentService struct {
	payments     PaymentStore
	transactions TransactionLog
	history      HistoryStore
	sequences    SequenceAllocator
	outbox       OutboxWriter
	tx           Transactor
	gateways     *gateway.Registry
	bookings     BookingReader
	config       config.PaymentConfig
	logger       *logrus.Logger
	now          clock
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	payments PaymentStore,
	transactions TransactionLog,
	history HistoryStore,
	sequences SequenceAllocator,
	outbox OutboxWriter,
	tx Transactor,
	gateways *gateway.Registry,
	bookings BookingReader,
	cfg config.PaymentConfig,
	logger *logrus.Logger,
) *PaymentService {
	return &PaymentService{
		payments:     payments,
		transactions: transactions,
		history:      history,
		sequences:    sequences,
		outbox:       outbox,
		tx:           tx,
		gateways:     gateways,
		bookings:     bookings,
		config:       cfg,
		logger:       logger,
		now:          systemClock,
	}
}

// ============================================================================
// FEES
// ============================================================================

// Methods lists every method the configured gateways accept
func (s *PaymentService) Methods() []gateway.MethodInfo {
	return s.gateways.Methods()
}

// EstimateFee prices a prospective payment
func (s *PaymentService) EstimateFee(req *models.FeeEstimateRequest) (*models.FeeBreakdown, error) {
	adapter, err := s.adapterFor(req.Gateway, req.Method)
	if err != nil {
		return nil, err
	}
	return s.fees(adapter, req.Method, req.Amount), nil
}

// fees: service fee is a clamped share of the amount, taxed; the gateway
// fee comes from the adapter
func (s *PaymentService) fees(adapter gateway.Adapter, method string, amount float64) *models.FeeBreakdown {
	amount = models.RoundMoney(amount)
	serviceFee := models.RoundMoney(math.Min(math.Max(amount*s.config.ServiceFeeRate, s.config.ServiceFeeMin), s.config.ServiceFeeMax))
	gatewayFee := models.RoundMoney(adapter.CalculateFee(amount, method))
	tax := models.RoundMoney(serviceFee * s.config.ServiceFeeTaxRate)

	return &models.FeeBreakdown{
		Gateway:     adapter.Name(),
		Method:      method,
		Amount:      amount,
		ServiceFee:  serviceFee,
		GatewayFee:  gatewayFee,
		TaxAmount:   tax,
		TotalAmount: models.RoundMoney(amount + serviceFee + gatewayFee + tax),
	}
}

func (s *PaymentService) adapterFor(name, method string) (gateway.Adapter, error) {
	if name == "" {
		name = s.config.DefaultGateway
	}
	adapter, err := s.gateways.Get(name)
	if err != nil {
		return nil, errs.Validation("unknown_gateway", "payment gateway %s is not available", name)
	}
	if !adapter.IsMethodSupported(method) {
		return nil, errs.Validation("unsupported_method", "gateway %s does not support %s", name, method)
	}
	return adapter, nil
}

// ============================================================================
// CREATE
// ============================================================================

// Create opens a payment for a pending booking and hands it to the gateway.
// A gateway failure leaves the payment failed; it is not retried.
func (s *PaymentService) Create(ctx context.Context, caller Caller, req *models.CreatePaymentRequest) (*models.Payment, error) {
	// 1. Booking must be pending and belong to the caller
	booking, err := s.bookings.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, errs.Dependency("booking service unavailable", err)
	}
	if booking == nil || !caller.CanAccess(booking.UserID) {
		return nil, errs.NotFound("booking")
	}
	if booking.Status != models.BookingStatusPending {
		return nil, errs.Conflict("invalid_state", "booking %s is %s, payment requires pending", booking.BookingNumber, booking.Status)
	}

	// 2. One active payment per booking
	active, err := s.payments.GetActiveByBooking(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, errs.Conflict("payment_exists", "booking %s already has payment %s", booking.BookingNumber, active.PaymentNumber)
	}

	// 3. Gateway and fees
	adapter, err := s.adapterFor(req.Gateway, req.Method)
	if err != nil {
		return nil, err
	}
	fees := s.fees(adapter, req.Method, booking.FinalAmount)

	now := s.now()
	payment := &models.Payment{
		ID:            uuid.New(),
		BookingID:     booking.ID,
		BookingNumber: booking.BookingNumber,
		UserID:        booking.UserID,
		Status:        models.PaymentStatusPending,
		Method:        req.Method,
		Gateway:       adapter.Name(),
		Currency:      booking.Currency,
		Amount:        fees.Amount,
		ServiceFee:    fees.ServiceFee,
		GatewayFee:    fees.GatewayFee,
		TaxAmount:     fees.TaxAmount,
		TotalAmount:   fees.TotalAmount,
		IsRefundable:  true,
		ExpiresAt:     now.Add(s.config.ExpiryDuration),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// 4. Persist pending
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		number, err := s.sequences.Next(ctx, database.PrefixPayment, now)
		if err != nil {
			return err
		}
		payment.PaymentNumber = number
		if err := s.payments.Create(ctx, payment); err != nil {
			return err
		}
		return s.history.Append(ctx, models.NewHistoryEntry(payment.ID, "", string(models.PaymentStatusPending),
			models.PaymentActionCreated, caller.Actor, "", now))
	})
	if err != nil {
		return nil, err
	}

	// 5. Hand over to the gateway
	start := time.Now()
	resp, gwErr := adapter.CreatePayment(ctx, &gateway.PaymentRequest{
		PaymentID:     payment.ID,
		PaymentNumber: payment.PaymentNumber,
		BookingNumber: booking.BookingNumber,
		Amount:        payment.TotalAmount,
		Currency:      payment.Currency,
		Method:        payment.Method,
		CustomerName:  booking.ContactName,
		CustomerPhone: booking.ContactPhone,
		CustomerEmail: derefString(booking.ContactEmail),
		Description:   "Booking " + booking.BookingNumber,
		ReturnURL:     req.ReturnURL,
	})

	logEntry := models.NewPaymentTransaction(payment.ID, models.TransactionCreate, adapter.Name(), payment.TotalAmount).
		SetProcessingTime(start)
	if gwErr != nil {
		logEntry.SetError(gwErr)
		s.logTransaction(ctx, logEntry)
		return s.failAfterGatewayError(ctx, payment, gwErr)
	}
	logEntry.SetOutcome(resp.GatewayPaymentID, string(resp.Status), true)
	logEntry.ResponsePayload = rawToJSONB(resp.Raw)
	s.logTransaction(ctx, logEntry)

	payment.GatewayPaymentID = models.StringPtr(resp.GatewayPaymentID)
	payment.GatewayReference = models.StringPtr(resp.Reference)
	payment.PaymentURL = models.StringPtr(resp.PaymentURL)
	now = s.now()
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		return s.record(ctx, payment, models.PaymentActionGatewayAccepted, caller.Actor, "", now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"payment_id":     payment.ID,
		"payment_number": payment.PaymentNumber,
		"booking_id":     booking.ID,
		"gateway":        payment.Gateway,
		"total_amount":   payment.TotalAmount,
	}).Info("Payment created")

	return payment, nil
}

func (s *PaymentService) failAfterGatewayError(ctx context.Context, payment *models.Payment, gwErr error) (*models.Payment, error) {
	reason := "gateway error: " + gwErr.Error()
	now := s.now()
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		payment.FailureReason = models.StringPtr(reason)
		if err := s.transition(ctx, payment, models.PaymentStatusFailed, models.PaymentActionFailed, models.ActorGateway, reason, now); err != nil {
			return err
		}
		return enqueue(ctx, s.outbox, models.EventPaymentFailed, payment.ID, paymentPayload(payment), now)
	})
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Error("Failed to record gateway failure")
	}

	s.logger.WithError(gwErr).WithField("payment_id", payment.ID).Warn("Payment gateway rejected payment")
	return payment, errs.Dependency("payment gateway unavailable", gwErr)
}

// ============================================================================
// PROCESS
// ============================================================================

// Process applies a gateway outcome. Repeating the current status is a
// no-op. Completion enqueues the booking confirmation in the same transaction.
func (s *PaymentService) Process(ctx context.Context, id uuid.UUID, actor models.Actor, result *models.GatewayResult) (*models.Payment, error) {
	switch result.Status {
	case models.PaymentStatusProcessing, models.PaymentStatusCompleted,
		models.PaymentStatusFailed, models.PaymentStatusCancelled:
	default:
		return nil, errs.Validation("invalid_status", "gateway result status %s is not accepted", result.Status)
	}

	var payment *models.Payment
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		payment, err = s.payments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if payment == nil {
			return errs.NotFound("payment")
		}

		// Idempotent by intent
		if payment.Status == result.Status ||
			(result.Status == models.PaymentStatusCompleted && payment.Status.IsSettled()) {
			return nil
		}
		if !payment.Status.CanTransitionTo(result.Status) {
			return invalidState("payment", payment.PaymentNumber, payment.Status, result.Status)
		}
		if result.Status == models.PaymentStatusCompleted && result.Amount != nil &&
			models.RoundMoney(*result.Amount) != payment.TotalAmount {
			s.logger.WithFields(logrus.Fields{
				"payment_id": payment.ID,
				"expected":   payment.TotalAmount,
				"reported":   *result.Amount,
			}).Warn("Gateway reported a different captured amount")
			return errs.Validation("amount_mismatch", "captured amount %.2f does not match %.2f", *result.Amount, payment.TotalAmount)
		}

		now := s.now()
		if result.GatewayTransactionID != "" && payment.GatewayPaymentID == nil {
			payment.GatewayPaymentID = models.StringPtr(result.GatewayTransactionID)
		}
		if result.GatewayReference != "" {
			payment.GatewayReference = models.StringPtr(result.GatewayReference)
		}

		switch result.Status {
		case models.PaymentStatusCompleted:
			payment.CompletedAt = models.TimePtr(now)
			if err := s.transition(ctx, payment, models.PaymentStatusCompleted, models.PaymentActionCompleted, actor, "", now); err != nil {
				return err
			}
			confirm := models.JSONB{
				"booking_id":     payment.BookingID.String(),
				"payment_id":     payment.ID.String(),
				"payment_number": payment.PaymentNumber,
				"amount":         payment.TotalAmount,
			}
			if err := enqueue(ctx, s.outbox, models.CommandBookingConfirm, payment.BookingID, confirm, now); err != nil {
				return err
			}
			return enqueue(ctx, s.outbox, models.EventPaymentCompleted, payment.ID, paymentPayload(payment), now)

		case models.PaymentStatusFailed:
			reason := result.FailureReason
			if reason == "" {
				reason = "declined by gateway"
			}
			payment.FailureReason = models.StringPtr(reason)
			if err := s.transition(ctx, payment, models.PaymentStatusFailed, models.PaymentActionFailed, actor, reason, now); err != nil {
				return err
			}
			return enqueue(ctx, s.outbox, models.EventPaymentFailed, payment.ID, paymentPayload(payment), now)

		case models.PaymentStatusCancelled:
			return s.transition(ctx, payment, models.PaymentStatusCancelled, models.PaymentActionCancelled, actor, result.FailureReason, now)

		default:
			return s.transition(ctx, payment, models.PaymentStatusProcessing, models.PaymentActionProcessing, actor, "", now)
		}
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// Verify polls the gateway and applies whatever it reports
func (s *PaymentService) Verify(ctx context.Context, id uuid.UUID, caller Caller) (*models.Payment, error) {
	payment, err := s.load(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if payment.GatewayPaymentID == nil {
		return nil, errs.Conflict("invalid_state", "payment %s was never accepted by the gateway", payment.PaymentNumber)
	}
	adapter, err := s.gateways.Get(payment.Gateway)
	if err != nil {
		return nil, errs.Internal("payment gateway no longer configured", err)
	}

	start := time.Now()
	result, err := adapter.VerifyPayment(ctx, *payment.GatewayPaymentID)
	logEntry := models.NewPaymentTransaction(payment.ID, models.TransactionVerify, adapter.Name(), payment.TotalAmount).
		SetProcessingTime(start)
	if err != nil {
		s.logTransaction(ctx, logEntry.SetError(err))
		return nil, errs.Dependency("payment gateway unavailable", err)
	}
	logEntry.SetOutcome(result.Reference, string(result.Status), true)
	logEntry.ResponsePayload = rawToJSONB(result.Raw)
	s.logTransaction(ctx, logEntry)

	if result.Status == gateway.StatusPending {
		return payment, nil
	}
	return s.Process(ctx, payment.ID, models.ActorGateway, gatewayResult(result.Status, result.GatewayPaymentID, result.Reference, result.Amount, result.FailureReason))
}

// ============================================================================
// REFUNDS
// ============================================================================

// Refund returns part or all of a captured payment. The amount is reserved
// against the balance under a row lock before the gateway is called, so
// concurrent refunds can never send out more than was captured.
func (s *PaymentService) Refund(ctx context.Context, id uuid.UUID, actor models.Actor, req *models.RefundRequest) (*models.Payment, error) {
	amount := models.RoundMoney(req.Amount)
	if amount <= 0 {
		return nil, errs.Validation("invalid_amount", "refund amount must be positive")
	}

	// 1. Reserve
	var payment *models.Payment
	var refund *models.PaymentRefund
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		payment, err = s.payments.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if payment == nil {
			return errs.NotFound("payment")
		}
		if err := checkRefundable(payment, amount); err != nil {
			return err
		}

		now := s.now()
		payment.RefundedAmount = models.RoundMoney(payment.RefundedAmount + amount)
		if err := s.record(ctx, payment, models.PaymentActionRefundRequested, actor, req.Reason, now); err != nil {
			return err
		}
		refund = &models.PaymentRefund{
			ID:          uuid.New(),
			PaymentID:   payment.ID,
			Amount:      amount,
			Status:      models.RefundStatusPending,
			Reason:      req.Reason,
			RequestedBy: actor,
			CreatedAt:   now,
		}
		return s.payments.CreateRefund(ctx, refund)
	})
	if err != nil {
		return nil, err
	}

	// 2. Gateway
	adapter, err := s.gateways.Get(payment.Gateway)
	if err != nil {
		s.releaseRefund(ctx, payment.ID, refund, actor, err)
		return nil, errs.Internal("payment gateway no longer configured", err)
	}

	start := time.Now()
	result, gwErr := adapter.Refund(ctx, &gateway.RefundRequest{
		GatewayPaymentID: derefString(payment.GatewayPaymentID),
		PaymentNumber:    payment.PaymentNumber,
		Amount:           amount,
		Currency:         payment.Currency,
		Reason:           req.Reason,
	})
	logEntry := models.NewPaymentTransaction(payment.ID, models.TransactionRefund, adapter.Name(), amount).
		SetProcessingTime(start)
	if gwErr != nil {
		s.logTransaction(ctx, logEntry.SetError(gwErr))
		s.releaseRefund(ctx, payment.ID, refund, actor, gwErr)
		return nil, errs.Dependency("payment gateway refused the refund", gwErr)
	}
	logEntry.SetOutcome(result.GatewayRefundID, string(refundStatus(result)), true)
	logEntry.ResponsePayload = rawToJSONB(result.Raw)
	s.logTransaction(ctx, logEntry)

	// 3. Settle
	now := s.now()
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		payment, err = s.payments.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if payment == nil {
			return errs.NotFound("payment")
		}

		refund.Status = refundStatus(result)
		refund.GatewayRefundID = models.StringPtr(result.GatewayRefundID)
		if err := s.payments.UpdateRefund(ctx, refund); err != nil {
			return err
		}

		payment.RefundCount++
		to := models.PaymentStatusPartiallyRefunded
		if payment.RefundableBalance() <= 0 {
			to = models.PaymentStatusRefunded
		}
		if err := s.transition(ctx, payment, to, models.PaymentActionRefunded, actor, req.Reason, now); err != nil {
			return err
		}
		if err := s.hydrate(ctx, payment); err != nil {
			return err
		}

		event := paymentPayload(payment)
		event["refund_amount"] = amount
		return enqueue(ctx, s.outbox, models.EventPaymentRefunded, payment.ID, event, now)
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"payment_id": id,
			"refund_id":  refund.ID,
			"amount":     amount,
		}).Error("Gateway refunded but settling the refund failed")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"payment_id":      payment.ID,
		"amount":          amount,
		"refunded_amount": payment.RefundedAmount,
		"actor":           actor,
	}).Info("Payment refunded")

	return payment, nil
}

// releaseRefund returns a reserved amount to the balance after the gateway
// did not pay it out
func (s *PaymentService) releaseRefund(ctx context.Context, paymentID uuid.UUID, refund *models.PaymentRefund, actor models.Actor, cause error) {
	now := s.now()
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		payment, err := s.payments.GetByIDForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return errs.NotFound("payment")
		}
		refund.Status = models.RefundStatusFailed
		if err := s.payments.UpdateRefund(ctx, refund); err != nil {
			return err
		}
		payment.RefundedAmount = models.RoundMoney(payment.RefundedAmount - refund.Amount)
		return s.record(ctx, payment, models.PaymentActionRefundFailed, actor, cause.Error(), now)
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"payment_id": paymentID,
			"refund_id":  refund.ID,
			"amount":     refund.Amount,
		}).Error("Failed to release refund reservation")
	}
}

func checkRefundable(p *models.Payment, amount float64) error {
	if p.Status != models.PaymentStatusCompleted && p.Status != models.PaymentStatusPartiallyRefunded {
		return errs.Conflict("invalid_state", "payment %s is %s and cannot be refunded", p.PaymentNumber, p.Status)
	}
	if !p.IsRefundable {
		return errs.Conflict("not_refundable", "payment %s is not refundable", p.PaymentNumber)
	}
	if models.RoundMoney(p.RefundedAmount+amount) > p.TotalAmount {
		return errs.Conflict("refund_exceeds_balance", "refund of %.2f exceeds the remaining balance %.2f", amount, p.RefundableBalance())
	}
	return nil
}

func refundStatus(r *gateway.RefundResult) models.RefundStatus {
	if r.Pending {
		return models.RefundStatusPending
	}
	return models.RefundStatusCompleted
}

// ============================================================================
// WEBHOOKS
// ============================================================================

// HandleWebhook verifies, parses and applies a gateway notification.
// Replays and events the lifecycle ignores are acknowledged without effect.
func (s *PaymentService) HandleWebhook(ctx context.Context, gatewayName string, payload []byte, signature string) error {
	adapter, err := s.gateways.Get(gatewayName)
	if err != nil {
		return errs.NotFound("gateway")
	}
	if !adapter.ValidateWebhookSignature(payload, signature) {
		s.logger.WithField("gateway", gatewayName).Warn("Rejected webhook with invalid signature")
		return errs.Validation("invalid_signature", "webhook signature is invalid")
	}

	event, err := adapter.ParseWebhook(payload)
	if err != nil {
		return errs.Validation("invalid_payload", "%s", err.Error())
	}

	payment, err := s.payments.GetByGatewayPaymentID(ctx, adapter.Name(), event.GatewayPaymentID)
	if err != nil {
		return err
	}
	if payment == nil && event.PaymentNumber != "" {
		if payment, err = s.payments.GetByNumber(ctx, event.PaymentNumber); err != nil {
			return err
		}
	}
	if payment == nil {
		return errs.NotFound("payment")
	}

	key := adapter.Name() + ":" + event.GatewayPaymentID + ":" + strings.ToLower(event.Event)
	logEntry := models.NewPaymentTransaction(payment.ID, models.TransactionWebhook, adapter.Name(), payment.TotalAmount).
		SetOutcome(event.Reference, event.Event, true)
	logEntry.IdempotencyKey = &key
	logEntry.RequestPayload = rawToJSONB(event.Raw)

	duplicate, err := s.transactions.CheckDuplicate(ctx, payment.ID, key)
	if err != nil {
		return err
	}
	if duplicate {
		s.logTransaction(ctx, logEntry.MarkAsDuplicate())
		s.logger.WithField("payment_id", payment.ID).Info("Duplicate webhook ignored")
		return nil
	}

	status, ok := gateway.MapEvent(event.Event)
	if !ok || status == gateway.StatusPending {
		s.logTransaction(ctx, logEntry)
		s.logger.WithFields(logrus.Fields{
			"payment_id": payment.ID,
			"event":      event.Event,
		}).Info("Webhook event ignored")
		return nil
	}

	_, err = s.Process(ctx, payment.ID, models.ActorGateway,
		gatewayResult(status, event.GatewayPaymentID, event.Reference, event.Amount, event.FailureReason))
	if errs.Is(err, errs.KindConflict) {
		// acknowledge so the gateway stops retrying an outdated event
		s.logger.WithError(err).WithField("payment_id", payment.ID).Warn("Webhook conflicts with payment state")
		s.logTransaction(ctx, logEntry.SetError(err))
		return nil
	}
	if err != nil {
		return err
	}

	s.logTransaction(ctx, logEntry)
	return nil
}

// ============================================================================
// EXPIRY
// ============================================================================

// ExpiryCandidates lists unsettled payments past their expiry
func (s *PaymentService) ExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	return s.payments.ListExpiredPending(ctx, now, limit)
}

// ExpireOne expires one payment in its own transaction
func (s *PaymentService) ExpireOne(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	expired := false
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		payment, err := s.payments.GetByIDForUpdate(ctx, id)
		if err != nil || payment == nil {
			return err
		}
		if payment.Status != models.PaymentStatusPending && payment.Status != models.PaymentStatusProcessing {
			return nil
		}
		if !now.After(payment.ExpiresAt) {
			return nil
		}
		if err := s.transition(ctx, payment, models.PaymentStatusExpired, models.PaymentActionExpired, models.ActorSweeper, "Expired", now); err != nil {
			return err
		}
		expired = true
		return enqueue(ctx, s.outbox, models.EventPaymentExpired, payment.ID, paymentPayload(payment), now)
	})
	return expired, err
}

// record writes a change that keeps the payment's status
func (s *PaymentService) record(ctx context.Context, p *models.Payment, action string, actor models.Actor, reason string, now time.Time) error {
	p.UpdatedAt = now
	if err := s.payments.Update(ctx, p); err != nil {
		return err
	}
	return s.history.Append(ctx, models.NewHistoryEntry(p.ID, string(p.Status), string(p.Status), action, actor, reason, now))
}

func (s *PaymentService) transition(ctx context.Context, p *models.Payment, to models.PaymentStatus, action string, actor models.Actor, reason string, now time.Time) error {
	from := p.Status
	if !from.CanTransitionTo(to) {
		return invalidState("payment", p.PaymentNumber, from, to)
	}

	p.Status = to
	p.UpdatedAt = now
	if err := s.payments.Update(ctx, p); err != nil {
		p.Status = from
		return err
	}
	if err := s.history.Append(ctx, models.NewHistoryEntry(p.ID, string(from), string(to), action, actor, reason, now)); err != nil {
		return err
	}

	metrics.Transitions.WithLabelValues("payment", string(to)).Inc()
	s.logger.WithFields(logrus.Fields{
		"payment_id":  p.ID,
		"from_status": from,
		"to_status":   to,
	}).Debug("Payment status changed")
	return nil
}

// ============================================================================
// READS
// ============================================================================

// Get returns a payment with refunds and history
func (s *PaymentService) Get(ctx context.Context, id uuid.UUID, caller Caller) (*models.Payment, error) {
	payment, err := s.load(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	return payment, s.hydrate(ctx, payment)
}

// GetByNumber returns a payment by its human-readable number
func (s *PaymentService) GetByNumber(ctx context.Context, number string, caller Caller) (*models.Payment, error) {
	payment, err := s.payments.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if payment == nil || !caller.CanAccess(payment.UserID) {
		return nil, errs.NotFound("payment")
	}
	return payment, s.hydrate(ctx, payment)
}

// GetByBooking lists every payment attempt of a booking
func (s *PaymentService) GetByBooking(ctx context.Context, bookingID uuid.UUID, caller Caller) ([]*models.Payment, error) {
	payments, err := s.payments.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if len(payments) > 0 && !caller.CanAccess(payments[0].UserID) {
		return nil, errs.NotFound("booking")
	}
	return payments, nil
}

// Search filters payments for operators
func (s *PaymentService) Search(ctx context.Context, params models.PaymentSearchParams) ([]*models.Payment, int, error) {
	params.Normalize()
	return s.payments.Search(ctx, params)
}

// Stats aggregates payments by status
func (s *PaymentService) Stats(ctx context.Context) (*models.LifecycleStats, error) {
	rows, err := s.payments.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return models.NewLifecycleStats(rows), nil
}

func (s *PaymentService) load(ctx context.Context, id uuid.UUID, caller Caller) (*models.Payment, error) {
	payment, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil || !caller.CanAccess(payment.UserID) {
		return nil, errs.NotFound("payment")
	}
	return payment, nil
}

func (s *PaymentService) hydrate(ctx context.Context, p *models.Payment) error {
	refunds, err := s.payments.ListRefunds(ctx, p.ID)
	if err != nil {
		return err
	}
	history, err := s.history.ListByEntity(ctx, p.ID)
	if err != nil {
		return err
	}
	p.Refunds = refunds
	p.History = history
	return nil
}

// logTransaction never fails the caller; the repository escalates failures
func (s *PaymentService) logTransaction(ctx context.Context, t *models.PaymentTransaction) {
	if err := s.transactions.Log(ctx, t); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WithError(err).WithField("payment_id", t.PaymentID).Error("Failed to log payment transaction")
	}
}

func gatewayResult(status gateway.Status, gatewayID, reference string, amount *float64, reason string) *models.GatewayResult {
	out := &models.GatewayResult{
		GatewayTransactionID: gatewayID,
		GatewayReference:     reference,
		Amount:               amount,
		FailureReason:        reason,
	}
	switch status {
	case gateway.StatusCompleted:
		out.Status = models.PaymentStatusCompleted
	case gateway.StatusFailed:
		out.Status = models.PaymentStatusFailed
	case gateway.StatusCancelled:
		out.Status = models.PaymentStatusCancelled
	default:
		out.Status = models.PaymentStatusProcessing
	}
	return out
}

func paymentPayload(p *models.Payment) models.JSONB {
	return models.JSONB{
		"payment_id":      p.ID.String(),
		"payment_number":  p.PaymentNumber,
		"booking_id":      p.BookingID.String(),
		"user_id":         p.UserID.String(),
		"status":          string(p.Status),
		"total_amount":    p.TotalAmount,
		"refunded_amount": p.RefundedAmount,
		"currency":        p.Currency,
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ============================================================================
// IN-PROCESS PEER ADAPTER
// ============================================================================

// LocalPayments exposes the payment service to the other lifecycles of the
// same process
type LocalPayments struct {
	Service *PaymentService
	Name    string
}

// GetPayment implements PaymentReader
func (l LocalPayments) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := l.Service.Get(ctx, id, SystemCaller(models.ServiceActor(l.Name)))
	if errs.Is(err, errs.KindNotFound) {
		return nil, nil
	}
	return payment, err
}

// RefundPayment implements RefundRequester
func (l LocalPayments) RefundPayment(ctx context.Context, paymentID uuid.UUID, actor models.Actor, req *models.RefundRequest) (*models.Payment, error) {
	return l.Service.Refund(ctx, paymentID, actor, req)
}
