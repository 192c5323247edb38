package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smarttransit/afc-backend/internal/models"
	"github.com/smarttransit/afc-backend/internal/services"
	"github.com/smarttransit/afc-backend/pkg/gateway"
)

// WebhookSignatureHeader carries the gateway's signature of a webhook body
const WebhookSignatureHeader = "X-Webhook-Signature"

// maxWebhookBody bounds what a gateway may post
const maxWebhookBody = 1 << 20

// PaymentLifecycle is the payment manager as seen by HTTP
type PaymentLifecycle interface {
	Methods() []gateway.MethodInfo
	EstimateFee(req *models.FeeEstimateRequest) (*models.FeeBreakdown, error)
	Create(ctx context.Context, caller services.Caller, req *models.CreatePaymentRequest) (*models.Payment, error)
	Get(ctx context.Context, id uuid.UUID, caller services.Caller) (*models.Payment, error)
	GetByNumber(ctx context.Context, number string, caller services.Caller) (*models.Payment, error)
	GetByBooking(ctx context.Context, bookingID uuid.UUID, caller services.Caller) ([]*models.Payment, error)
	Process(ctx context.Context, id uuid.UUID, actor models.Actor, result *models.GatewayResult) (*models.Payment, error)
	Verify(ctx context.Context, id uuid.UUID, caller services.Caller) (*models.Payment, error)
	Refund(ctx context.Context, id uuid.UUID, actor models.Actor, req *models.RefundRequest) (*models.Payment, error)
	HandleWebhook(ctx context.Context, gatewayName string, payload []byte, signature string) error
	Search(ctx context.Context, params models.PaymentSearchParams) ([]*models.Payment, int, error)
	Stats(ctx context.Context) (*models.LifecycleStats, error)
}

// PaymentHandler handles payment, refund and webhook endpoints
type PaymentHandler struct {
	payments PaymentLifecycle
	logger   *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(payments PaymentLifecycle, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, logger: logger}
}

// ListMethods lists the payment methods the configured gateways accept
// GET /api/v1/payments/methods
func (h *PaymentHandler) ListMethods(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"methods": h.payments.Methods()})
}

// EstimateFee returns the fee breakdown of a prospective payment
// POST /api/v1/payments/fee-estimate
func (h *PaymentHandler) EstimateFee(c *gin.Context) {
	var req models.FeeEstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	fees, err := h.payments.EstimateFee(&req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, fees)
}

// CreatePayment opens a gateway payment for a pending booking
// POST /api/v1/payments
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	payment, err := h.payments.Create(c.Request.Context(), callerOf(c), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

// GetPayment returns one payment with refunds and history
// GET /api/v1/payments/:id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	payment, err := h.payments.Get(c.Request.Context(), id, callerOf(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// GetPaymentByNumber looks a payment up by its PAY number
// GET /api/v1/payments/number/:number
func (h *PaymentHandler) GetPaymentByNumber(c *gin.Context) {
	payment, err := h.payments.GetByNumber(c.Request.Context(), c.Param("number"), callerOf(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// GetBookingPayments lists every payment attempt of a booking
// GET /api/v1/payments/booking/:booking_id
func (h *PaymentHandler) GetBookingPayments(c *gin.Context) {
	bookingID, ok := uuidParam(c, "booking_id")
	if !ok {
		return
	}

	payments, err := h.payments.GetByBooking(c.Request.Context(), bookingID, callerOf(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments, "total": len(payments)})
}

// ProcessPayment applies a gateway outcome reported by a trusted peer
// POST /api/v1/payments/:id/process
func (h *PaymentHandler) ProcessPayment(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var result models.GatewayResult
	if err := c.ShouldBindJSON(&result); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	payment, err := h.payments.Process(c.Request.Context(), id, callerOf(c).Actor, &result)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// VerifyPayment asks the gateway for the current status and applies it
// POST /api/v1/payments/:id/verify
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	payment, err := h.payments.Verify(c.Request.Context(), id, callerOf(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// RefundPayment returns part or all of a captured payment
// POST /api/v1/payments/:id/refund
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req models.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	payment, err := h.payments.Refund(c.Request.Context(), id, callerOf(c).Actor, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// HandleWebhook receives a gateway notification. The body is passed on
// unparsed because signatures cover the exact bytes.
// POST /api/v1/webhooks/payments/:gateway
func (h *PaymentHandler) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "Failed to read webhook body", err)
		return
	}

	gatewayName := c.Param("gateway")
	if err := h.payments.HandleWebhook(c.Request.Context(), gatewayName, payload, c.GetHeader(WebhookSignatureHeader)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// SearchPayments is the admin payment search
// GET /api/v1/admin/payments
func (h *PaymentHandler) SearchPayments(c *gin.Context) {
	var params models.PaymentSearchParams
	if err := c.ShouldBindQuery(&params); err != nil {
		badRequest(c, "Invalid query parameters", err)
		return
	}
	if raw := c.Query("booking_id"); raw != "" {
		bookingID, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "Invalid booking_id", nil)
			return
		}
		params.BookingID = &bookingID
	}
	params.Normalize()

	payments, total, err := h.payments.Search(c.Request.Context(), params)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	page(c, "payments", payments, total, params.ListParams)
}

// PaymentStats summarises payments by status
// GET /api/v1/admin/payments/stats
func (h *PaymentHandler) PaymentStats(c *gin.Context) {
	stats, err := h.payments.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
