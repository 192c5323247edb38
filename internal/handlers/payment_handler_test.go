package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/smarttransit/afc-backend/internal/errs"
	"github.com/smarttransit/afc-backend/internal/middleware"
	"github.com/smarttransit/afc-backend/internal/models"
	"github.com/smarttransit/afc-backend/internal/services"
	"github.com/smarttransit/afc-backend/pkg/gateway"
)

type stubPayments struct {
	payment      *models.Payment
	err          error
	gotActor     models.Actor
	gotResult    *models.GatewayResult
	gotRefund    *models.RefundRequest
	gotGateway   string
	gotPayload   []byte
	gotSignature string
}

func (s *stubPayments) Methods() []gateway.MethodInfo {
	return []gateway.MethodInfo{{Gateway: "sandbox", Method: "card", DisplayName: "Card", FeeRate: 0.025}}
}

func (s *stubPayments) EstimateFee(req *models.FeeEstimateRequest) (*models.FeeBreakdown, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.FeeBreakdown{Gateway: "sandbox", Method: req.Method, Amount: req.Amount, TotalAmount: req.Amount + 10}, nil
}

func (s *stubPayments) Create(ctx context.Context, caller services.Caller, req *models.CreatePaymentRequest) (*models.Payment, error) {
	return s.payment, s.err
}

func (s *stubPayments) Get(ctx context.Context, id uuid.UUID, caller services.Caller) (*models.Payment, error) {
	return s.payment, s.err
}

func (s *stubPayments) GetByNumber(ctx context.Context, number string, caller services.Caller) (*models.Payment, error) {
	return s.payment, s.err
}

func (s *stubPayments) GetByBooking(ctx context.Context, bookingID uuid.UUID, caller services.Caller) ([]*models.Payment, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []*models.Payment{s.payment}, nil
}

func (s *stubPayments) Process(ctx context.Context, id uuid.UUID, actor models.Actor, result *models.GatewayResult) (*models.Payment, error) {
	s.gotActor = actor
	s.gotResult = result
	return s.payment, s.err
}

func (s *stubPayments) Verify(ctx context.Context, id uuid.UUID, caller services.Caller) (*models.Payment, error) {
	return s.payment, s.err
}

func (s *stubPayments) Refund(ctx context.Context, id uuid.UUID, actor models.Actor, req *models.RefundRequest) (*models.Payment, error) {
	s.gotActor = actor
	s.gotRefund = req
	return s.payment, s.err
}

func (s *stubPayments) HandleWebhook(ctx context.Context, gatewayName string, payload []byte, signature string) error {
	s.gotGateway = gatewayName
	s.gotPayload = payload
	s.gotSignature = signature
	return s.err
}

func (s *stubPayments) Search(ctx context.Context, params models.PaymentSearchParams) ([]*models.Payment, int, error) {
	return []*models.Payment{}, 0, s.err
}

func (s *stubPayments) Stats(ctx context.Context) (*models.LifecycleStats, error) {
	return &models.LifecycleStats{Total: 3}, s.err
}

func paymentRouter(stub *stubPayments, userCtx middleware.UserContext) *gin.Engine {
	h := NewPaymentHandler(stub, quietLogger())
	router := testRouter(userCtx)
	router.GET("/payments/methods", h.ListMethods)
	router.POST("/payments/fee-estimate", h.EstimateFee)
	router.GET("/payments/booking/:booking_id", h.GetBookingPayments)
	router.POST("/payments/:id/process", h.ProcessPayment)
	router.POST("/payments/:id/refund", h.RefundPayment)
	router.POST("/webhooks/payments/:gateway", h.HandleWebhook)
	router.GET("/admin/payments/stats", h.PaymentStats)
	return router
}

func TestListMethods(t *testing.T) {
	router := paymentRouter(&stubPayments{}, passenger(uuid.New()))

	w := doJSON(router, http.MethodGet, "/payments/methods", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"gateway":"sandbox"`)
}

func TestEstimateFee_RejectsNonPositiveAmount(t *testing.T) {
	router := paymentRouter(&stubPayments{}, passenger(uuid.New()))

	w := doJSON(router, http.MethodPost, "/payments/fee-estimate", map[string]interface{}{"amount": 0, "method": "card"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/payments/fee-estimate", map[string]interface{}{"amount": 500, "method": "card"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(510), decode(t, w)["total_amount"])
}

func TestProcessPayment_PassesPeerActor(t *testing.T) {
	stub := &stubPayments{payment: &models.Payment{ID: uuid.New(), Status: models.PaymentStatusCompleted}}
	router := paymentRouter(stub, peer("gateway-bridge"))

	w := doJSON(router, http.MethodPost, "/payments/"+uuid.New().String()+"/process", map[string]interface{}{
		"status":                 "completed",
		"gateway_transaction_id": "txn-1",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ServiceActor("gateway-bridge"), stub.gotActor)
	assert.Equal(t, "txn-1", stub.gotResult.GatewayTransactionID)
}

func TestRefundPayment(t *testing.T) {
	adminID := uuid.New()
	stub := &stubPayments{payment: &models.Payment{ID: uuid.New(), Status: models.PaymentStatusPartiallyRefunded}}
	router := paymentRouter(stub, middleware.UserContext{UserID: adminID, Roles: []string{"admin"}})

	w := doJSON(router, http.MethodPost, "/payments/"+uuid.New().String()+"/refund", map[string]interface{}{
		"amount": 120.5,
		"reason": "service disruption",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.UserActor(adminID), stub.gotActor)
	assert.Equal(t, 120.5, stub.gotRefund.Amount)

	stub.err = errs.Validation("refund_exceeds_balance", "refund exceeds the refundable balance")
	w = doJSON(router, http.MethodPost, "/payments/"+uuid.New().String()+"/refund", map[string]interface{}{
		"amount": 9999,
		"reason": "oops",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "refund_exceeds_balance", decode(t, w)["code"])
}

func TestHandleWebhook_PassesRawBody(t *testing.T) {
	stub := &stubPayments{}
	router := paymentRouter(stub, passenger(uuid.New()))

	raw := `{"transaction_id":"txn-9", "status":"completed"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/sandbox", strings.NewReader(raw))
	req.Header.Set(WebhookSignatureHeader, "abc123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sandbox", stub.gotGateway)
	assert.Equal(t, raw, string(stub.gotPayload))
	assert.Equal(t, "abc123", stub.gotSignature)
	assert.Equal(t, true, decode(t, w)["received"])
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	stub := &stubPayments{err: errs.Validation("invalid_signature", "webhook signature is invalid")}
	router := paymentRouter(stub, passenger(uuid.New()))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/sandbox", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_signature", decode(t, w)["code"])
}

func TestGetBookingPayments(t *testing.T) {
	stub := &stubPayments{payment: &models.Payment{ID: uuid.New()}}
	router := paymentRouter(stub, passenger(uuid.New()))

	w := doJSON(router, http.MethodGet, "/payments/booking/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = doJSON(router, http.MethodGet, "/payments/booking/xyz", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentStats(t *testing.T) {
	router := paymentRouter(&stubPayments{}, middleware.UserContext{UserID: uuid.New(), Roles: []string{"admin"}})

	w := doJSON(router, http.MethodGet, "/admin/payments/stats", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["total"])
}
