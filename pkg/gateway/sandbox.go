package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// SandboxName is the registry name of the in-house test gateway
const SandboxName = "sandbox"

// Sandbox is an in-process gateway used in development and tests. Payments
// stay pending until a signed webhook or SetStatus settles them.
type Sandbox struct {
	secret  []byte
	feeRate float64

	mu       sync.Mutex
	payments map[string]*sandboxPayment
}

type sandboxPayment struct {
	number string
	amount float64
	status Status
}

type sandboxWebhook struct {
	Event         string   `json:"event"`
	PaymentID     string   `json:"payment_id"`
	PaymentNumber string   `json:"payment_number"`
	Amount        *float64 `json:"amount,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// NewSandbox creates the sandbox adapter. Webhooks are signed with
// hex(HMAC-SHA256(secret, body)).
func NewSandbox(webhookSecret string, feeRate float64) *Sandbox {
	return &Sandbox{
		secret:   []byte(webhookSecret),
		feeRate:  feeRate,
		payments: make(map[string]*sandboxPayment),
	}
}

// Name implements Adapter
func (s *Sandbox) Name() string { return SandboxName }

// CreatePayment implements Adapter
func (s *Sandbox) CreatePayment(ctx context.Context, req *PaymentRequest) (*PaymentResponse, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("sandbox: amount must be positive")
	}

	id := "sbx_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	s.mu.Lock()
	s.payments[id] = &sandboxPayment{number: req.PaymentNumber, amount: req.Amount, status: StatusPending}
	s.mu.Unlock()

	raw, _ := json.Marshal(map[string]string{"id": id, "status": string(StatusPending)})
	return &PaymentResponse{
		GatewayPaymentID: id,
		Reference:        req.PaymentNumber,
		PaymentURL:       "https://sandbox.smarttransit.lk/pay/" + id,
		Status:           StatusPending,
		Raw:              raw,
	}, nil
}

// SetStatus settles a sandbox payment, as a customer would on the hosted page
func (s *Sandbox) SetStatus(gatewayPaymentID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[gatewayPaymentID]
	if !ok {
		return fmt.Errorf("sandbox: unknown payment %s", gatewayPaymentID)
	}
	p.status = status
	return nil
}

// VerifyPayment implements Adapter
func (s *Sandbox) VerifyPayment(ctx context.Context, gatewayPaymentID string) (*VerifyResult, error) {
	s.mu.Lock()
	p, ok := s.payments[gatewayPaymentID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("sandbox: unknown payment %s", gatewayPaymentID)
	}

	amount := p.amount
	result := &VerifyResult{
		Status:           p.status,
		GatewayPaymentID: gatewayPaymentID,
		Reference:        p.number,
		Amount:           &amount,
	}
	if p.status == StatusFailed {
		result.FailureReason = "declined by sandbox"
	}
	return result, nil
}

// Refund implements Adapter
func (s *Sandbox) Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("sandbox: refund amount must be positive")
	}
	return &RefundResult{GatewayRefundID: "sbx_rf_" + strings.ReplaceAll(uuid.NewString(), "-", "")}, nil
}

// Sign returns the signature the sandbox expects for payload
func (s *Sandbox) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateWebhookSignature implements Adapter
func (s *Sandbox) ValidateWebhookSignature(payload []byte, signature string) bool {
	if len(s.secret) == 0 || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(s.Sign(payload))
	return hmac.Equal(got, want)
}

// ParseWebhook implements Adapter
func (s *Sandbox) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var hook sandboxWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if hook.PaymentID == "" || hook.Event == "" {
		return nil, fmt.Errorf("webhook missing required fields")
	}

	return &WebhookEvent{
		Event:            hook.Event,
		GatewayPaymentID: hook.PaymentID,
		PaymentNumber:    hook.PaymentNumber,
		Amount:           hook.Amount,
		FailureReason:    hook.Reason,
		Raw:              payload,
	}, nil
}

// CalculateFee implements Adapter
func (s *Sandbox) CalculateFee(amount float64, method string) float64 {
	return roundMoney(amount * s.feeRate)
}

// IsMethodSupported implements Adapter
func (s *Sandbox) IsMethodSupported(method string) bool {
	switch method {
	case MethodCard, MethodMobileWallet, MethodBankTransfer:
		return true
	}
	return false
}

// SupportedMethods implements Adapter
func (s *Sandbox) SupportedMethods() []MethodInfo {
	return []MethodInfo{
		{Gateway: SandboxName, Method: MethodCard, DisplayName: "Test Card", FeeRate: s.feeRate},
		{Gateway: SandboxName, Method: MethodMobileWallet, DisplayName: "Test Wallet", FeeRate: s.feeRate},
		{Gateway: SandboxName, Method: MethodBankTransfer, DisplayName: "Test Bank Transfer", FeeRate: s.feeRate},
	}
}
