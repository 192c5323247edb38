// Package gateway abstracts third-party payment gateways behind one adapter
// interface so the payment lifecycle never depends on a wire protocol.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Status is a gateway-neutral payment outcome
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Payment methods understood by the adapters
const (
	MethodCard         = "card"
	MethodMobileWallet = "mobile_wallet"
	MethodBankTransfer = "bank_transfer"
)

var (
	// ErrUnknownGateway is returned by the registry for unregistered names
	ErrUnknownGateway = errors.New("unknown payment gateway")
	// ErrInvalidSignature is returned when a webhook signature does not verify
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrNotConfigured is returned when an adapter lacks credentials
	ErrNotConfigured = errors.New("payment gateway not configured")
)

// MethodInfo describes one payment method offered by a gateway
type MethodInfo struct {
	Gateway     string  `json:"gateway"`
	Method      string  `json:"method"`
	DisplayName string  `json:"display_name"`
	FeeRate     float64 `json:"fee_rate"`
}

// PaymentRequest is what an adapter needs to open a payment
type PaymentRequest struct {
	PaymentID     uuid.UUID
	PaymentNumber string
	BookingNumber string
	Amount        float64
	Currency      string
	Method        string
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	Description   string
	ReturnURL     string
}

// PaymentResponse is the gateway's answer to CreatePayment
type PaymentResponse struct {
	GatewayPaymentID string
	Reference        string
	PaymentURL       string
	Status           Status
	Raw              json.RawMessage
}

// VerifyResult is the gateway's view of a payment
type VerifyResult struct {
	Status           Status
	GatewayPaymentID string
	Reference        string
	Amount           *float64
	FailureReason    string
	Raw              json.RawMessage
}

// RefundRequest asks a gateway to return money
type RefundRequest struct {
	GatewayPaymentID string
	PaymentNumber    string
	Amount           float64
	Currency         string
	Reason           string
}

// RefundResult reports a refund. Pending means the gateway accepted it for
// manual settlement.
type RefundResult struct {
	GatewayRefundID string
	Pending         bool
	Raw             json.RawMessage
}

// WebhookEvent is a parsed gateway notification
type WebhookEvent struct {
	Event            string
	GatewayPaymentID string
	PaymentNumber    string
	Reference        string
	Amount           *float64
	FailureReason    string
	Raw              json.RawMessage
}

// Adapter is implemented by every payment gateway integration
type Adapter interface {
	Name() string
	CreatePayment(ctx context.Context, req *PaymentRequest) (*PaymentResponse, error)
	VerifyPayment(ctx context.Context, gatewayPaymentID string) (*VerifyResult, error)
	Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error)
	ValidateWebhookSignature(payload []byte, signature string) bool
	ParseWebhook(payload []byte) (*WebhookEvent, error)
	CalculateFee(amount float64, method string) float64
	IsMethodSupported(method string) bool
	SupportedMethods() []MethodInfo
}

// eventStatus maps gateway event names to outcomes. Refund notifications are
// deliberately absent; refunds are driven from our side.
var eventStatus = map[string]Status{
	"captured":  StatusCompleted,
	"success":   StatusCompleted,
	"completed": StatusCompleted,
	"paid":      StatusCompleted,
	"failed":    StatusFailed,
	"declined":  StatusFailed,
	"error":     StatusFailed,
	"cancelled": StatusCancelled,
	"canceled":  StatusCancelled,
	"pending":   StatusPending,
}

// MapEvent translates a gateway event name. ok is false for events the
// payment lifecycle ignores (refunded, unknown).
func MapEvent(event string) (Status, bool) {
	status, ok := eventStatus[strings.ToLower(strings.TrimSpace(event))]
	return status, ok
}

// Registry holds the adapters available to this process
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a registry with the given adapters
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter registered under name
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGateway, name)
	}
	return a, nil
}

// Names returns registered gateway names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Methods lists every method of every registered gateway
func (r *Registry) Methods() []MethodInfo {
	var out []MethodInfo
	for _, name := range r.Names() {
		a, _ := r.Get(name)
		out = append(out, a.SupportedMethods()...)
	}
	return out
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
