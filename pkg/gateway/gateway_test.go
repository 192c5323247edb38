package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestMapEvent(t *testing.T) {
	tests := []struct {
		event  string
		status Status
		ok     bool
	}{
		{"captured", StatusCompleted, true},
		{"SUCCESS", StatusCompleted, true},
		{"completed", StatusCompleted, true},
		{"failed", StatusFailed, true},
		{"declined", StatusFailed, true},
		{"CANCELLED", StatusCancelled, true},
		{"refunded", "", false},
		{"something-else", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			status, ok := MapEvent(tt.event)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestRegistry(t *testing.T) {
	sandbox := NewSandbox("secret", 0.015)
	payable := NewPAYable(PAYableConfig{FeeRate: 0.025}, quietLogger())
	registry := NewRegistry(sandbox, payable)

	a, err := registry.Get(SandboxName)
	require.NoError(t, err)
	assert.Equal(t, SandboxName, a.Name())

	_, err = registry.Get("stripe")
	assert.ErrorIs(t, err, ErrUnknownGateway)

	assert.Equal(t, []string{PAYableName, SandboxName}, registry.Names())
	assert.Len(t, registry.Methods(), 5)
}

func TestSandbox_Lifecycle(t *testing.T) {
	ctx := context.Background()
	sandbox := NewSandbox("secret", 0.015)

	resp, err := sandbox.CreatePayment(ctx, &PaymentRequest{PaymentNumber: "PAY-20260301-000001", Amount: 100})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, resp.Status)
	assert.NotEmpty(t, resp.PaymentURL)

	v, err := sandbox.VerifyPayment(ctx, resp.GatewayPaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, v.Status)

	require.NoError(t, sandbox.SetStatus(resp.GatewayPaymentID, StatusCompleted))
	v, err = sandbox.VerifyPayment(ctx, resp.GatewayPaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, v.Status)
	assert.Equal(t, 100.0, *v.Amount)

	refund, err := sandbox.Refund(ctx, &RefundRequest{GatewayPaymentID: resp.GatewayPaymentID, Amount: 40})
	require.NoError(t, err)
	assert.False(t, refund.Pending)
	assert.NotEmpty(t, refund.GatewayRefundID)

	assert.Equal(t, 1.5, sandbox.CalculateFee(100, MethodCard))
	assert.True(t, sandbox.IsMethodSupported(MethodBankTransfer))
	assert.False(t, sandbox.IsMethodSupported("cash"))
}

func TestSandbox_Webhook(t *testing.T) {
	sandbox := NewSandbox("secret", 0.015)
	payload := []byte(`{"event":"captured","payment_id":"sbx_1","payment_number":"PAY-20260301-000001"}`)

	sig := sandbox.Sign(payload)
	assert.True(t, sandbox.ValidateWebhookSignature(payload, sig))
	assert.False(t, sandbox.ValidateWebhookSignature(payload, "deadbeef"))
	assert.False(t, sandbox.ValidateWebhookSignature(payload, "not-hex"))
	assert.False(t, sandbox.ValidateWebhookSignature([]byte(`{"event":"failed"}`), sig))

	event, err := sandbox.ParseWebhook(payload)
	require.NoError(t, err)
	assert.Equal(t, "captured", event.Event)
	assert.Equal(t, "sbx_1", event.GatewayPaymentID)

	_, err = sandbox.ParseWebhook([]byte(`{"event":"captured"}`))
	assert.Error(t, err)
}

func TestSandbox_UnsignedWhenNoSecret(t *testing.T) {
	sandbox := NewSandbox("", 0.015)
	payload := []byte(`{"event":"captured","payment_id":"sbx_1"}`)
	assert.False(t, sandbox.ValidateWebhookSignature(payload, sandbox.Sign(payload)))
}

func TestPAYable_CheckValue(t *testing.T) {
	p := NewPAYable(PAYableConfig{MerchantKey: "MKEY", MerchantToken: "MTOKEN"}, quietLogger())

	cv := p.GenerateCheckValue("PAY-1", "100.00", "LKR")
	assert.Len(t, cv, 128)
	assert.Equal(t, cv, p.GenerateCheckValue("PAY-1", "100.00", "LKR"))
	assert.NotEqual(t, cv, p.GenerateCheckValue("PAY-1", "100.01", "LKR"))

	body, err := json.Marshal(payableWebhook{
		UID: "uid-1", InvoiceID: "PAY-1", Amount: "100.00", CurrencyCode: "LKR", PaymentStatus: "SUCCESS",
	})
	require.NoError(t, err)
	assert.True(t, p.ValidateWebhookSignature(body, cv))
	assert.False(t, p.ValidateWebhookSignature(body, ""))
	assert.False(t, p.ValidateWebhookSignature(body, "ABC"))
}

func TestPAYable_CreatePayment(t *testing.T) {
	var received payableRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"PENDING","uid":"uid-1","statusIndicator":"si-1","paymentPage":"https://pay.example/uid-1"}`))
	}))
	defer server.Close()

	p := NewPAYable(PAYableConfig{
		MerchantKey: "MKEY", MerchantToken: "MTOKEN", BaseURL: server.URL + "/ipg/sandbox", FeeRate: 0.025,
	}, quietLogger())

	resp, err := p.CreatePayment(context.Background(), &PaymentRequest{
		PaymentNumber: "PAY-1", Amount: 210, Currency: "LKR", CustomerName: "Nimal",
	})
	require.NoError(t, err)
	assert.Equal(t, "uid-1", resp.GatewayPaymentID)
	assert.Equal(t, "https://pay.example/uid-1", resp.PaymentURL)

	assert.Equal(t, "210.00", received.Amount)
	assert.Equal(t, "Nimal", received.CustomerFirstName)
	assert.Equal(t, ".", received.CustomerLastName)
	assert.Equal(t, p.GenerateCheckValue("PAY-1", "210.00", "LKR"), received.CheckValue)
}

func TestPAYable_CreatePaymentErrors(t *testing.T) {
	p := NewPAYable(PAYableConfig{}, quietLogger())
	_, err := p.CreatePayment(context.Background(), &PaymentRequest{PaymentNumber: "PAY-1", Amount: 1})
	assert.ErrorIs(t, err, ErrNotConfigured)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","message":"bad merchant"}`))
	}))
	defer server.Close()

	p = NewPAYable(PAYableConfig{MerchantKey: "MKEY", MerchantToken: "MTOKEN", BaseURL: server.URL}, quietLogger())
	_, err = p.CreatePayment(context.Background(), &PaymentRequest{PaymentNumber: "PAY-1", Amount: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad merchant")
}

func TestPAYable_VerifyPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/check-status/sandbox", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"success","paymentStatus":"SUCCESS","amount":"210.00","transactionId":"tx-9"}`))
	}))
	defer server.Close()

	p := NewPAYable(PAYableConfig{MerchantKey: "MKEY", MerchantToken: "MTOKEN", BaseURL: server.URL + "/ipg/sandbox"}, quietLogger())

	result, err := p.VerifyPayment(context.Background(), "uid-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "tx-9", result.Reference)
	assert.Equal(t, 210.0, *result.Amount)
}

func TestPAYable_RefundIsPending(t *testing.T) {
	p := NewPAYable(PAYableConfig{MerchantKey: "MKEY", MerchantToken: "MTOKEN"}, quietLogger())
	result, err := p.Refund(context.Background(), &RefundRequest{GatewayPaymentID: "uid-1", Amount: 50})
	require.NoError(t, err)
	assert.True(t, result.Pending)
}

func TestSplitName(t *testing.T) {
	first, last := splitName("")
	assert.Equal(t, "Customer", first)
	assert.Equal(t, ".", last)

	first, last = splitName("Kamal Perera Silva")
	assert.Equal(t, "Kamal", first)
	assert.Equal(t, "Perera Silva", last)
}
