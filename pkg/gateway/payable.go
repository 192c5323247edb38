package gateway

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// PAYableName is the registry name of the PAYable adapter
const PAYableName = "payable"

// PAYableEnvironmentURLs maps environment names to their IPG endpoint URLs
var PAYableEnvironmentURLs = map[string]string{
	"dev":        "https://payable-ipg-dev.web.app/ipg/dev",
	"sandbox":    "https://sandboxipgpayment.payable.lk/ipg/sandbox",
	"production": "https://ipgpayment.payable.lk/ipg/pro",
}

// PAYableConfig holds merchant credentials and URLs
type PAYableConfig struct {
	Environment   string
	MerchantKey   string
	MerchantToken string
	LogoURL       string
	ReturnURL     string
	WebhookURL    string
	FeeRate       float64
	BaseURL       string // overrides the environment endpoint, used in tests
}

// PAYable integrates the PAYable IPG
type PAYable struct {
	config PAYableConfig
	logger *logrus.Logger
	client *http.Client
}

// payableRequest is the body sent to the IPG.
// merchantToken is never sent, it only feeds the checkValue.
type payableRequest struct {
	MerchantKey         string `json:"merchantKey"`
	LogoURL             string `json:"logoUrl,omitempty"`
	ReturnURL           string `json:"returnUrl"`
	WebhookURL          string `json:"webhookUrl,omitempty"`
	StatusReturnURL     string `json:"statusReturnUrl,omitempty"`
	PaymentType         int    `json:"paymentType"`
	InvoiceID           string `json:"invoiceId"`
	Amount              string `json:"amount"`
	CurrencyCode        string `json:"currencyCode"`
	OrderDescription    string `json:"orderDescription,omitempty"`
	CustomerFirstName   string `json:"customerFirstName"`
	CustomerLastName    string `json:"customerLastName"`
	CustomerEmail       string `json:"customerEmail"`
	CustomerMobilePhone string `json:"customerMobilePhone"`

	BillingAddressStreet      string `json:"billingAddressStreet"`
	BillingAddressCity        string `json:"billingAddressCity"`
	BillingAddressCountry     string `json:"billingAddressCountry"`
	BillingAddressPostcodeZip string `json:"billingAddressPostcodeZip"`

	CheckValue         string `json:"checkValue"`
	IsMobilePayment    int    `json:"isMobilePayment"`
	IntegrationType    string `json:"integrationType"`
	IntegrationVersion string `json:"integrationVersion"`
}

type payableResponse struct {
	Status          string `json:"status"`
	UID             string `json:"uid"`
	StatusIndicator string `json:"statusIndicator"`
	PaymentPage     string `json:"paymentPage"`
	Message         string `json:"message,omitempty"`
}

type payableStatusRequest struct {
	UID string `json:"uid"`
}

type payableStatusResponse struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	Amount        string `json:"amount"`
	InvoiceID     string `json:"invoiceId"`
	TransactionID string `json:"transactionId,omitempty"`
	Message       string `json:"message,omitempty"`
}

type payableWebhook struct {
	UID           string `json:"uid"`
	InvoiceID     string `json:"invoiceId"`
	Amount        string `json:"amount"`
	CurrencyCode  string `json:"currencyCode"`
	PaymentStatus string `json:"paymentStatus"`
	TransactionID string `json:"transactionId,omitempty"`
	CheckValue    string `json:"checkValue,omitempty"`
	Message       string `json:"message,omitempty"`
}

// NewPAYable creates the PAYable adapter
func NewPAYable(cfg PAYableConfig, logger *logrus.Logger) *PAYable {
	return &PAYable{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements Adapter
func (p *PAYable) Name() string { return PAYableName }

// IsConfigured returns true if merchant credentials are present
func (p *PAYable) IsConfigured() bool {
	return p.config.MerchantKey != "" && p.config.MerchantToken != ""
}

func (p *PAYable) endpoint() string {
	if p.config.BaseURL != "" {
		return p.config.BaseURL
	}
	if u, ok := PAYableEnvironmentURLs[p.config.Environment]; ok {
		return u
	}
	return PAYableEnvironmentURLs["sandbox"]
}

// GenerateCheckValue creates the SHA-512 checkValue:
// upper(sha512("merchantKey|invoiceId|amount|currencyCode|" + upper(sha512(merchantToken))))
func (p *PAYable) GenerateCheckValue(invoiceID, amount, currencyCode string) string {
	hash1 := sha512.Sum512([]byte(p.config.MerchantToken))
	hash1Hex := strings.ToUpper(hex.EncodeToString(hash1[:]))

	data := fmt.Sprintf("%s|%s|%s|%s|%s", p.config.MerchantKey, invoiceID, amount, currencyCode, hash1Hex)
	hash2 := sha512.Sum512([]byte(data))
	return strings.ToUpper(hex.EncodeToString(hash2[:]))
}

// CreatePayment implements Adapter
func (p *PAYable) CreatePayment(ctx context.Context, req *PaymentRequest) (*PaymentResponse, error) {
	if !p.IsConfigured() {
		return nil, ErrNotConfigured
	}

	amount := formatAmount(req.Amount)
	firstName, lastName := splitName(req.CustomerName)

	body := &payableRequest{
		MerchantKey:               p.config.MerchantKey,
		LogoURL:                   p.config.LogoURL,
		ReturnURL:                 firstNonEmpty(req.ReturnURL, p.config.ReturnURL),
		WebhookURL:                p.config.WebhookURL,
		StatusReturnURL:           p.endpoint() + "/status-view",
		PaymentType:               1,
		InvoiceID:                 req.PaymentNumber,
		Amount:                    amount,
		CurrencyCode:              req.Currency,
		OrderDescription:          req.Description,
		CustomerFirstName:         firstName,
		CustomerLastName:          lastName,
		CustomerEmail:             firstNonEmpty(req.CustomerEmail, "customer@smarttransit.lk"),
		CustomerMobilePhone:       firstNonEmpty(req.CustomerPhone, "0770000000"),
		BillingAddressStreet:      "Sri Lanka",
		BillingAddressCity:        "Colombo",
		BillingAddressCountry:     "LK",
		BillingAddressPostcodeZip: "00000",
		CheckValue:                p.GenerateCheckValue(req.PaymentNumber, amount, req.Currency),
		IsMobilePayment:           1,
		IntegrationType:           "SmartTransit",
		IntegrationVersion:        "1.0.0",
	}

	p.logger.WithFields(logrus.Fields{
		"payment_number": req.PaymentNumber,
		"amount":         amount,
		"currency":       req.Currency,
	}).Info("Initiating PAYable payment")

	raw, status, err := p.post(ctx, p.endpoint(), body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("payment gateway returned status %d: %s", status, string(raw))
	}

	var resp payableResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// PAYable answers "PENDING" when the payment page is ready, "success" on older endpoints
	if resp.Status != "success" && resp.Status != "PENDING" {
		msg := resp.Message
		if msg == "" {
			msg = "status=" + resp.Status
		}
		return nil, fmt.Errorf("payment initiation failed: %s", msg)
	}
	if resp.PaymentPage == "" {
		return nil, fmt.Errorf("payment initiation failed: no payment page URL returned")
	}

	return &PaymentResponse{
		GatewayPaymentID: resp.UID,
		Reference:        resp.StatusIndicator,
		PaymentURL:       resp.PaymentPage,
		Status:           StatusPending,
		Raw:              raw,
	}, nil
}

// VerifyPayment implements Adapter
func (p *PAYable) VerifyPayment(ctx context.Context, gatewayPaymentID string) (*VerifyResult, error) {
	statusURL := strings.Replace(p.endpoint(), "/ipg/", "/check-status/", 1)

	raw, status, err := p.post(ctx, statusURL, &payableStatusRequest{UID: gatewayPaymentID})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("status check returned %d: %s", status, string(raw))
	}

	var resp payableStatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	result := &VerifyResult{
		Status:           StatusPending,
		GatewayPaymentID: gatewayPaymentID,
		Reference:        resp.TransactionID,
		Amount:           parseAmount(resp.Amount),
		Raw:              raw,
	}
	if s, ok := MapEvent(resp.PaymentStatus); ok {
		result.Status = s
	}
	if result.Status == StatusFailed {
		result.FailureReason = firstNonEmpty(resp.Message, "declined by gateway")
	}
	return result, nil
}

// Refund implements Adapter. The IPG has no refund API, so refunds are
// accepted as pending and settled from the merchant portal.
func (p *PAYable) Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	if !p.IsConfigured() {
		return nil, ErrNotConfigured
	}

	p.logger.WithFields(logrus.Fields{
		"gateway_payment_id": req.GatewayPaymentID,
		"payment_number":     req.PaymentNumber,
		"amount":             req.Amount,
	}).Warn("PAYable refund queued for manual settlement")

	raw, _ := json.Marshal(map[string]interface{}{
		"uid":    req.GatewayPaymentID,
		"amount": formatAmount(req.Amount),
		"reason": req.Reason,
	})
	return &RefundResult{Pending: true, Raw: raw}, nil
}

// ValidateWebhookSignature recomputes the checkValue over the notified
// invoice, amount and currency. The signature comes from the request header
// or, when empty, from the body's checkValue field.
func (p *PAYable) ValidateWebhookSignature(payload []byte, signature string) bool {
	if !p.IsConfigured() {
		return false
	}

	var hook payableWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return false
	}
	if signature == "" {
		signature = hook.CheckValue
	}
	if signature == "" {
		return false
	}

	expected := p.GenerateCheckValue(hook.InvoiceID, hook.Amount, hook.CurrencyCode)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToUpper(signature))) == 1
}

// ParseWebhook implements Adapter
func (p *PAYable) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var hook payableWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if hook.UID == "" || hook.InvoiceID == "" {
		return nil, fmt.Errorf("webhook missing required fields")
	}

	return &WebhookEvent{
		Event:            hook.PaymentStatus,
		GatewayPaymentID: hook.UID,
		PaymentNumber:    hook.InvoiceID,
		Reference:        hook.TransactionID,
		Amount:           parseAmount(hook.Amount),
		FailureReason:    hook.Message,
		Raw:              payload,
	}, nil
}

// CalculateFee implements Adapter
func (p *PAYable) CalculateFee(amount float64, method string) float64 {
	return roundMoney(amount * p.config.FeeRate)
}

// IsMethodSupported implements Adapter
func (p *PAYable) IsMethodSupported(method string) bool {
	return method == MethodCard || method == MethodMobileWallet
}

// SupportedMethods implements Adapter
func (p *PAYable) SupportedMethods() []MethodInfo {
	return []MethodInfo{
		{Gateway: PAYableName, Method: MethodCard, DisplayName: "Credit / Debit Card", FeeRate: p.config.FeeRate},
		{Gateway: PAYableName, Method: MethodMobileWallet, DisplayName: "Mobile Wallet", FeeRate: p.config.FeeRate},
	}
}

func (p *PAYable) post(ctx context.Context, url string, body interface{}) ([]byte, int, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.WithError(err).Error("Failed to call PAYable endpoint")
		return nil, 0, fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"url":         url,
	}).Debug("PAYable response received")

	return raw, resp.StatusCode, nil
}

// splitName splits a full name into first and last name. PAYable requires
// a non-empty last name.
func splitName(fullName string) (firstName, lastName string) {
	parts := strings.Fields(fullName)
	switch len(parts) {
	case 0:
		return "Customer", "."
	case 1:
		return parts[0], "."
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(roundMoney(v), 'f', 2, 64)
}

func parseAmount(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
