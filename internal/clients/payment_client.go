package clients

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smarttransit/afc-backend/internal/errs"
	"github.com/smarttransit/afc-backend/internal/models"
)

// PaymentClient calls the payment service with a service token
type PaymentClient struct {
	serviceClient
}

// NewPaymentClient creates a client for the payment service at baseURL
func NewPaymentClient(baseURL, serviceName string, tokens TokenSource, timeout time.Duration, logger *logrus.Logger) *PaymentClient {
	return &PaymentClient{newServiceClient(baseURL, serviceName, "payment", tokens, timeout, logger)}
}

// GetPayment loads a payment. It returns nil, nil when the payment does
// not exist.
func (c *PaymentClient) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := c.do(ctx, http.MethodGet, "/api/v1/payments/"+id.String(), nil, &payment)
	if errs.Is(err, errs.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// RefundPayment asks the payment service to refund part or all of a payment.
// The remote records the calling service as the actor.
func (c *PaymentClient) RefundPayment(ctx context.Context, paymentID uuid.UUID, actor models.Actor, req *models.RefundRequest) (*models.Payment, error) {
	var payment models.Payment
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments/"+paymentID.String()+"/refund", req, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}
