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

// BookingClient calls the booking service with a service token
type BookingClient struct {
	serviceClient
}

// NewBookingClient creates a client for the booking service at baseURL
func NewBookingClient(baseURL, serviceName string, tokens TokenSource, timeout time.Duration, logger *logrus.Logger) *BookingClient {
	return &BookingClient{newServiceClient(baseURL, serviceName, "booking", tokens, timeout, logger)}
}

// GetBooking loads a booking with its passengers. It returns nil, nil when
// the booking does not exist.
func (c *BookingClient) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	err := c.do(ctx, http.MethodGet, "/api/v1/bookings/"+id.String(), nil, &booking)
	if errs.Is(err, errs.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// ConfirmBooking confirms a booking after its payment was captured
func (c *BookingClient) ConfirmBooking(ctx context.Context, id uuid.UUID, req *models.ConfirmBookingRequest) (*models.Booking, error) {
	var booking models.Booking
	if err := c.do(ctx, http.MethodPost, "/api/v1/bookings/"+id.String()+"/confirm", req, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

// CompleteBooking closes a booking once its ticket has been used
func (c *BookingClient) CompleteBooking(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/api/v1/bookings/"+id.String()+"/complete", nil, nil)
}
