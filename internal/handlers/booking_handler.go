package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smarttransit/afc-backend/internal/middleware"
	"github.com/smarttransit/afc-backend/internal/models"
	"github.com/smarttransit/afc-backend/internal/services"
)

// BookingLifecycle is the booking manager as seen by HTTP
type BookingLifecycle interface {
	CalculateFare(ctx context.Context, req *models.FareRequest) (*models.FareBreakdown, error)
	Create(ctx context.Context, userID uuid.UUID, req *models.CreateBookingRequest) (*models.Booking, error)
	Get(ctx context.Context, id uuid.UUID, caller services.Caller) (*models.Booking, error)
	GetByNumber(ctx context.Context, number string, caller services.Caller) (*models.Booking, error)
	ListMine(ctx context.Context, userID uuid.UUID, params models.ListParams) ([]*models.Booking, int, error)
	Update(ctx context.Context, id uuid.UUID, caller services.Caller, req *models.UpdateBookingRequest) (*models.Booking, error)
	Confirm(ctx context.Context, id uuid.UUID, actor models.Actor, req *models.ConfirmBookingRequest) (*models.Booking, error)
	Cancel(ctx context.Context, id uuid.UUID, caller services.Caller, reason string) (*models.Booking, error)
	Complete(ctx context.Context, id uuid.UUID, actor models.Actor) (*models.Booking, error)
	Search(ctx context.Context, params models.BookingSearchParams) ([]*models.Booking, int, error)
	Stats(ctx context.Context) (*models.LifecycleStats, error)
}

// BookingHandler handles booking and fare endpoints
type BookingHandler struct {
	bookings BookingLifecycle
	logger   *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookings BookingLifecycle, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, logger: logger}
}

// CalculateFare prices a journey without creating a booking
// POST /api/v1/fares/calculate
func (h *BookingHandler) CalculateFare(c *gin.Context) {
	var req models.FareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	breakdown, err := h.bookings.CalculateFare(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, breakdown)
}

// CreateBooking prices and holds a booking for the authenticated user
// POST /api/v1/bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	booking, err := h.bookings.Create(c.Request.Context(), userCtx.UserID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, booking)
}

// GetBooking returns one booking with passengers and history
// GET /api/v1/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookings.Get(c.Request.Context(), id, callerOf(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// GetBookingByNumber looks a booking up by its BK number
// GET /api/v1/bookings/number/:number
func (h *BookingHandler) GetBookingByNumber(c *gin.Context) {
	booking, err := h.bookings.GetByNumber(c.Request.Context(), c.Param("number"), callerOf(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// ListMyBookings pages through the caller's bookings, newest first
// GET /api/v1/bookings/mine
func (h *BookingHandler) ListMyBookings(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)
	params := listParams(c)

	bookings, total, err := h.bookings.ListMine(c.Request.Context(), userCtx.UserID, params)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	page(c, "bookings", bookings, total, params)
}

// UpdateBooking changes contact and seat metadata of an editable booking
// PUT /api/v1/bookings/:id
func (h *BookingHandler) UpdateBooking(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req models.UpdateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	booking, err := h.bookings.Update(c.Request.Context(), id, callerOf(c), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// ConfirmBooking marks a booking paid. Called by the payment service.
// POST /api/v1/bookings/:id/confirm
func (h *BookingHandler) ConfirmBooking(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req models.ConfirmBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	booking, err := h.bookings.Confirm(c.Request.Context(), id, callerOf(c).Actor, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// CancelBooking cancels a booking on behalf of its owner or an admin
// POST /api/v1/bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req models.CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}
	}

	booking, err := h.bookings.Cancel(c.Request.Context(), id, callerOf(c), req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// CompleteBooking closes a booking whose ticket was used. Called by the
// ticket service.
// POST /api/v1/bookings/:id/complete
func (h *BookingHandler) CompleteBooking(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookings.Complete(c.Request.Context(), id, callerOf(c).Actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// SearchBookings is the admin booking search
// GET /api/v1/admin/bookings
func (h *BookingHandler) SearchBookings(c *gin.Context) {
	var params models.BookingSearchParams
	if err := c.ShouldBindQuery(&params); err != nil {
		badRequest(c, "Invalid query parameters", err)
		return
	}
	if raw := c.Query("user_id"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "Invalid user_id", nil)
			return
		}
		params.UserID = &userID
	}
	params.Normalize()

	bookings, total, err := h.bookings.Search(c.Request.Context(), params)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	page(c, "bookings", bookings, total, params.ListParams)
}

// BookingStats summarises bookings by status
// GET /api/v1/admin/bookings/stats
func (h *BookingHandler) BookingStats(c *gin.Context) {
	stats, err := h.bookings.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
