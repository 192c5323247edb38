package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smarttransit/afc-backend/internal/models"
	"github.com/smarttransit/afc-backend/internal/services"
)

// TicketLifecycle is the ticket manager as seen by HTTP
type TicketLifecycle interface {
	Create(ctx context.Context, caller services.Caller, req *models.CreateTicketRequest) (*models.Ticket, error)
	Get(ctx context.Context, id uuid.UUID, caller services.Caller) (*models.Ticket, error)
	GetByNumber(ctx context.Context, number string, caller services.Caller) (*models.Ticket, error)
	GetByBooking(ctx context.Context, bookingID uuid.UUID, caller services.Caller) (*models.Ticket, error)
	Activate(ctx context.Context, id uuid.UUID, caller services.Caller) (*models.Ticket, error)
	Suspend(ctx context.Context, id uuid.UUID, caller services.Caller, reason string) (*models.Ticket, error)
	Reinstate(ctx context.Context, id uuid.UUID, caller services.Caller) (*models.Ticket, error)
	Cancel(ctx context.Context, id uuid.UUID, caller services.Caller, req *models.CancelTicketRequest) (*models.Ticket, error)
	RegenerateQRCode(ctx context.Context, id uuid.UUID, caller services.Caller) (*models.Ticket, error)
	QRImage(ctx context.Context, id uuid.UUID, caller services.Caller) ([]byte, error)
	TicketPDF(ctx context.Context, id uuid.UUID, caller services.Caller) ([]byte, string, error)
	Transfer(ctx context.Context, id uuid.UUID, caller services.Caller, req *models.TransferRequest) (*models.TicketTransfer, error)
	BulkCancel(ctx context.Context, caller services.Caller, req *models.BulkTicketRequest) *models.BulkResult
	BulkActivate(ctx context.Context, caller services.Caller, req *models.BulkTicketRequest) *models.BulkResult
	BulkSuspend(ctx context.Context, caller services.Caller, req *models.BulkTicketRequest) *models.BulkResult
	Search(ctx context.Context, params models.TicketSearchParams) ([]*models.Ticket, int, error)
	Stats(ctx context.Context) (*models.LifecycleStats, error)
}

// TicketHandler handles ticket issuance, lifecycle and document endpoints
type TicketHandler struct {
	tickets TicketLifecycle
	logger  *logrus.Logger
}

// NewTicketHandler creates a new TicketHandler
func NewTicketHandler(tickets TicketLifecycle, logger *logrus.Logger) *TicketHandler {
	return &TicketHandler{tickets: tickets, logger: logger}
}

// CreateTicket issues the ticket of a confirmed, paid booking
// POST /api/v1/tickets
func (h *TicketHandler) CreateTicket(c *gin.Context) {
	var req models.CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	ticket, err := h.tickets.Create(c.Request.Context(), callerOf(c), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, ticket)
}

// GetTicket returns one ticket with its history
// GET /api/v1/tickets/:id
func (h *TicketHandler) GetTicket(c *gin.Context) {
	h.byID(c, h.tickets.Get)
}

// GetTicketByNumber looks a ticket up by its TKT number
// GET /api/v1/tickets/number/:number
func (h *TicketHandler) GetTicketByNumber(c *gin.Context) {
	ticket, err := h.tickets.GetByNumber(c.Request.Context(), c.Param("number"), callerOf(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// GetBookingTicket returns the ticket issued for a booking
// GET /api/v1/tickets/booking/:booking_id
func (h *TicketHandler) GetBookingTicket(c *gin.Context) {
	bookingID, ok := uuidParam(c, "booking_id")
	if !ok {
		return
	}

	ticket, err := h.tickets.GetByBooking(c.Request.Context(), bookingID, callerOf(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// ActivateTicket activates a generated ticket inside its validity window
// POST /api/v1/tickets/:id/activate
func (h *TicketHandler) ActivateTicket(c *gin.Context) {
	h.byID(c, h.tickets.Activate)
}

// SuspendTicket takes a ticket out of service pending review
// POST /api/v1/tickets/:id/suspend
func (h *TicketHandler) SuspendTicket(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req models.SuspendTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	ticket, err := h.tickets.Suspend(c.Request.Context(), id, callerOf(c), req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// ReinstateTicket returns a suspended ticket to service
// POST /api/v1/tickets/:id/reinstate
func (h *TicketHandler) ReinstateTicket(c *gin.Context) {
	h.byID(c, h.tickets.Reinstate)
}

// CancelTicket cancels a ticket, optionally refunding its payment
// POST /api/v1/tickets/:id/cancel
func (h *TicketHandler) CancelTicket(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req models.CancelTicketRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}
	}

	ticket, err := h.tickets.Cancel(c.Request.Context(), id, callerOf(c), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// RegenerateQRCode retires the current QR payload and issues a new one
// POST /api/v1/tickets/:id/regenerate-qr
func (h *TicketHandler) RegenerateQRCode(c *gin.Context) {
	h.byID(c, h.tickets.RegenerateQRCode)
}

// GetQRImage renders the current QR payload as a PNG
// GET /api/v1/tickets/:id/qr.png
func (h *TicketHandler) GetQRImage(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	png, err := h.tickets.QRImage(c.Request.Context(), id, callerOf(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// GetTicketPDF renders the e-ticket
// GET /api/v1/tickets/:id/pdf
func (h *TicketHandler) GetTicketPDF(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	pdf, filename, err := h.tickets.TicketPDF(c.Request.Context(), id, callerOf(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// TransferTicket links an exit and a later entry validation as a transfer
// POST /api/v1/tickets/:id/transfer
func (h *TicketHandler) TransferTicket(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req models.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	transfer, err := h.tickets.Transfer(c.Request.Context(), id, callerOf(c), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, transfer)
}

// BulkCancel cancels many tickets, reporting per ticket
// POST /api/v1/tickets/bulk/cancel
func (h *TicketHandler) BulkCancel(c *gin.Context) {
	h.bulk(c, h.tickets.BulkCancel)
}

// BulkActivate activates many tickets, reporting per ticket
// POST /api/v1/tickets/bulk/activate
func (h *TicketHandler) BulkActivate(c *gin.Context) {
	h.bulk(c, h.tickets.BulkActivate)
}

// BulkSuspend suspends many tickets, reporting per ticket
// POST /api/v1/tickets/bulk/suspend
func (h *TicketHandler) BulkSuspend(c *gin.Context) {
	h.bulk(c, h.tickets.BulkSuspend)
}

// SearchTickets is the admin ticket search
// GET /api/v1/admin/tickets
func (h *TicketHandler) SearchTickets(c *gin.Context) {
	var params models.TicketSearchParams
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

	tickets, total, err := h.tickets.Search(c.Request.Context(), params)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	page(c, "tickets", tickets, total, params.ListParams)
}

// TicketStats summarises tickets by status
// GET /api/v1/admin/tickets/stats
func (h *TicketHandler) TicketStats(c *gin.Context) {
	stats, err := h.tickets.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *TicketHandler) byID(c *gin.Context, op func(ctx context.Context, id uuid.UUID, caller services.Caller) (*models.Ticket, error)) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	ticket, err := op(c.Request.Context(), id, callerOf(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

func (h *TicketHandler) bulk(c *gin.Context, op func(ctx context.Context, caller services.Caller, req *models.BulkTicketRequest) *models.BulkResult) {
	var req models.BulkTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	c.JSON(http.StatusOK, op(c.Request.Context(), callerOf(c), &req))
}
