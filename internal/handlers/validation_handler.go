package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/smarttransit/afc-backend/internal/models"
	"github.com/smarttransit/afc-backend/internal/utils"
)

// Validator decides gate scans
type Validator interface {
	Validate(ctx context.Context, req *models.ValidateRequest) (*models.ValidationResponse, error)
	BulkValidate(ctx context.Context, req *models.BulkValidateRequest) []*models.BulkValidationItem
}

// ValidationHandler handles gate scan endpoints
type ValidationHandler struct {
	validator Validator
	logger    *logrus.Logger
}

// NewValidationHandler creates a new ValidationHandler
func NewValidationHandler(validator Validator, logger *logrus.Logger) *ValidationHandler {
	return &ValidationHandler{validator: validator, logger: logger}
}

// Validate decides one scan. Rejections are still 200: the gate reads
// the result field.
// POST /api/v1/validations
func (h *ValidationHandler) Validate(c *gin.Context) {
	var req models.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	req.DeviceInfo = utils.DeviceContext(c)

	resp, err := h.validator.Validate(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// BulkValidate replays scans buffered by an offline gate
// POST /api/v1/validations/bulk
func (h *ValidationHandler) BulkValidate(c *gin.Context) {
	var req models.BulkValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	device := utils.DeviceContext(c)
	for i := range req.Validations {
		req.Validations[i].DeviceInfo = device
	}

	items := h.validator.BulkValidate(c.Request.Context(), &req)

	accepted := 0
	for _, item := range items {
		if item.Response != nil && item.Response.IsValid {
			accepted++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"results":  items,
		"total":    len(items),
		"accepted": accepted,
	})
}
