package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smarttransit/afc-backend/internal/errs"
	"github.com/smarttransit/afc-backend/internal/middleware"
	"github.com/smarttransit/afc-backend/internal/models"
	"github.com/smarttransit/afc-backend/internal/services"
)

var kindStatus = map[errs.Kind]int{
	errs.KindValidation: http.StatusBadRequest,
	errs.KindNotFound:   http.StatusNotFound,
	errs.KindConflict:   http.StatusConflict,
	errs.KindDependency: http.StatusBadGateway,
	errs.KindInternal:   http.StatusInternalServerError,
}

// respondError writes a tagged error as {error, message, code}. Internal
// failures are logged with their cause and shown to the client generically.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	kind := errs.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError || kind == errs.KindDependency {
		logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("Request failed")
		_ = c.Error(err)
	}

	c.JSON(status, gin.H{
		"error":   string(kind),
		"message": errs.PublicMessage(err),
		"code":    errs.CodeOf(err),
	})
}

// badRequest reports a body or query that failed to bind
func badRequest(c *gin.Context, message string, err error) {
	body := gin.H{
		"error":   string(errs.KindValidation),
		"message": message,
		"code":    "invalid_request",
	}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}

// uuidParam parses a path parameter, writing a 400 when it is malformed
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "Invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

// callerOf maps the authenticated principal onto a lifecycle caller.
// Service tokens and admins may see every entity.
func callerOf(c *gin.Context) services.Caller {
	userCtx := middleware.MustGetUserContext(c)
	if userCtx.Service != "" {
		return services.SystemCaller(models.ServiceActor(userCtx.Service))
	}
	caller := services.UserCaller(userCtx.UserID)
	caller.Privileged = userCtx.IsPrivileged()
	return caller
}

// listParams reads limit and offset from the query string
func listParams(c *gin.Context) models.ListParams {
	params := models.ListParams{}
	if v, err := strconv.Atoi(c.Query("limit")); err == nil {
		params.Limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil {
		params.Offset = v
	}
	params.Normalize()
	return params
}

// page writes one page of a list with its paging window
func page(c *gin.Context, key string, items interface{}, total int, params models.ListParams) {
	c.JSON(http.StatusOK, gin.H{
		key:      items,
		"total":  total,
		"limit":  params.Limit,
		"offset": params.Offset,
	})
}
