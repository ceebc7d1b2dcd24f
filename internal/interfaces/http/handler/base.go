package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hms/backend/internal/domain/shared"
	"github.com/hms/backend/internal/infrastructure/logger"
	"github.com/hms/backend/internal/interfaces/http/dto"
	"github.com/hms/backend/internal/interfaces/http/middleware"
)

// requestIDKey is set on the gin context by logger.RequestID.
const requestIDKey = "request_id"

// BaseHandler is embedded by every billing handler for the response
// envelope and error mapping.
type BaseHandler struct{}

func getRequestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	return c.GetHeader(logger.RequestIDHeader)
}

func (h *BaseHandler) Success(c *gin.Context, data any)  { h.ok(c, http.StatusOK, data) }
func (h *BaseHandler) Created(c *gin.Context, data any)  { h.ok(c, http.StatusCreated, data) }
func (h *BaseHandler) Accepted(c *gin.Context, data any) { h.ok(c, http.StatusAccepted, data) }

func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.fail(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

func (h *BaseHandler) ok(c *gin.Context, status int, data any) {
	c.JSON(status, dto.NewSuccessResponse(data))
}

func (h *BaseHandler) fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BindJSON decodes and validates the body into req. On false the 400 has
// already been written.
func (h *BaseHandler) BindJSON(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	if err != nil {
		middleware.HandleBindError(c, err)
	}
	return err == nil
}

// ParseID reads the named path parameter as a UUID. On false the 400 has
// already been written.
func (h *BaseHandler) ParseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.BadRequest(c, "Invalid "+name+": must be a UUID")
	}
	return id, err == nil
}

// HandleError writes the response for a failed service call. A DomainError
// answers with its own code, and its message when the status is below 500.
// A gateway outage is a 502 with a fixed message. Anything else is logged
// and hidden behind a generic 500.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	log := logger.FromContext(c.Request.Context())

	var de *shared.DomainError
	if errors.As(err, &de) {
		switch status := dto.GetHTTPStatus(de.Code); {
		case status < http.StatusInternalServerError:
			h.fail(c, status, de.Code, err.Error())
			return
		case status == http.StatusBadGateway:
			log.Warn("payment gateway unavailable", zap.Error(err))
			h.fail(c, status, de.Code, "Payment gateway unavailable, retry later")
			return
		}
	}

	log.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
	h.fail(c, http.StatusInternalServerError, dto.ErrCodeInternal, "An unexpected error occurred")
}
