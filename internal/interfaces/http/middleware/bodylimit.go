package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hms/backend/internal/interfaces/http/dto"
)

// DefaultBodyLimit is 1 MiB, far above any bill or payment payload.
const DefaultBodyLimit int64 = 1 << 20

// BodyLimit answers 413 up front when the declared length is over limit.
// Chunked bodies are capped while the handler reads them instead.
func BodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			resp := dto.NewErrorResponseWithRequestID(dto.ErrCodeTooLarge,
				"Request body exceeds maximum allowed size", c.GetString("request_id"))
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, resp)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
