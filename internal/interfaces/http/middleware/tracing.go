// Package middleware provides HTTP middleware for the billing API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxRequestIDLength is the maximum length of a request id copied onto a span
const MaxRequestIDLength = 128

type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "hms-billing",
		Enabled:     true,
	}
}

// TracingWithConfig returns the otelgin middleware. The span name follows
// "HTTP METHOD route_pattern".
func TracingWithConfig(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return otelgin.Middleware(cfg.ServiceName)
}

// SpanEnricher copies request attributes onto the active span and marks
// server errors. Place it after TracingWithConfig and the request id middleware.
func SpanEnricher() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			enrichSpan(c, span)
		}

		c.Next()

		if !span.IsRecording() {
			return
		}
		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func enrichSpan(c *gin.Context, span trace.Span) {
	if id := c.GetString("request_id"); id != "" {
		if len(id) > MaxRequestIDLength {
			id = id[:MaxRequestIDLength]
		}
		span.SetAttributes(attribute.String("request_id", id))
	}
	if id := c.Param("id"); id != "" {
		span.SetAttributes(attribute.String(resourceAttribute(c.FullPath()), id))
	}
}

// resourceAttribute names the :id parameter after the resource it addresses
func resourceAttribute(route string) string {
	switch {
	case strings.Contains(route, "/bills/"):
		return "bill_id"
	case strings.Contains(route, "/payments/"):
		return "payment_id"
	case strings.Contains(route, "/patients/"):
		return "patient_id"
	default:
		return "resource_id"
	}
}
