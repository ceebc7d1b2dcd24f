package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/hms/backend/internal/infrastructure/logger"
	"github.com/hms/backend/internal/interfaces/http/handler"
	"github.com/hms/backend/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMount(t *testing.T) {
	engine := gin.New()
	bills := NewGroup("/bills").
		GET("/:id", func(c *gin.Context) { c.String(http.StatusOK, "bill "+c.Param("id")) }).
		PATCH("/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	Mount(engine, "v2", bills, NewGroup("/unused"), nil)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v2/bills/42", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bill 42", w.Body.String())

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/api/v2/bills/42", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	assert.Len(t, engine.Routes(), 2)
	assert.False(t, bills.Empty())
}

func TestGroupMiddleware(t *testing.T) {
	engine := gin.New()
	var order []string
	payments := NewGroup("/payments", func(c *gin.Context) { order = append(order, "mw"); c.Next() }).
		POST("/:id/sync", func(c *gin.Context) { order = append(order, "handler"); c.Status(http.StatusOK) })
	Mount(engine, APIVersion, payments)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/payments/1/sync", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"mw", "handler"}, order)
}

func routeSet(engine *gin.Engine) map[string]bool {
	set := make(map[string]bool)
	for _, r := range engine.Routes() {
		set[r.Method+" "+r.Path] = true
	}
	return set
}

func TestNewEngine_Routes(t *testing.T) {
	engine, err := NewEngine(EngineConfig{
		Logger:         zap.NewNop(),
		Tracing:        middleware.TracingConfig{Enabled: false},
		Bills:          handler.NewBillHandler(nil),
		Payments:       handler.NewPaymentHandler(nil, nil),
		ClinicalEvents: handler.NewClinicalEventHandler(handler.ClinicalEventHandlerConfig{}),
		Webhooks:       handler.NewStripeWebhookHandler(nil),
		System:         handler.NewSystemHandler("hms-billing", "test", nil),
	})
	require.NoError(t, err)

	routes := routeSet(engine)
	expected := []string{
		"GET /health",
		"GET /api/v1/bills/:id",
		"POST /api/v1/bills/:id/adjustments",
		"PUT /api/v1/bills/:id/due-date",
		"POST /api/v1/bills/:id/cancel",
		"POST /api/v1/bills/:id/recalculate",
		"POST /api/v1/bills/:id/payments",
		"POST /api/v1/bills/:id/payment-intent",
		"GET /api/v1/patients/:id/bills",
		"GET /api/v1/payments/:id",
		"PATCH /api/v1/payments/:id",
		"POST /api/v1/payments/:id/refund",
		"POST /api/v1/payments/:id/sync",
		"POST /api/v1/clinical-events/consultations",
		"POST /api/v1/clinical-events/lab-items",
		"POST /api/v1/clinical-events/prescription-items",
		"POST /api/v1/webhooks/stripe",
		"GET /api/v1/system/info",
	}
	for _, route := range expected {
		assert.True(t, routes[route], "missing route %s", route)
	}
	assert.Len(t, routes, len(expected))
}

func TestNewEngine_PartialHandlers(t *testing.T) {
	engine, err := NewEngine(EngineConfig{
		Payments: handler.NewPaymentHandler(nil, nil),
	})
	require.NoError(t, err)

	routes := routeSet(engine)
	assert.True(t, routes["POST /api/v1/bills/:id/payments"])
	assert.False(t, routes["GET /api/v1/bills/:id"])
	assert.False(t, routes["GET /health"])
}

func TestNewEngine_Middleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	engine, err := NewEngine(EngineConfig{
		Meter:       meter,
		MaxBodySize: 16,
		Webhooks:    handler.NewStripeWebhookHandler(nil),
		System:      handler.NewSystemHandler("hms-billing", "test", nil),
	})
	require.NoError(t, err)

	t.Run("request id echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(logger.RequestIDHeader, "ops-123")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ops-123", w.Header().Get(logger.RequestIDHeader))
	})

	t.Run("request id generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.NotEmpty(t, w.Header().Get(logger.RequestIDHeader))
	})

	t.Run("body limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(strings.Repeat("x", 64)))
		req.Header.Set("Stripe-Signature", "sig")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}
