package router

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hms/backend/internal/infrastructure/logger"
	"github.com/hms/backend/internal/interfaces/http/handler"
	"github.com/hms/backend/internal/interfaces/http/middleware"
)

// EngineConfig holds everything the billing HTTP surface is built from.
// A nil handler leaves its routes unmounted.
type EngineConfig struct {
	Logger         *zap.Logger
	Tracing        middleware.TracingConfig
	Meter          metric.Meter
	MaxBodySize    int64
	TrustedProxies []string

	Bills          *handler.BillHandler
	Payments       *handler.PaymentHandler
	ClinicalEvents *handler.ClinicalEventHandler
	Webhooks       *handler.StripeWebhookHandler
	System         *handler.SystemHandler
}

// NewEngine builds the gin engine with the middleware stack and every
// billing route under /api/v1
func NewEngine(cfg EngineConfig) (*gin.Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if err := middleware.SetupValidator(); err != nil {
		return nil, err
	}
	httpMetrics, err := middleware.HTTPMetrics(cfg.Meter)
	if err != nil {
		return nil, fmt.Errorf("http metrics: %w", err)
	}
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = middleware.DefaultBodyLimit
	}

	engine := gin.New()
	if len(cfg.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Order: request id, panic recovery, tracing, metrics, access log, body cap
	engine.Use(logger.RequestID(log))
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.TracingWithConfig(cfg.Tracing), middleware.SpanEnricher())
	engine.Use(httpMetrics)
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.BodyLimit(maxBody))

	if cfg.System != nil {
		engine.GET("/health", cfg.System.Health)
	}

	Mount(engine, APIVersion, BillingGroups(cfg)...)
	return engine, nil
}

// BillingGroups returns the route groups for the configured handlers
func BillingGroups(cfg EngineConfig) []*Group {
	bills := NewGroup("/bills")
	patients := NewGroup("/patients")
	payments := NewGroup("/payments")
	clinical := NewGroup("/clinical-events")
	webhooks := NewGroup("/webhooks")
	system := NewGroup("/system")

	if h := cfg.Bills; h != nil {
		bills.GET("/:id", h.Get).
			POST("/:id/adjustments", h.Adjust).
			PUT("/:id/due-date", h.SetDueDate).
			POST("/:id/cancel", h.Cancel).
			POST("/:id/recalculate", h.Recalculate)
		patients.GET("/:id/bills", h.ListByPatient)
	}
	if h := cfg.Payments; h != nil {
		bills.POST("/:id/payments", h.Create).
			POST("/:id/payment-intent", h.CreateIntent)
		payments.GET("/:id", h.Get).
			PATCH("/:id", h.Update).
			POST("/:id/refund", h.Refund).
			POST("/:id/sync", h.Sync)
	}
	if h := cfg.ClinicalEvents; h != nil {
		clinical.POST("/consultations", h.Consultation).
			POST("/lab-items", h.LabItem).
			POST("/prescription-items", h.PrescriptionItem)
	}
	if h := cfg.Webhooks; h != nil {
		webhooks.POST("/stripe", h.HandleStripeWebhook)
	}
	if h := cfg.System; h != nil {
		system.GET("/info", h.GetSystemInfo)
	}
	return []*Group{bills, patients, payments, clinical, webhooks, system}
}
