package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hms/backend/internal/bootstrap"
	"github.com/hms/backend/internal/infrastructure/config"
	"github.com/hms/backend/internal/infrastructure/logger"
	"github.com/hms/backend/internal/interfaces/http/handler"
	"github.com/hms/backend/internal/interfaces/http/middleware"
	"github.com/hms/backend/internal/interfaces/http/router"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

const (
	drainTimeout   = 30 * time.Second
	releaseTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, log)
	stop()
	if err != nil {
		log.Error("Billing API stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting billing API",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	rt, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open runtime: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := rt.Close(releaseCtx); err != nil {
			log.Error("Releasing runtime", zap.Error(err))
		}
	}()

	svc := rt.Services
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	engine, err := router.NewEngine(engineConfig(cfg, rt, log))
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("Listening", zap.String("addr", srv.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	log.Info("Draining HTTP connections", zap.Duration("timeout", drainTimeout))
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("drain: %w", err)
	}
	log.Info("Billing API stopped")
	return nil
}

func engineConfig(cfg *config.Config, rt *bootstrap.Runtime, log *zap.Logger) router.EngineConfig {
	svc := rt.Services

	// No queue means the push endpoint ingests inline.
	clinical := handler.ClinicalEventHandlerConfig{
		Consultations: svc.Consultations,
		LabItems:      svc.LabItems,
		Prescriptions: svc.Prescriptions,
	}
	if svc.Queue != nil {
		clinical.Queue = svc.Queue
	} else {
		log.Warn("Redis not configured, clinical events are ingested synchronously")
	}

	checks := make(map[string]handler.HealthCheck)
	for name, check := range rt.HealthChecks() {
		checks[name] = check
	}

	return router.EngineConfig{
		Logger: log,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		},
		Meter:          rt.Meter.Meter(cfg.Telemetry.ServiceName),
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		Bills:          handler.NewBillHandler(svc.Ledger),
		Payments:       handler.NewPaymentHandler(svc.Payments, svc.Reconciler),
		ClinicalEvents: handler.NewClinicalEventHandler(clinical),
		Webhooks:       handler.NewStripeWebhookHandler(svc.Reconciler),
		System:         handler.NewSystemHandler(cfg.App.Name, version, checks),
	}
}
