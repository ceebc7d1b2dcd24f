package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hms/backend/internal/infrastructure/cache"
	"github.com/hms/backend/internal/infrastructure/config"
	"github.com/hms/backend/internal/infrastructure/logger"
	"github.com/hms/backend/internal/infrastructure/payment"
	"github.com/hms/backend/internal/infrastructure/persistence"
	"github.com/hms/backend/internal/infrastructure/queue"
	"github.com/hms/backend/internal/infrastructure/telemetry"
)

// Runtime owns the process-wide connections and the services built on them
type Runtime struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *persistence.Database
	Stores   *cache.Stores
	Tracer   *telemetry.TracerProvider
	Meter    *telemetry.MeterProvider
	Services *Services
}

// Open connects telemetry, the database, Redis and the gateway, then wires
// the billing services. On error everything opened so far is closed.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (rt *Runtime, err error) {
	rt = &Runtime{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
			rt = nil
		}
	}()

	if rt.Tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log); err != nil {
		return nil, fmt.Errorf("tracer provider: %w", err)
	}
	if rt.Meter, err = telemetry.NewMeterProvider(ctx, cfg.Telemetry, log); err != nil {
		return nil, fmt.Errorf("meter provider: %w", err)
	}
	metrics, err := telemetry.NewBillingMetrics(rt.Meter.Meter(cfg.Telemetry.ServiceName))
	if err != nil {
		return nil, fmt.Errorf("billing metrics: %w", err)
	}

	var gormOpts []logger.GormLoggerOption
	if cfg.Telemetry.DBSlowQueryThresh > 0 {
		gormOpts = append(gormOpts, logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	}
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level), gormOpts...)
	if rt.DB, err = persistence.OpenDatabase(ctx, &cfg.Database, gormLog); err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err = telemetry.NewDBTracing(cfg.Telemetry, log).Register(rt.DB.DB); err != nil {
		return nil, fmt.Errorf("database tracing: %w", err)
	}
	log.Info("Database connected successfully")

	rt.Stores, err = cache.NewStoreFactory(cfg.Redis, cfg.Billing,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(!cfg.App.IsProduction()),
	).Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordination stores: %w", err)
	}

	gateway, err := payment.NewStripeGateway(cfg.Stripe, log)
	if err != nil {
		return nil, fmt.Errorf("stripe gateway: %w", err)
	}

	var q *queue.Client
	if cfg.Redis.Enabled() && rt.Stores.Client != nil {
		q = queue.NewClient(queue.RedisOpt(cfg.Redis), log)
	}

	rt.Services, err = NewServices(ServicesConfig{
		Config:  cfg,
		DB:      rt.DB.DB,
		Stores:  rt.Stores,
		Gateway: gateway,
		Queue:   q,
		Metrics: metrics,
		Logger:  log,
	})
	if err != nil {
		if q != nil {
			_ = q.Close()
		}
		return nil, err
	}
	return rt, nil
}

// HealthChecks returns one reachability check per dependency for the health endpoint
func (rt *Runtime) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"database": rt.DB.Ping,
	}
	if client := rt.Stores.Client; client != nil {
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return checks
}

// Close releases everything in reverse order of opening
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Services != nil {
		errs = append(errs, rt.Services.Stop(ctx))
	}
	if rt.Stores != nil {
		errs = append(errs, rt.Stores.Close())
	}
	if rt.DB != nil {
		errs = append(errs, rt.DB.Close())
	}
	if rt.Meter != nil {
		errs = append(errs, rt.Meter.Shutdown(ctx))
	}
	if rt.Tracer != nil {
		errs = append(errs, rt.Tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
