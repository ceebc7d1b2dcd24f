package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hms/backend/internal/infrastructure/config"
)

const defaultSlowQueryThreshold = 200 * time.Millisecond

type contextKey string

const queryStartTimeKey contextKey = "otel_query_start_time"

// DBTracing registers otelgorm on a GORM instance and annotates spans with
// row counts, table names and slow query markers.
type DBTracing struct {
	enabled    bool
	fullSQL    bool
	slowThresh time.Duration
	dbSystem   string
	logger     *zap.Logger
}

// NewDBTracing creates database tracing from the telemetry config
func NewDBTracing(cfg config.TelemetryConfig, logger *zap.Logger) *DBTracing {
	if logger == nil {
		logger = zap.NewNop()
	}
	thresh := cfg.DBSlowQueryThresh
	if thresh <= 0 {
		thresh = defaultSlowQueryThreshold
	}
	return &DBTracing{
		enabled:    cfg.Enabled && cfg.DBTraceEnabled,
		fullSQL:    cfg.DBLogFullSQL,
		slowThresh: thresh,
		dbSystem:   "postgresql",
		logger:     logger,
	}
}

// Register installs the plugin and timing callbacks. It is a no-op when
// database tracing is disabled.
func (d *DBTracing) Register(db *gorm.DB) error {
	if !d.enabled {
		d.logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(d.dbSystem)}
	if !d.fullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	cb := db.Callback()
	hooks := []struct {
		op       string
		before   func(string) gormRegistrar
		after    func(string) gormRegistrar
		gormName string
	}{
		{"create", func(n string) gormRegistrar { return cb.Create().Before(n) }, func(n string) gormRegistrar { return cb.Create().After(n) }, "gorm:create"},
		{"query", func(n string) gormRegistrar { return cb.Query().Before(n) }, func(n string) gormRegistrar { return cb.Query().After(n) }, "gorm:query"},
		{"update", func(n string) gormRegistrar { return cb.Update().Before(n) }, func(n string) gormRegistrar { return cb.Update().After(n) }, "gorm:update"},
		{"delete", func(n string) gormRegistrar { return cb.Delete().Before(n) }, func(n string) gormRegistrar { return cb.Delete().After(n) }, "gorm:delete"},
		{"row", func(n string) gormRegistrar { return cb.Row().Before(n) }, func(n string) gormRegistrar { return cb.Row().After(n) }, "gorm:row"},
		{"raw", func(n string) gormRegistrar { return cb.Raw().Before(n) }, func(n string) gormRegistrar { return cb.Raw().After(n) }, "gorm:raw"},
	}
	for _, h := range hooks {
		if err := h.before(h.gormName).Register("otel_timing:before_"+h.op, markStart); err != nil {
			return err
		}
		if err := h.after(h.gormName).Register("otel_timing:after_"+h.op, d.annotate); err != nil {
			return err
		}
	}

	d.logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", d.fullSQL),
		zap.Duration("slow_query_threshold", d.slowThresh),
	)
	return nil
}

type gormRegistrar interface {
	Register(name string, fn func(*gorm.DB)) error
}

func markStart(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartTimeKey, time.Now())
	}
}

func (d *DBTracing) annotate(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	if db.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}

	start, ok := ctx.Value(queryStartTimeKey).(time.Time)
	if !ok {
		return
	}
	if elapsed := time.Since(start); elapsed > d.slowThresh {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
		span.AddEvent("slow_query_warning", trace.WithAttributes(
			attribute.Int64("duration_ms", elapsed.Milliseconds()),
			attribute.Int64("threshold_ms", d.slowThresh.Milliseconds()),
		))
	}
}
