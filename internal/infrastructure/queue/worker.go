package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	billingapp "github.com/hms/backend/internal/application/billing"
	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/clinical"
	"github.com/hms/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Handlers processes billing tasks
type Handlers struct {
	Consultations *billingapp.ConsultationIngestor
	LabItems      *billingapp.LabTestIngestor
	Prescriptions *billingapp.PrescriptionIngestor
	Reconciler    *billingapp.GatewayReconciler
	Logger        *zap.Logger
}

// Register mounts every handler on mux
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeIngestConsultation, h.HandleConsultation)
	mux.HandleFunc(TypeIngestLabItem, h.HandleLabItem)
	mux.HandleFunc(TypeIngestPrescriptionItem, h.HandlePrescriptionItem)
	mux.HandleFunc(TypePaymentSync, h.HandlePaymentSync)
}

// HandleConsultation ingests a billing:ingest:consultation task
func (h *Handlers) HandleConsultation(ctx context.Context, t *asynq.Task) error {
	var e clinical.ConsultationBooked
	if err := decode(t, &e); err != nil {
		return err
	}
	_, err := h.Consultations.Ingest(ctx, &e)
	return retryable(err)
}

// HandleLabItem ingests a billing:ingest:lab_item task
func (h *Handlers) HandleLabItem(ctx context.Context, t *asynq.Task) error {
	var e clinical.LabTestOrdered
	if err := decode(t, &e); err != nil {
		return err
	}
	_, err := h.LabItems.Ingest(ctx, &e)
	return retryable(err)
}

// HandlePrescriptionItem ingests a billing:ingest:prescription_item task
func (h *Handlers) HandlePrescriptionItem(ctx context.Context, t *asynq.Task) error {
	var e clinical.PrescriptionItemWritten
	if err := decode(t, &e); err != nil {
		return err
	}
	_, err := h.Prescriptions.Ingest(ctx, &e)
	return retryable(err)
}

// HandlePaymentSync pulls one payment's status from the gateway. Gateway
// outages are returned as is so asynq retries with backoff.
func (h *Handlers) HandlePaymentSync(ctx context.Context, t *asynq.Task) error {
	var p PaymentSyncPayload
	if err := decode(t, &p); err != nil {
		return err
	}
	payment, err := h.Reconciler.SyncFromIntent(ctx, p.PaymentID)
	if err != nil {
		return retryable(err)
	}
	h.logger().Debug("payment synced",
		zap.String("payment_id", payment.ID.String()),
		zap.String("status", string(payment.Status)))
	return nil
}

func (h *Handlers) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func decode(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

// retryable marks errors that a retry cannot fix so asynq archives the task
func retryable(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, billing.ErrValidation),
		errors.Is(err, billing.ErrInvalidTransition),
		errors.Is(err, billing.ErrBillNotFound),
		errors.Is(err, billing.ErrPaymentNotFound),
		errors.Is(err, billing.ErrBillCancelled):
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// Worker runs the asynq server for billing tasks
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// WorkerConfig holds the dependencies of a Worker
type WorkerConfig struct {
	Redis    asynq.RedisConnOpt
	Queue    config.QueueConfig
	Handlers *Handlers
	Logger   *zap.Logger
}

// NewWorker creates a new Worker
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	queues := cfg.Queue.Queues
	if len(queues) == 0 {
		queues = map[string]int{QueueCritical: 6, QueueDefault: 3}
	}

	srv := asynq.NewServer(cfg.Redis, asynq.Config{
		Concurrency:     cfg.Queue.Concurrency,
		Queues:          queues,
		Logger:          logger.Named("asynq").Sugar(),
		LogLevel:        asynq.WarnLevel,
		ShutdownTimeout: 10 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error("task failed",
				zap.String("type", task.Type()),
				zap.Int("retry", retried),
				zap.Int("max_retry", maxRetry),
				zap.Bool("archived", errors.Is(err, asynq.SkipRetry) || retried >= maxRetry),
				zap.Error(err))
		}),
	})

	mux := asynq.NewServeMux()
	mux.Use(loggingMiddleware(logger))
	if cfg.Handlers != nil {
		cfg.Handlers.Register(mux)
	}
	return &Worker{server: srv, mux: mux, logger: logger}
}

// Run processes tasks until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	w.logger.Info("billing task worker started")

	<-ctx.Done()
	w.server.Shutdown()
	w.logger.Info("billing task worker stopped")
	return ctx.Err()
}

func loggingMiddleware(logger *zap.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			start := time.Now()
			err := next.ProcessTask(ctx, t)
			taskID, _ := asynq.GetTaskID(ctx)
			logger.Debug("task processed",
				zap.String("type", t.Type()),
				zap.String("task_id", taskID),
				zap.Duration("latency", time.Since(start)),
				zap.Bool("ok", err == nil))
			return err
		})
	}
}
