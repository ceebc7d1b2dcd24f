// Package bootstrap wires the billing engine from configuration. The HTTP
// server and the task worker share it so both processes run the same
// ledger, payment and reconciliation services.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	billingapp "github.com/hms/backend/internal/application/billing"
	eventapp "github.com/hms/backend/internal/application/event"
	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/shared"
	"github.com/hms/backend/internal/infrastructure/cache"
	"github.com/hms/backend/internal/infrastructure/config"
	"github.com/hms/backend/internal/infrastructure/event"
	"github.com/hms/backend/internal/infrastructure/persistence"
	"github.com/hms/backend/internal/infrastructure/queue"
)

// syncDelay is how long a payment waits before a deferred gateway sync
const syncDelay = 30 * time.Second

// ServicesConfig holds what the billing services are built from. Queue is
// optional; without it clinical events are ingested inline and timed-out
// intents wait for the reconcile poller.
type ServicesConfig struct {
	Config  *config.Config
	DB      *gorm.DB
	Stores  *cache.Stores
	Gateway billing.PaymentGateway
	Queue   *queue.Client
	Metrics billingapp.Metrics
	Logger  *zap.Logger
}

// Services is the wired billing engine
type Services struct {
	Ledger        *billingapp.LedgerService
	Payments      *billingapp.PaymentProcessor
	Reconciler    *billingapp.GatewayReconciler
	Consultations *billingapp.ConsultationIngestor
	LabItems      *billingapp.LabTestIngestor
	Prescriptions *billingapp.PrescriptionIngestor

	Bus        *event.InMemoryEventBus
	Delivery   *event.IdempotencyMetrics
	Serializer *event.EventSerializer
	Outbox     *event.OutboxProcessor
	DeadLetter *eventapp.OutboxService
	Queue      *queue.Client
}

// NewServices builds the billing services on an open database
func NewServices(cfg ServicesConfig) (*Services, error) {
	if cfg.Config == nil || cfg.DB == nil || cfg.Stores == nil || cfg.Gateway == nil {
		return nil, errors.New("bootstrap: config, db, stores and gateway are required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := cfg.Config

	serializer := event.NewEventSerializer()
	event.RegisterAllEvents(serializer)
	outboxRepo := event.NewGormOutboxRepository(cfg.DB)
	store := persistence.NewGormLedgerStore(cfg.DB, event.NewOutboxPublisher(serializer))

	ledger := billingapp.NewLedgerService(billingapp.LedgerServiceConfig{
		Store:              store,
		Locker:             cfg.Stores.Locker,
		Metrics:            cfg.Metrics,
		Logger:             log,
		DefaultDueDays:     c.Billing.DefaultDueDays,
		RecalculateWorkers: c.Billing.RecalculateWorkers,
		SweepBatch:         c.Billing.ReconcileBatch,
	})
	reconciler := billingapp.NewGatewayReconciler(billingapp.GatewayReconcilerConfig{
		Store:           store,
		Gateway:         cfg.Gateway,
		Idempotency:     cfg.Stores.Idempotency,
		Metrics:         cfg.Metrics,
		Logger:          log,
		Timeout:         c.Stripe.Timeout,
		WebhookTTL:      c.Billing.IdempotencyTTL,
		ReconcileBatch:  c.Billing.ReconcileBatch,
		ReconcileMinAge: c.Billing.ReconcileMinAge,
	})

	// A typed nil *queue.Client must not reach the interface field
	var scheduler billingapp.SyncScheduler
	if cfg.Queue != nil {
		scheduler = cfg.Queue
	}
	payments := billingapp.NewPaymentProcessor(billingapp.PaymentProcessorConfig{
		Store:           store,
		Reconciler:      reconciler,
		Scheduler:       scheduler,
		Metrics:         cfg.Metrics,
		Logger:          log,
		DefaultCurrency: c.Billing.DefaultCurrency,
		SyncDelay:       syncDelay,
	})

	s := &Services{
		Ledger:        ledger,
		Payments:      payments,
		Reconciler:    reconciler,
		Consultations: billingapp.NewConsultationIngestor(ledger, log),
		LabItems:      billingapp.NewLabTestIngestor(ledger, log),
		Prescriptions: billingapp.NewPrescriptionIngestor(ledger, log),
		Bus:           event.NewInMemoryEventBus(log),
		Delivery:      &event.IdempotencyMetrics{},
		Serializer:    serializer,
		DeadLetter:    eventapp.NewOutboxService(outboxRepo, log),
		Queue:         cfg.Queue,
	}

	// Clinical events relayed through the outbox are billed like pushed ones.
	// Redeliveries are dropped by event id before they reach a handler.
	idemCfg := shared.DefaultIdempotencyConfig()
	if c.Billing.IdempotencyTTL > 0 {
		idemCfg.TTL = c.Billing.IdempotencyTTL
	}
	handlers := event.WrapHandlersWithIdempotency([]shared.EventHandler{
		s.Consultations,
		s.LabItems,
		s.Prescriptions,
		billingapp.NewLedgerAuditHandler(log),
	}, cfg.Stores.Idempotency, log,
		event.WithIdempotencyConfig(idemCfg),
		event.WithIdempotencyMetrics(s.Delivery),
	)
	for _, h := range handlers {
		s.Bus.Subscribe(h)
	}

	s.Outbox = event.NewOutboxProcessor(outboxRepo, s.Bus, serializer, event.OutboxProcessorConfig{
		BatchSize:        c.Event.BatchSize,
		CleanupRetention: c.Event.CleanupRetention,
	}, log)
	return s, nil
}

// Start brings up the event bus
func (s *Services) Start(ctx context.Context) error {
	if err := s.Bus.Start(ctx); err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	return nil
}

// Stop stops the event bus and closes the queue client
func (s *Services) Stop(ctx context.Context) error {
	var errs []error
	if err := s.Bus.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.Queue != nil {
		if err := s.Queue.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
