package scheduler

import (
	"context"

	billingapp "github.com/hms/backend/internal/application/billing"
	"github.com/hms/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Job names
const (
	JobReconcilePending = "reconcile_pending"
	JobOverdueSweep     = "overdue_sweep"
	JobOutboxRelay      = "outbox_relay"
	JobOutboxCleanup    = "outbox_cleanup"
)

// PendingReconciler polls the gateway for unsettled payments
type PendingReconciler interface {
	ReconcilePending(ctx context.Context) (*billingapp.ReconcileReport, error)
}

// OverdueRefresher re-derives the status of bills past their due date
type OverdueRefresher interface {
	RefreshOverdue(ctx context.Context) (int, error)
}

// OutboxRelay delivers committed outbox entries and prunes sent ones
type OutboxRelay interface {
	ProcessBatch(ctx context.Context) (int, error)
	Cleanup(ctx context.Context) (int64, error)
}

// BillingJobsConfig wires the periodic billing jobs. A nil dependency
// leaves its job out.
type BillingJobsConfig struct {
	Reconciler PendingReconciler
	Ledger     OverdueRefresher
	Outbox     OutboxRelay
	Billing    config.BillingConfig
	Event      config.EventConfig
	Logger     *zap.Logger
}

// BillingJobs builds the job list for the worker process
func BillingJobs(cfg BillingJobsConfig) []Job {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var jobs []Job
	if cfg.Reconciler != nil {
		jobs = append(jobs, Job{
			Name:     JobReconcilePending,
			Interval: cfg.Billing.ReconcileInterval,
			Run: func(ctx context.Context) error {
				report, err := cfg.Reconciler.ReconcilePending(ctx)
				if err != nil {
					return err
				}
				if report.Checked > 0 {
					logger.Info("Reconciled pending payments",
						zap.Int("checked", report.Checked),
						zap.Int("updated", report.Updated),
						zap.Int("failed", report.Failed),
					)
				}
				return nil
			},
		})
	}

	if cfg.Ledger != nil {
		jobs = append(jobs, Job{
			Name:       JobOverdueSweep,
			Interval:   cfg.Billing.OverdueSweepInterval,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				changed, err := cfg.Ledger.RefreshOverdue(ctx)
				if changed > 0 {
					logger.Info("Refreshed overdue bills", zap.Int("changed", changed))
				}
				return err
			},
		})
	}

	if cfg.Outbox != nil {
		jobs = append(jobs,
			Job{
				Name:     JobOutboxRelay,
				Interval: cfg.Event.PollInterval,
				Run: func(ctx context.Context) error {
					_, err := cfg.Outbox.ProcessBatch(ctx)
					return err
				},
			},
			Job{
				Name:     JobOutboxCleanup,
				Interval: cfg.Event.CleanupInterval,
				Run: func(ctx context.Context) error {
					_, err := cfg.Outbox.Cleanup(ctx)
					return err
				},
			},
		)
	}
	return jobs
}
