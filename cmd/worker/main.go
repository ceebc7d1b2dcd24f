package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hms/backend/internal/bootstrap"
	"github.com/hms/backend/internal/infrastructure/config"
	"github.com/hms/backend/internal/infrastructure/logger"
	"github.com/hms/backend/internal/infrastructure/queue"
	"github.com/hms/backend/internal/infrastructure/scheduler"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	command := "run"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("process", "worker"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize billing runtime", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			log.Error("Error releasing resources", zap.Error(err))
		}
	}()

	switch command {
	case "run":
		err = run(ctx, rt, log)
	case "recalculate":
		err = recalculate(ctx, rt, log)
	case "outbox-stats":
		err = outboxStats(ctx, rt, log)
	case "outbox-retry":
		err = outboxRetry(ctx, rt, log)
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", command)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Worker failed", zap.String("command", command), zap.Error(err))
		os.Exit(1)
	}
}

// run processes queued tasks and the periodic jobs until a signal arrives
func run(ctx context.Context, rt *bootstrap.Runtime, log *zap.Logger) error {
	svc := rt.Services
	cfg := rt.Config
	if err := svc.Start(ctx); err != nil {
		return err
	}

	sched, err := scheduler.New(log, scheduler.BillingJobs(scheduler.BillingJobsConfig{
		Reconciler: svc.Reconciler,
		Ledger:     svc.Ledger,
		Outbox:     svc.Outbox,
		Billing:    cfg.Billing,
		Event:      cfg.Event,
		Logger:     log,
	})...)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return sched.Stop(stopCtx)
	})

	if cfg.Redis.Enabled() && rt.Stores.Client != nil {
		worker := queue.NewWorker(queue.WorkerConfig{
			Redis: queue.RedisOpt(cfg.Redis),
			Queue: cfg.Queue,
			Handlers: &queue.Handlers{
				Consultations: svc.Consultations,
				LabItems:      svc.LabItems,
				Prescriptions: svc.Prescriptions,
				Reconciler:    svc.Reconciler,
				Logger:        log,
			},
			Logger: log,
		})
		g.Go(func() error { return worker.Run(gctx) })
	} else {
		log.Warn("Redis not configured, running periodic jobs only")
	}

	log.Info("Worker started", zap.Bool("task_queue", cfg.Redis.Enabled()))
	err = g.Wait()
	log.Info("Worker stopped")
	return err
}

// recalculate recomputes every bill once and exits
func recalculate(ctx context.Context, rt *bootstrap.Runtime, log *zap.Logger) error {
	start := time.Now()
	report, err := rt.Services.Ledger.RecalculateAllBills(ctx)
	if err != nil {
		return fmt.Errorf("recalculate bills: %w", err)
	}
	log.Info("Recalculation finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed),
		zap.Duration("took", time.Since(start)),
	)
	if report.Failed > 0 {
		return fmt.Errorf("%d bills failed to recalculate", report.Failed)
	}
	return nil
}

// outboxStats logs the relay backlog and the oldest dead letters
func outboxStats(ctx context.Context, rt *bootstrap.Runtime, log *zap.Logger) error {
	stats, err := rt.Services.DeadLetter.Stats(ctx)
	if err != nil {
		return err
	}
	log.Info("Outbox backlog",
		zap.Int64("pending", stats.Pending),
		zap.Int64("processing", stats.Processing),
		zap.Int64("failed", stats.Failed),
		zap.Int64("dead", stats.Dead),
		zap.Int64("total", stats.Total),
	)
	if stats.Dead == 0 {
		return nil
	}
	dead, err := rt.Services.DeadLetter.ListDead(ctx, 20)
	if err != nil {
		return err
	}
	for _, e := range dead {
		log.Warn("Dead letter",
			zap.String("id", e.ID),
			zap.String("event_type", e.EventType),
			zap.String("aggregate_id", e.AggregateID),
			zap.Int("retry_count", e.RetryCount),
			zap.String("last_error", e.LastError),
		)
	}
	return nil
}

// outboxRetry requeues every dead letter for the relay
func outboxRetry(ctx context.Context, rt *bootstrap.Runtime, log *zap.Logger) error {
	n, err := rt.Services.DeadLetter.RetryAllDead(ctx)
	if err != nil {
		return fmt.Errorf("requeue dead letters: %w", err)
	}
	log.Info("Dead letters requeued", zap.Int64("count", n))
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: worker [command]

Commands:
  run          Process billing tasks and periodic jobs (default)
  recalculate  Recompute totals and paid amounts of every bill, then exit
  outbox-stats Show the event outbox backlog and dead letters
  outbox-retry Requeue dead-lettered events for delivery

Configuration is read from config.toml and HMS_* environment variables.`)
}
