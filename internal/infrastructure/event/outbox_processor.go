package event

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hms/backend/internal/domain/shared"
)

// OutboxProcessorConfig sizes one relay pass and the cleanup window. The
// scheduler decides how often each runs.
type OutboxProcessorConfig struct {
	BatchSize        int
	CleanupRetention time.Duration
}

func DefaultOutboxProcessorConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{BatchSize: 100, CleanupRetention: 7 * 24 * time.Hour}
}

// OutboxProcessor relays committed bill and payment events from the outbox
// table to the event bus. Rows are claimed before publishing, so two
// processes polling the same table never deliver one row twice in a pass.
type OutboxProcessor struct {
	repo       shared.OutboxRepository
	bus        shared.EventPublisher
	serializer *EventSerializer
	cfg        OutboxProcessorConfig
	log        *zap.Logger
}

func NewOutboxProcessor(repo shared.OutboxRepository, bus shared.EventPublisher, serializer *EventSerializer, cfg OutboxProcessorConfig, log *zap.Logger) *OutboxProcessor {
	defaults := DefaultOutboxProcessorConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.CleanupRetention <= 0 {
		cfg.CleanupRetention = defaults.CleanupRetention
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OutboxProcessor{repo: repo, bus: bus, serializer: serializer, cfg: cfg, log: log}
}

// ProcessBatch relays up to BatchSize new rows, then up to BatchSize failed
// rows whose retry time has passed. It returns how many were delivered.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	fresh, err := p.repo.FindPending(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	delivered := p.relay(ctx, fresh)

	due, err := p.repo.FindRetryable(ctx, time.Now(), p.cfg.BatchSize)
	if err != nil {
		return delivered, err
	}
	return delivered + p.relay(ctx, due), nil
}

func (p *OutboxProcessor) relay(ctx context.Context, candidates []*shared.OutboxEntry) int {
	if len(candidates) == 0 {
		return 0
	}
	ids := make([]uuid.UUID, 0, len(candidates))
	for _, e := range candidates {
		ids = append(ids, e.ID)
	}
	claimed, err := p.repo.MarkProcessing(ctx, ids)
	if err != nil {
		p.log.Error("Outbox claim failed", zap.Int("candidates", len(ids)), zap.Error(err))
		return 0
	}

	delivered := 0
	for _, entry := range claimed {
		if p.deliver(ctx, entry) {
			delivered++
		}
	}
	return delivered
}

func (p *OutboxProcessor) deliver(ctx context.Context, entry *shared.OutboxEntry) bool {
	log := p.log.With(
		zap.Stringer("event_id", entry.EventID),
		zap.String("event_type", entry.EventType),
		zap.String("aggregate_type", entry.AggregateType),
		zap.Stringer("aggregate_id", entry.AggregateID),
	)

	evt, err := p.serializer.Deserialize(entry.EventType, entry.Payload)
	if err == nil {
		err = p.bus.Publish(ctx, evt)
	}
	if err != nil {
		entry.MarkFailed(err.Error())
		if entry.IsDead() {
			log.Warn("Outbox entry is dead after its last retry", zap.Int("retries", entry.RetryCount), zap.Error(err))
		} else {
			log.Error("Outbox delivery failed", zap.Int("retries", entry.RetryCount), zap.Error(err))
		}
		p.save(ctx, log, entry)
		return false
	}

	entry.MarkSent()
	if !p.save(ctx, log, entry) {
		return false
	}
	log.Debug("Outbox entry delivered")
	return true
}

func (p *OutboxProcessor) save(ctx context.Context, log *zap.Logger, entry *shared.OutboxEntry) bool {
	if err := p.repo.Update(ctx, entry); err != nil {
		log.Error("Outbox entry update failed", zap.String("status", string(entry.Status)), zap.Error(err))
		return false
	}
	return true
}

// Cleanup deletes SENT rows processed more than CleanupRetention ago.
func (p *OutboxProcessor) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-p.cfg.CleanupRetention)
	deleted, err := p.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		p.log.Info("Outbox cleaned up", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}
