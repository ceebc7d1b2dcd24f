package event

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hms/backend/internal/domain/shared"
)

// IdempotencyMetrics counts what the wrapped handlers did with each
// delivery. One value is usually shared by every handler of a process.
type IdempotencyMetrics struct {
	processed atomic.Int64
	duplicate atomic.Int64
	failed    atomic.Int64
}

// IdempotencyStats is a point-in-time copy of IdempotencyMetrics.
type IdempotencyStats struct {
	EventsProcessed int64 `json:"events_processed"`
	EventsDuplicate int64 `json:"events_duplicate"`
	EventsFailed    int64 `json:"events_failed"`
}

func (m *IdempotencyMetrics) Stats() IdempotencyStats {
	return IdempotencyStats{
		EventsProcessed: m.processed.Load(),
		EventsDuplicate: m.duplicate.Load(),
		EventsFailed:    m.failed.Load(),
	}
}

// IdempotentHandler makes a handler see each outbox event once per TTL
// window, however often the relay redelivers it. The event ID is claimed in
// the store before the handler runs and released again if the handler fails.
// When the store itself errors the event is handled unclaimed: ingestion is
// already unique on source IDs, so the worst case is a no-op second append.
type IdempotentHandler struct {
	next    shared.EventHandler
	store   shared.IdempotencyStore
	cfg     shared.IdempotencyConfig
	log     *zap.Logger
	metrics *IdempotencyMetrics
}

type IdempotentHandlerOption func(*IdempotentHandler)

func WithIdempotencyConfig(cfg shared.IdempotencyConfig) IdempotentHandlerOption {
	return func(h *IdempotentHandler) { h.cfg = cfg }
}

func WithIdempotencyMetrics(metrics *IdempotencyMetrics) IdempotentHandlerOption {
	return func(h *IdempotentHandler) { h.metrics = metrics }
}

func NewIdempotentHandler(next shared.EventHandler, store shared.IdempotencyStore, log *zap.Logger, opts ...IdempotentHandlerOption) *IdempotentHandler {
	h := &IdempotentHandler{
		next:    next,
		store:   store,
		cfg:     shared.DefaultIdempotencyConfig(),
		log:     log,
		metrics: &IdempotencyMetrics{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WrapHandlersWithIdempotency wraps each handler with the same store and options.
func WrapHandlersWithIdempotency(handlers []shared.EventHandler, store shared.IdempotencyStore, log *zap.Logger, opts ...IdempotentHandlerOption) []shared.EventHandler {
	out := make([]shared.EventHandler, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, NewIdempotentHandler(h, store, log, opts...))
	}
	return out
}

func (h *IdempotentHandler) EventTypes() []string { return h.next.EventTypes() }

func (h *IdempotentHandler) Metrics() *IdempotencyMetrics { return h.metrics }

func (h *IdempotentHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	if !h.cfg.Enabled {
		return h.next.Handle(ctx, event)
	}

	log := h.log.With(zap.Stringer("event_id", event.EventID()), zap.String("event_type", event.EventType()))
	key := dedupKey(event)

	fresh, err := h.store.MarkProcessed(ctx, key, h.cfg.TTL)
	if err == nil && !fresh {
		h.metrics.duplicate.Add(1)
		log.Debug("Duplicate delivery skipped")
		return nil
	}
	if err != nil {
		log.Warn("Idempotency store unavailable, handling unclaimed", zap.Error(err))
	}
	claimed := err == nil

	if err := h.next.Handle(ctx, event); err != nil {
		h.metrics.failed.Add(1)
		log.Error("Event handler failed", zap.Error(err))
		if claimed {
			h.release(ctx, log, key)
		}
		return err
	}
	h.metrics.processed.Add(1)
	return nil
}

// release frees the claim so the next outbox attempt reaches the handler.
func (h *IdempotentHandler) release(ctx context.Context, log *zap.Logger, key string) {
	if err := h.store.Unmark(ctx, key); err != nil {
		log.Warn("Could not release idempotency claim", zap.String("key", key), zap.Error(err))
	}
}

func dedupKey(event shared.DomainEvent) string {
	return "event:" + event.EventType() + ":" + event.EventID().String()
}

var _ shared.EventHandler = (*IdempotentHandler)(nil)
