package event

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/hms/backend/internal/domain/shared"
)

// InMemoryEventBus calls subscribed handlers synchronously in this process.
// In production only the outbox processor publishes to it, which makes
// delivery at-least-once.
type InMemoryEventBus struct {
	mu     sync.RWMutex
	byType map[string][]shared.EventHandler
	all    []shared.EventHandler
	log    *zap.Logger
}

func NewInMemoryEventBus(log *zap.Logger) *InMemoryEventBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &InMemoryEventBus{byType: make(map[string][]shared.EventHandler), log: log}
}

// Publish runs every matching handler for every event, even after a
// failure. The joined error sends the outbox entry back for retry.
func (b *InMemoryEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	var errs []error
	for _, e := range events {
		for _, h := range b.handlersFor(e.EventType()) {
			err := b.dispatch(ctx, h, e)
			if err == nil {
				continue
			}
			b.log.Error("Event handler failed",
				zap.String("event_type", e.EventType()),
				zap.Stringer("event_id", e.EventID()),
				zap.Stringer("aggregate_id", e.AggregateID()),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe falls back to handler.EventTypes when no types are given. A
// handler with no types at all receives every event.
func (b *InMemoryEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(eventTypes) == 0 {
		b.all = append(b.all, handler)
	}
	for _, t := range eventTypes {
		b.byType[t] = append(b.byType[t], handler)
	}
	b.log.Debug("Event handler subscribed", zap.Strings("event_types", eventTypes))
}

func (b *InMemoryEventBus) Unsubscribe(handler shared.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = without(b.all, handler)
	for t, hs := range b.byType {
		if hs = without(hs, handler); len(hs) > 0 {
			b.byType[t] = hs
		} else {
			delete(b.byType, t)
		}
	}
}

// Start and Stop only log. Publish does all the work on the caller's
// goroutine.
func (b *InMemoryEventBus) Start(context.Context) error {
	b.log.Info("Event bus started")
	return nil
}

func (b *InMemoryEventBus) Stop(context.Context) error {
	b.log.Info("Event bus stopped")
	return nil
}

func (b *InMemoryEventBus) HandlerCount(eventType string) int {
	return len(b.handlersFor(eventType))
}

func (b *InMemoryEventBus) handlersFor(eventType string) []shared.EventHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Concat(b.byType[eventType], b.all)
}

// dispatch reports a handler panic as an error.
func (b *InMemoryEventBus) dispatch(ctx context.Context, h shared.EventHandler, e shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Event handler panicked", zap.String("event_type", e.EventType()), zap.Any("panic", r))
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, e)
}

func without(hs []shared.EventHandler, target shared.EventHandler) []shared.EventHandler {
	return slices.DeleteFunc(slices.Clone(hs), func(h shared.EventHandler) bool { return h == target })
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)
