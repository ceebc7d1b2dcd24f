package shared

import "context"

// EventHandler consumes events delivered by the bus. The clinical ingestors
// and the ledger audit handler are the handlers in this service.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	// EventTypes lists the types the handler wants. Nil subscribes it to all.
	EventTypes() []string
}

type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventSubscriber registers handlers. Subscribe falls back to
// handler.EventTypes() when no types are passed.
type EventSubscriber interface {
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
}

// EventBus is what the outbox relay publishes to.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// OutboxEventSaver appends events to the outbox inside the caller's
// transaction. tx is whatever handle the store uses; the gorm store passes
// its *gorm.DB.
type OutboxEventSaver interface {
	SaveEvents(ctx context.Context, tx any, events ...DomainEvent) error
}
