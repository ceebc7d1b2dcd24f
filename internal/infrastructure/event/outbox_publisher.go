package event

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/hms/backend/internal/domain/shared"
)

// OutboxPublisher is the ledger store's OutboxEventSaver. Events are inserted
// with the store's transaction handle, so they commit or roll back together
// with the bill or payment row that raised them.
type OutboxPublisher struct {
	serializer *EventSerializer
}

func NewOutboxPublisher(serializer *EventSerializer) *OutboxPublisher {
	return &OutboxPublisher{serializer: serializer}
}

// PublishWithTx refuses event types the relay could not decode later.
func (p *OutboxPublisher) PublishWithTx(ctx context.Context, tx *gorm.DB, events ...shared.DomainEvent) error {
	entries := make([]*shared.OutboxEntry, 0, len(events))
	for _, e := range events {
		if !p.serializer.IsRegistered(e.EventType()) {
			return fmt.Errorf("%w: %s", ErrUnknownEventType, e.EventType())
		}
		payload, err := p.serializer.Serialize(e)
		if err != nil {
			return err
		}
		entries = append(entries, shared.NewOutboxEntry(e, payload))
	}
	return NewGormOutboxRepository(tx).Save(ctx, entries...)
}

func (p *OutboxPublisher) SaveEvents(ctx context.Context, tx any, events ...shared.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	db, ok := tx.(*gorm.DB)
	if !ok {
		return fmt.Errorf("outbox: expected a *gorm.DB transaction, got %T", tx)
	}
	return p.PublishWithTx(ctx, db, events...)
}

var _ shared.OutboxEventSaver = (*OutboxPublisher)(nil)
