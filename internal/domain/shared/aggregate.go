package shared

// AggregateRoot is an entity the ledger store saves as one unit. Bills and
// payments are the two roots; each carries a version for the guarded update
// and the events raised since it was loaded.
type AggregateRoot interface {
	Entity
	GetVersion() int
	IncrementVersion()
	AddDomainEvent(event DomainEvent)
	GetDomainEvents() []DomainEvent
	ClearDomainEvents()
}

// BaseAggregateRoot is embedded by Bill and Payment.
type BaseAggregateRoot struct {
	BaseEntity

	// Version is 1 on creation and grows by one per successful save.
	Version int

	pending []DomainEvent
}

func NewBaseAggregateRoot() BaseAggregateRoot {
	return BaseAggregateRoot{BaseEntity: NewBaseEntity(), Version: 1}
}

func (a *BaseAggregateRoot) GetVersion() int { return a.Version }

// IncrementVersion is called by the store just before the
// "WHERE version = old" update. The caller compares against Version-1.
func (a *BaseAggregateRoot) IncrementVersion() { a.Version++ }

// AddDomainEvent queues an event for the outbox. A nil event is ignored.
func (a *BaseAggregateRoot) AddDomainEvent(event DomainEvent) {
	if event == nil {
		return
	}
	a.pending = append(a.pending, event)
}

// GetDomainEvents returns a copy of the queued events in the order they were
// raised, or nil when nothing is queued.
func (a *BaseAggregateRoot) GetDomainEvents() []DomainEvent {
	if len(a.pending) == 0 {
		return nil
	}
	out := make([]DomainEvent, len(a.pending))
	copy(out, a.pending)
	return out
}

// ClearDomainEvents drops the queue once the events are in the outbox.
func (a *BaseAggregateRoot) ClearDomainEvents() { a.pending = nil }
