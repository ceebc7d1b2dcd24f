package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is where an outbox row is in its delivery life:
// PENDING -> PROCESSING -> SENT, with FAILED looping back through PROCESSING
// until the retry budget runs out and the row is parked as DEAD.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusSent       OutboxStatus = "SENT"
	OutboxStatusFailed     OutboxStatus = "FAILED"
	OutboxStatusDead       OutboxStatus = "DEAD"
)

const (
	DefaultMaxRetries  = 5
	DefaultBaseBackoff = time.Second
	// MaxBackoff caps the doubling delay between attempts.
	MaxBackoff = 5 * time.Minute
)

var (
	ErrOutboxNotClaimable = errors.New("outbox: only pending or failed entries can be claimed")
	ErrOutboxNotDead      = errors.New("outbox: only dead entries can be requeued")
)

// OutboxEntry is one serialized bill or payment event waiting to reach the
// event bus. It is written in the same transaction as the aggregate change.
type OutboxEntry struct {
	ID            uuid.UUID
	EventID       uuid.UUID
	EventType     string
	AggregateID   uuid.UUID
	AggregateType string
	Payload       []byte

	Status      OutboxStatus
	RetryCount  int
	MaxRetries  int
	LastError   string
	NextRetryAt *time.Time
	ProcessedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewOutboxEntry(event DomainEvent, payload []byte) *OutboxEntry {
	e := &OutboxEntry{
		ID:            uuid.New(),
		EventID:       event.EventID(),
		EventType:     event.EventType(),
		AggregateID:   event.AggregateID(),
		AggregateType: event.AggregateType(),
		Payload:       payload,
		Status:        OutboxStatusPending,
		MaxRetries:    DefaultMaxRetries,
	}
	e.CreatedAt = e.touch()
	return e
}

func (e *OutboxEntry) touch() time.Time {
	e.UpdatedAt = time.Now()
	return e.UpdatedAt
}

// CanRetry reports whether a failed entry still has attempts left.
func (e *OutboxEntry) CanRetry() bool {
	return e.Status == OutboxStatusFailed && e.RetryCount < e.MaxRetries
}

func (e *OutboxEntry) IsDead() bool { return e.Status == OutboxStatusDead }

// MarkProcessing claims the entry for one delivery attempt.
func (e *OutboxEntry) MarkProcessing() error {
	switch e.Status {
	case OutboxStatusPending, OutboxStatusFailed:
		e.Status = OutboxStatusProcessing
		e.touch()
		return nil
	default:
		return ErrOutboxNotClaimable
	}
}

func (e *OutboxEntry) MarkSent() {
	now := e.touch()
	e.Status = OutboxStatusSent
	e.ProcessedAt = &now
}

// MarkFailed counts the attempt. The entry is retried after
// DefaultBaseBackoff doubled per earlier failure, capped at MaxBackoff, or
// parked as DEAD once RetryCount reaches MaxRetries.
func (e *OutboxEntry) MarkFailed(errMsg string) {
	now := e.touch()
	e.RetryCount++
	e.LastError = errMsg

	if e.RetryCount >= e.MaxRetries {
		e.Status = OutboxStatusDead
		e.NextRetryAt = nil
		return
	}
	e.Status = OutboxStatusFailed
	next := now.Add(backoff(e.RetryCount))
	e.NextRetryAt = &next
}

func backoff(attempt int) time.Duration {
	d := DefaultBaseBackoff
	for i := 1; i < attempt && d < MaxBackoff; i++ {
		d *= 2
	}
	return min(d, MaxBackoff)
}

// ResetForRetry requeues a dead entry with its full retry budget.
func (e *OutboxEntry) ResetForRetry() error {
	if !e.IsDead() {
		return ErrOutboxNotDead
	}
	e.Status = OutboxStatusPending
	e.RetryCount = 0
	e.LastError = ""
	e.NextRetryAt = nil
	e.touch()
	return nil
}

// OutboxRepository stores outbox rows for the relay and the admin endpoints.
type OutboxRepository interface {
	Save(ctx context.Context, entries ...*OutboxEntry) error
	FindPending(ctx context.Context, limit int) ([]*OutboxEntry, error)
	// FindRetryable returns FAILED rows whose NextRetryAt is before the given time.
	FindRetryable(ctx context.Context, before time.Time, limit int) ([]*OutboxEntry, error)
	// MarkProcessing claims the rows it can lock and returns only those.
	MarkProcessing(ctx context.Context, ids []uuid.UUID) ([]*OutboxEntry, error)
	Update(ctx context.Context, entry *OutboxEntry) error
	// DeleteOlderThan purges SENT rows processed before the cutoff.
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}
