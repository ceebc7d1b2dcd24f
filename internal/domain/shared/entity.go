package shared

import (
	"time"

	"github.com/google/uuid"
)

// Entity is anything with a UUID identity and audit timestamps. Bill items
// are entities owned by their bill; bills and payments are also aggregates.
type Entity interface {
	GetID() uuid.UUID
	GetCreatedAt() time.Time
	GetUpdatedAt() time.Time
}

type BaseEntity struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBaseEntity assigns a random ID and sets both timestamps to now.
func NewBaseEntity() BaseEntity {
	now := time.Now()
	return BaseEntity{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
}

func (e *BaseEntity) GetID() uuid.UUID        { return e.ID }
func (e *BaseEntity) GetCreatedAt() time.Time { return e.CreatedAt }
func (e *BaseEntity) GetUpdatedAt() time.Time { return e.UpdatedAt }

// Touch is called by every mutating method of a bill or payment.
func (e *BaseEntity) Touch() { e.UpdatedAt = time.Now() }
