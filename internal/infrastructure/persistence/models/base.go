package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/hms/backend/internal/domain/shared"
)

// EntityColumns are the id and audit timestamps every ledger table carries.
type EntityColumns struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func entityColumns(e shared.BaseEntity) EntityColumns {
	return EntityColumns{ID: e.ID, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt}
}

func (c EntityColumns) entity() shared.BaseEntity {
	return shared.BaseEntity{ID: c.ID, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

// AggregateColumns adds the version column that bill and payment saves
// compare against.
type AggregateColumns struct {
	EntityColumns
	Version int `gorm:"not null;default:1"`
}

func aggregateColumns(a shared.BaseAggregateRoot) AggregateColumns {
	return AggregateColumns{EntityColumns: entityColumns(a.BaseEntity), Version: a.Version}
}

// aggregate rebuilds the root with an empty event queue.
func (c AggregateColumns) aggregate() shared.BaseAggregateRoot {
	return shared.BaseAggregateRoot{BaseEntity: c.entity(), Version: c.Version}
}
