package event

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hms/backend/internal/domain/shared"
	"github.com/hms/backend/internal/infrastructure/persistence/models"
)

// claimable are the statuses a relay pass may pick up.
var claimable = []shared.OutboxStatus{shared.OutboxStatusPending, shared.OutboxStatusFailed}

// GormOutboxRepository reads and writes outbox_events. Built on a
// transaction handle it takes part in that transaction.
type GormOutboxRepository struct {
	db *gorm.DB
}

func NewGormOutboxRepository(db *gorm.DB) *GormOutboxRepository {
	return &GormOutboxRepository{db: db}
}

func (r *GormOutboxRepository) Save(ctx context.Context, entries ...*shared.OutboxEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]*models.OutboxEntryModel, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, models.OutboxEntryModelFromDomain(e))
	}
	return r.db.WithContext(ctx).Create(rows).Error
}

func (r *GormOutboxRepository) find(ctx context.Context, limit int, order string, where string, args ...any) ([]*shared.OutboxEntry, error) {
	var rows []models.OutboxEntryModel
	if err := r.db.WithContext(ctx).Where(where, args...).Order(order).Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return entriesOf(rows), nil
}

// FindPending returns new rows in the order they were written.
func (r *GormOutboxRepository) FindPending(ctx context.Context, limit int) ([]*shared.OutboxEntry, error) {
	return r.find(ctx, limit, "created_at ASC", "status = ?", shared.OutboxStatusPending)
}

func (r *GormOutboxRepository) FindRetryable(ctx context.Context, before time.Time, limit int) ([]*shared.OutboxEntry, error) {
	return r.find(ctx, limit, "next_retry_at ASC", "status = ? AND next_retry_at <= ?", shared.OutboxStatusFailed, before)
}

// FindDead backs the dead-letter listing of the admin endpoints.
func (r *GormOutboxRepository) FindDead(ctx context.Context, limit int) ([]*shared.OutboxEntry, error) {
	return r.find(ctx, limit, "created_at ASC", "status = ?", shared.OutboxStatusDead)
}

// MarkProcessing locks the claimable rows among ids with SKIP LOCKED, moves
// them to PROCESSING and returns them. Rows another relay holds are left out.
func (r *GormOutboxRepository) MarkProcessing(ctx context.Context, ids []uuid.UUID) ([]*shared.OutboxEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var claimed []*shared.OutboxEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.OutboxEntryModel
		err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
			Where("id IN ? AND status IN ?", ids, claimable).
			Find(&rows).Error
		if err != nil || len(rows) == 0 {
			return err
		}

		now := time.Now()
		locked := make([]uuid.UUID, 0, len(rows))
		for i := range rows {
			locked = append(locked, rows[i].ID)
			rows[i].Status = shared.OutboxStatusProcessing
			rows[i].UpdatedAt = now
		}
		err = tx.Model(&models.OutboxEntryModel{}).
			Where("id IN ?", locked).
			Updates(map[string]any{"status": shared.OutboxStatusProcessing, "updated_at": now}).Error
		if err != nil {
			return err
		}
		claimed = entriesOf(rows)
		return nil
	})
	return claimed, err
}

// Update writes the whole row back, stamping UpdatedAt.
func (r *GormOutboxRepository) Update(ctx context.Context, entry *shared.OutboxEntry) error {
	entry.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(models.OutboxEntryModelFromDomain(entry)).Error
}

func (r *GormOutboxRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", shared.OutboxStatusSent, before).
		Delete(&models.OutboxEntryModel{})
	return res.RowsAffected, res.Error
}

func (r *GormOutboxRepository) CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error) {
	var rows []struct {
		Status shared.OutboxStatus
		N      int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.OutboxEntryModel{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[shared.OutboxStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}

func entriesOf(rows []models.OutboxEntryModel) []*shared.OutboxEntry {
	out := make([]*shared.OutboxEntry, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}
	return out
}

var _ shared.OutboxRepository = (*GormOutboxRepository)(nil)
