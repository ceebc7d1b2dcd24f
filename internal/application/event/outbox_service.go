// Package event holds operator actions on the billing event outbox.
package event

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hms/backend/internal/domain/shared"
)

const deadLetterPage = 100

// DeadLetterStore is the slice of the outbox repository these actions use.
type DeadLetterStore interface {
	FindDead(ctx context.Context, limit int) ([]*shared.OutboxEntry, error)
	Update(ctx context.Context, entry *shared.OutboxEntry) error
	CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error)
}

// OutboxService backs the system endpoints that report the relay backlog
// and requeue dead letters.
type OutboxService struct {
	repo      DeadLetterStore
	log       *zap.Logger
	batchSize int
}

func NewOutboxService(repo DeadLetterStore, log *zap.Logger) *OutboxService {
	if log == nil {
		log = zap.NewNop()
	}
	return &OutboxService{repo: repo, log: log, batchSize: deadLetterPage}
}

type OutboxStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Dead       int64 `json:"dead"`
	Total      int64 `json:"total"`
}

type DeadEntry struct {
	ID          string `json:"id"`
	EventType   string `json:"event_type"`
	AggregateID string `json:"aggregate_id"`
	RetryCount  int    `json:"retry_count"`
	LastError   string `json:"last_error,omitempty"`
}

// storeFailure logs err and hides it behind a 500 for the caller.
func (s *OutboxService) storeFailure(op string, err error) error {
	s.log.Error("Outbox store failed", zap.String("op", op), zap.Error(err))
	return shared.NewDomainError("INTERNAL_ERROR", "Outbox store unavailable: "+op)
}

func (s *OutboxService) Stats(ctx context.Context) (*OutboxStats, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, s.storeFailure("count entries", err)
	}
	stats := OutboxStats{
		Pending:    counts[shared.OutboxStatusPending],
		Processing: counts[shared.OutboxStatusProcessing],
		Sent:       counts[shared.OutboxStatusSent],
		Failed:     counts[shared.OutboxStatusFailed],
		Dead:       counts[shared.OutboxStatusDead],
	}
	for _, n := range counts {
		stats.Total += n
	}
	return &stats, nil
}

// ListDead returns the oldest dead entries. A limit outside 1..100 means 100.
func (s *OutboxService) ListDead(ctx context.Context, limit int) ([]DeadEntry, error) {
	if limit < 1 || limit > s.batchSize {
		limit = s.batchSize
	}
	entries, err := s.repo.FindDead(ctx, limit)
	if err != nil {
		return nil, s.storeFailure("list dead letters", err)
	}
	dead := make([]DeadEntry, 0, len(entries))
	for _, e := range entries {
		dead = append(dead, DeadEntry{
			ID:          e.ID.String(),
			EventType:   e.EventType,
			AggregateID: e.AggregateID.String(),
			RetryCount:  e.RetryCount,
			LastError:   e.LastError,
		})
	}
	return dead, nil
}

// RetryAllDead moves every dead entry back to PENDING, a page at a time,
// and returns how many were requeued. An entry whose update fails stays
// dead and is skipped, so it is not read again in this call.
func (s *OutboxService) RetryAllDead(ctx context.Context) (int64, error) {
	var requeued int64
	tried := make(map[uuid.UUID]bool)

	for {
		page, err := s.repo.FindDead(ctx, s.batchSize)
		if err != nil {
			return requeued, s.storeFailure("list dead letters", err)
		}

		fresh := 0
		for _, e := range page {
			if tried[e.ID] {
				continue
			}
			tried[e.ID] = true
			fresh++
			if s.requeue(ctx, e) {
				requeued++
			}
		}

		if len(page) < s.batchSize || fresh == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return requeued, err
		}
	}

	s.log.Info("Dead letters requeued", zap.Int64("count", requeued))
	return requeued, nil
}

func (s *OutboxService) requeue(ctx context.Context, e *shared.OutboxEntry) bool {
	if e.ResetForRetry() != nil {
		return false
	}
	if err := s.repo.Update(ctx, e); err != nil {
		s.log.Warn("Dead letter left in place",
			zap.Stringer("id", e.ID),
			zap.String("event_type", e.EventType),
			zap.Error(err),
		)
		return false
	}
	return true
}
