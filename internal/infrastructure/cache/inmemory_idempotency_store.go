package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hms/backend/internal/domain/shared"
)

const sweepEvery = 5 * time.Minute

// InMemoryIdempotencyStore is the single-instance store used when Redis is
// not configured. Marks live in this process only.
type InMemoryIdempotencyStore struct {
	mu      sync.RWMutex
	expires map[string]time.Time
	now     func() time.Time

	done     chan struct{}
	sweeper  sync.WaitGroup
	stopOnce sync.Once
}

// NewInMemoryIdempotencyStore starts a background sweep of expired marks.
// Close stops it.
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	s := &InMemoryIdempotencyStore{
		expires: make(map[string]time.Time),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	s.sweeper.Add(1)
	go s.sweep(sweepEvery)
	return s
}

func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.liveAt(key, now) {
		return false, nil
	}
	s.expires[key] = now.Add(ttl)
	return true, nil
}

func (s *InMemoryIdempotencyStore) Unmark(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expires, key)
	return nil
}

func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveAt(key, s.now()), nil
}

// liveAt needs s.mu held.
func (s *InMemoryIdempotencyStore) liveAt(key string, now time.Time) bool {
	exp, ok := s.expires[key]
	return ok && now.Before(exp)
}

func (s *InMemoryIdempotencyStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.done)
		s.sweeper.Wait()
	})
	return nil
}

func (s *InMemoryIdempotencyStore) sweep(every time.Duration) {
	defer s.sweeper.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.cleanup()
		}
	}
}

func (s *InMemoryIdempotencyStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key := range s.expires {
		if !s.liveAt(key, now) {
			delete(s.expires, key)
		}
	}
}

// Size counts tracked marks, including expired ones not yet swept.
func (s *InMemoryIdempotencyStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.expires)
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
