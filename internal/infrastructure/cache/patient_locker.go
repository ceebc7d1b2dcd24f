package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockNotObtained is returned when the patient lock stays contended for
// longer than the configured wait.
var ErrLockNotObtained = errors.New("patient lock not obtained")

const (
	patientLockPrefix  = "billing:patient:"
	patientLockBackoff = 25 * time.Millisecond
)

// RedisPatientLocker serializes bill find-or-create for a patient across
// processes before the database row lock is taken.
type RedisPatientLocker struct {
	locker *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger
}

// NewRedisPatientLocker builds a locker whose leases expire after ttl. A caller
// waits at most wait for a contended lease.
func NewRedisPatientLocker(client redis.UniversalClient, ttl, wait time.Duration, logger *zap.Logger) *RedisPatientLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPatientLocker{
		locker: redislock.New(client),
		ttl:    ttl,
		wait:   wait,
		logger: logger,
	}
}

func (l *RedisPatientLocker) WithPatientLock(ctx context.Context, patientID uuid.UUID, fn func(context.Context) error) error {
	key := patientLockPrefix + patientID.String()

	retries := int(l.wait / patientLockBackoff)
	lock, err := l.locker.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(patientLockBackoff), retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return fmt.Errorf("%w: %s", ErrLockNotObtained, patientID)
	}
	if err != nil {
		return fmt.Errorf("failed to obtain patient lock: %w", err)
	}
	defer func() {
		// Release with a fresh context so a cancelled request still frees the lease.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("failed to release patient lock", zap.String("key", key), zap.Error(err))
		}
	}()

	return fn(ctx)
}

// LocalPatientLocker is the single-process fallback used when Redis is not
// configured. The database row lock still guards correctness.
type LocalPatientLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*patientMutex
}

type patientMutex struct {
	mu   sync.Mutex
	refs int
}

func NewLocalPatientLocker() *LocalPatientLocker {
	return &LocalPatientLocker{locks: make(map[uuid.UUID]*patientMutex)}
}

func (l *LocalPatientLocker) WithPatientLock(ctx context.Context, patientID uuid.UUID, fn func(context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[patientID]
	if !ok {
		m = &patientMutex{}
		l.locks[patientID] = m
	}
	m.refs++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, patientID)
		}
		l.mu.Unlock()
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
