package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/shared"
	"github.com/hms/backend/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PatientLocker is satisfied by RedisPatientLocker and LocalPatientLocker.
type PatientLocker interface {
	WithPatientLock(ctx context.Context, patientID uuid.UUID, fn func(context.Context) error) error
}

// Stores bundles the coordination primitives shared by the server and the
// worker. Client is nil when the in-process fallbacks are in use.
type Stores struct {
	Client      *redis.Client
	Idempotency shared.IdempotencyStore
	Locker      PatientLocker
}

// Close releases the Redis client or stops the in-memory sweeper.
func (s *Stores) Close() error {
	if s.Client != nil {
		return s.Client.Close()
	}
	return s.Idempotency.Close()
}

// StoreFactory creates Stores from configuration
type StoreFactory struct {
	redisConfig           config.RedisConfig
	billingConfig         config.BillingConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// StoreFactoryOption is a functional option for configuring the factory
type StoreFactoryOption func(*StoreFactory)

func WithLogger(logger *zap.Logger) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to the
// in-process stores. Default is true.
func WithInMemoryFallback(allow bool) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewStoreFactory creates a new factory
func NewStoreFactory(redisCfg config.RedisConfig, billingCfg config.BillingConfig, opts ...StoreFactoryOption) *StoreFactory {
	f := &StoreFactory{
		redisConfig:           redisCfg,
		billingConfig:         billingCfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create connects to Redis when configured and falls back to the in-process
// stores when it is disabled or, if allowed, unreachable.
func (f *StoreFactory) Create(ctx context.Context) (*Stores, error) {
	var err error
	if f.redisConfig.Enabled() {
		var client *redis.Client
		client, err = NewRedisClient(ctx, f.redisConfig)
		if err == nil {
			f.logger.Info("using Redis idempotency store and patient locks", zap.String("addr", f.redisConfig.Addr()))
			return f.FromClient(client), nil
		}
	} else {
		err = errors.New("redis host not configured")
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-process idempotency store and patient locks. "+
		"Webhook redeliveries across instances will not be deduplicated.",
		zap.Error(err),
	)
	return f.InMemory(), nil
}

// FromClient builds Redis-backed stores around an existing client
func (f *StoreFactory) FromClient(client *redis.Client) *Stores {
	return &Stores{
		Client:      client,
		Idempotency: NewRedisIdempotencyStore(client, DefaultIdempotencyPrefix),
		Locker:      NewRedisPatientLocker(client, f.billingConfig.LockTTL, f.billingConfig.LockTTL, f.logger),
	}
}

// InMemory builds the single-process stores
func (f *StoreFactory) InMemory() *Stores {
	return &Stores{
		Idempotency: NewInMemoryIdempotencyStore(),
		Locker:      NewLocalPatientLocker(),
	}
}
