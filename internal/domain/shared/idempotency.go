package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers which deliveries (Stripe event ids, asynq task
// ids) have been handled. A mark expires after its TTL.
type IdempotencyStore interface {
	// MarkProcessed claims id. It reports false when an unexpired claim
	// already exists.
	MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error)
	// Unmark drops the claim after a failed attempt so a redelivery runs.
	Unmark(ctx context.Context, id string) error
	IsProcessed(ctx context.Context, id string) (bool, error)
	Close() error
}

type IdempotencyConfig struct {
	TTL     time.Duration
	Enabled bool
}

// DefaultIdempotencyConfig keeps marks for a day, longer than Stripe's
// redelivery window for a single attempt.
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{TTL: 24 * time.Hour, Enabled: true}
}
