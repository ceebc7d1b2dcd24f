package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hms/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBillingConfig = config.BillingConfig{LockTTL: time.Second}

func TestStoreFactory_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("uses redis when reachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		port, err := strconv.Atoi(mr.Port())
		require.NoError(t, err)

		stores, err := NewStoreFactory(config.RedisConfig{Host: mr.Host(), Port: port}, testBillingConfig).Create(ctx)
		require.NoError(t, err)
		defer stores.Close()

		require.NotNil(t, stores.Client)
		assert.IsType(t, &RedisIdempotencyStore{}, stores.Idempotency)
		assert.IsType(t, &RedisPatientLocker{}, stores.Locker)
	})

	t.Run("falls back when redis is disabled", func(t *testing.T) {
		stores, err := NewStoreFactory(config.RedisConfig{}, testBillingConfig).Create(ctx)
		require.NoError(t, err)
		defer stores.Close()

		assert.Nil(t, stores.Client)
		assert.IsType(t, &InMemoryIdempotencyStore{}, stores.Idempotency)
		assert.IsType(t, &LocalPatientLocker{}, stores.Locker)
	})

	t.Run("fails without fallback", func(t *testing.T) {
		mr := miniredis.RunT(t)
		port, err := strconv.Atoi(mr.Port())
		require.NoError(t, err)
		host := mr.Host()
		mr.Close()

		_, err = NewStoreFactory(config.RedisConfig{Host: host, Port: port}, testBillingConfig, WithInMemoryFallback(false)).Create(ctx)
		assert.Error(t, err)
	})
}
