package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredisClient(t)
	store := NewRedisIdempotencyStore(client, "")

	isNew, err := store.MarkProcessed(ctx, "evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.True(t, mr.Exists(DefaultIdempotencyPrefix+"evt_1"))
	assert.Equal(t, time.Hour, mr.TTL(DefaultIdempotencyPrefix+"evt_1"))

	isNew, err = store.MarkProcessed(ctx, "evt_1", time.Hour)
	require.NoError(t, err)
	assert.False(t, isNew)

	processed, err := store.IsProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, processed)

	require.NoError(t, store.Unmark(ctx, "evt_1"))
	processed, err = store.IsProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRedisIdempotencyStore_Expiry(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredisClient(t)
	store := NewRedisIdempotencyStore(client, "test:")

	_, err := store.MarkProcessed(ctx, "evt_2", time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	isNew, err := store.MarkProcessed(ctx, "evt_2", time.Minute)
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestRedisIdempotencyStore_ConnectionError(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredisClient(t)
	store := NewRedisIdempotencyStore(client, "")
	mr.Close()

	_, err := store.MarkProcessed(ctx, "evt_3", time.Minute)
	assert.Error(t, err)
	_, err = store.IsProcessed(ctx, "evt_3")
	assert.Error(t, err)
}
