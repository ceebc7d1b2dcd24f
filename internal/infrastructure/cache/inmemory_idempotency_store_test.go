package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newClockedStore returns a store whose clock the test advances manually.
func newClockedStore(t *testing.T) (*InMemoryIdempotencyStore, *time.Time) {
	t.Helper()
	store := NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = store.Close() })

	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	return store, &now
}

func TestInMemoryIdempotencyStore_MarkProcessed(t *testing.T) {
	ctx := context.Background()

	t.Run("first claim wins", func(t *testing.T) {
		store, _ := newClockedStore(t)

		isNew, err := store.MarkProcessed(ctx, "evt_1", time.Hour)
		require.NoError(t, err)
		assert.True(t, isNew)

		isNew, err = store.MarkProcessed(ctx, "evt_1", time.Hour)
		require.NoError(t, err)
		assert.False(t, isNew, "redelivery must be reported as duplicate")
	})

	t.Run("claim can be retaken after expiry", func(t *testing.T) {
		store, now := newClockedStore(t)

		_, err := store.MarkProcessed(ctx, "evt_2", time.Minute)
		require.NoError(t, err)

		*now = now.Add(time.Minute)

		isNew, err := store.MarkProcessed(ctx, "evt_2", time.Minute)
		require.NoError(t, err)
		assert.True(t, isNew)
	})
}

func TestInMemoryIdempotencyStore_Unmark(t *testing.T) {
	ctx := context.Background()
	store, _ := newClockedStore(t)

	_, err := store.MarkProcessed(ctx, "evt_3", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Unmark(ctx, "evt_3"))

	processed, err := store.IsProcessed(ctx, "evt_3")
	require.NoError(t, err)
	assert.False(t, processed)

	isNew, err := store.MarkProcessed(ctx, "evt_3", time.Hour)
	require.NoError(t, err)
	assert.True(t, isNew, "failed handler must be able to retry")

	assert.NoError(t, store.Unmark(ctx, "never-marked"))
}

func TestInMemoryIdempotencyStore_IsProcessed(t *testing.T) {
	ctx := context.Background()
	store, now := newClockedStore(t)

	processed, err := store.IsProcessed(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, processed)

	_, err = store.MarkProcessed(ctx, "evt_4", 10*time.Second)
	require.NoError(t, err)

	processed, err = store.IsProcessed(ctx, "evt_4")
	require.NoError(t, err)
	assert.True(t, processed)

	*now = now.Add(11 * time.Second)
	processed, err = store.IsProcessed(ctx, "evt_4")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestInMemoryIdempotencyStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	store, now := newClockedStore(t)

	store.MarkProcessed(ctx, "short-1", time.Second)
	store.MarkProcessed(ctx, "short-2", time.Second)
	store.MarkProcessed(ctx, "long", time.Hour)
	assert.Equal(t, 3, store.Size())

	*now = now.Add(2 * time.Second)
	store.cleanup()

	assert.Equal(t, 1, store.Size())
	processed, err := store.IsProcessed(ctx, "long")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestInMemoryIdempotencyStore_ConcurrentClaims(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	ctx := context.Background()
	const workers = 50

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			isNew, err := store.MarkProcessed(ctx, "evt_same", time.Hour)
			if err == nil && isNew {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
}

func TestInMemoryIdempotencyStore_Close(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
