package store

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crynn/browserstore"
)

func TestCachePutGetRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	data := []byte("body { margin: 0; }")
	require.NoError(t, m.Cache.Put(ctx, "https://example.com/styles.css", "text/css", data, nil))

	entry, err := m.Cache.Get(ctx, "https://example.com/styles.css")
	require.NoError(t, err)
	require.Equal(t, data, entry.Data)
	require.Equal(t, "text/css", entry.ContentType)
	require.Equal(t, int64(len(data)), entry.Size)
}

func TestCacheGetNotFound(t *testing.T) {
	m, _ := newTestManager(t, nil)

	_, err := m.Cache.Get(context.Background(), "https://example.com/missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCacheSizeAccountingExact(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.Cache.Put(ctx, "a", "text/plain", bytes.Repeat([]byte("x"), 100), nil))
	require.NoError(t, m.Cache.Put(ctx, "b", "text/plain", bytes.Repeat([]byte("x"), 250), nil))
	require.Equal(t, int64(350), m.Cache.Size())

	// Replacing a key subtracts the old size first.
	require.NoError(t, m.Cache.Put(ctx, "a", "text/plain", bytes.Repeat([]byte("x"), 40), nil))
	require.Equal(t, int64(290), m.Cache.Size())

	require.NoError(t, m.Cache.Delete(ctx, "b"))
	require.Equal(t, int64(40), m.Cache.Size())

	// The counter always matches the sum of actual row sizes.
	_, total, err := m.Index().CacheStats(ctx)
	require.NoError(t, err)
	require.Equal(t, total, m.Cache.Size())
}

func TestCacheEvictionPostCondition(t *testing.T) {
	m, clock := newTestManager(t, func(cfg *Config) {
		cfg.MaxCacheBytes = 300
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Cache.Put(ctx, fmt.Sprintf("key-%d", i), "text/plain", bytes.Repeat([]byte("x"), 100), nil))
		clock.Advance(time.Minute)
	}

	require.NoError(t, m.Cache.Cleanup(ctx))
	require.LessOrEqual(t, m.Cache.Size(), int64(300))

	_, total, err := m.Index().CacheStats(ctx)
	require.NoError(t, err)
	require.Equal(t, total, m.Cache.Size())
	require.LessOrEqual(t, total, int64(300))
}

func TestCacheEvictionOrder(t *testing.T) {
	m, clock := newTestManager(t, func(cfg *Config) {
		cfg.MaxCacheBytes = 150
	})
	ctx := context.Background()

	// Three 100-byte entries with distinct access times. The budget holds
	// one, so the two least recently accessed must go.
	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, m.Cache.Put(ctx, key, "text/plain", bytes.Repeat([]byte("x"), 100), nil))
		clock.Advance(time.Minute)
	}

	require.NoError(t, m.Cache.Cleanup(ctx))

	_, err := m.Cache.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = m.Cache.Get(ctx, "b")
	require.ErrorIs(t, err, ErrNotFound)

	entry, err := m.Cache.Get(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, "c", entry.Key)
}

func TestCacheGetRefreshesEvictionOrder(t *testing.T) {
	m, clock := newTestManager(t, func(cfg *Config) {
		cfg.MaxCacheBytes = 150
	})
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, m.Cache.Put(ctx, key, "text/plain", bytes.Repeat([]byte("x"), 100), nil))
		clock.Advance(time.Minute)
	}

	// Reading "a" makes it the most recently accessed, so it survives.
	clock.Advance(time.Minute)
	_, err := m.Cache.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, m.Cache.Cleanup(ctx))

	_, err = m.Cache.Get(ctx, "a")
	require.NoError(t, err)
	_, err = m.Cache.Get(ctx, "b")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = m.Cache.Get(ctx, "c")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCacheExpiredEntriesRemovedFirst(t *testing.T) {
	m, clock := newTestManager(t, nil)
	ctx := context.Background()

	expiry := clock.Now().Add(30 * time.Minute)
	require.NoError(t, m.Cache.Put(ctx, "short-lived", "text/plain", []byte("data"), &expiry))
	require.NoError(t, m.Cache.Put(ctx, "long-lived", "text/plain", []byte("data"), nil))

	clock.Advance(time.Hour)
	require.NoError(t, m.Cache.Cleanup(ctx))

	_, err := m.Cache.Get(ctx, "short-lived")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = m.Cache.Get(ctx, "long-lived")
	require.NoError(t, err)

	_, total, err := m.Index().CacheStats(ctx)
	require.NoError(t, err)
	require.Equal(t, total, m.Cache.Size())
}

func TestCacheMissingBlobHealed(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.Cache.Put(ctx, "doomed", "text/plain", []byte("data"), nil))

	// Remove the blob behind the row's back.
	blobKey := browserstore.BlobStorageKey(browserstore.KeyHash("doomed"))
	require.NoError(t, m.blobs.Delete(ctx, blobKey))

	_, err := m.Cache.Get(ctx, "doomed")
	require.ErrorIs(t, err, ErrNotFound)

	// The stale row is gone and the counter reflects it.
	count, total, err := m.Index().CacheStats(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
	require.Zero(t, total)
	require.Zero(t, m.Cache.Size())
}

func TestCacheCleanupIdempotent(t *testing.T) {
	m, clock := newTestManager(t, func(cfg *Config) {
		cfg.MaxCacheBytes = 150
	})
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, m.Cache.Put(ctx, key, "text/plain", bytes.Repeat([]byte("x"), 100), nil))
		clock.Advance(time.Minute)
	}

	require.NoError(t, m.Cache.Cleanup(ctx))
	sizeAfterFirst := m.Cache.Size()

	require.NoError(t, m.Cache.Cleanup(ctx))
	require.Equal(t, sizeAfterFirst, m.Cache.Size())

	_, err := m.Cache.Get(ctx, "c")
	require.NoError(t, err)
}

func TestCachePutTriggersEnforcement(t *testing.T) {
	m, clock := newTestManager(t, func(cfg *Config) {
		cfg.MaxCacheBytes = 250
	})
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, m.Cache.Put(ctx, key, "text/plain", bytes.Repeat([]byte("x"), 100), nil))
		clock.Advance(time.Minute)
	}

	// Put of "c" pushed the total to 300 and enforcement brought it back
	// under budget by evicting the least recently accessed entry.
	require.LessOrEqual(t, m.Cache.Size(), int64(250))
	_, err := m.Cache.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = m.Cache.Get(ctx, "c")
	require.NoError(t, err)
}

func TestCacheCounterSeededOnReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	ctx := context.Background()

	m, err := Open(cfg, WithNoSync(true))
	require.NoError(t, err)
	require.NoError(t, m.Cache.Put(ctx, "a", "text/plain", bytes.Repeat([]byte("x"), 123), nil))
	require.NoError(t, m.Close())

	m, err = Open(cfg, WithNoSync(true))
	require.NoError(t, err)
	defer m.Close()
	require.Equal(t, int64(123), m.Cache.Size())
}
