package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheEntryRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	expires := created.Add(24 * time.Hour)
	entry := &CacheEntry{
		Key:         "https://example.com/styles.css",
		ContentType: "text/css",
		BlobRef:     "blobs/ab/abcd",
		Size:        2048,
		CreatedAt:   created,
		AccessedAt:  created,
		ExpiresAt:   &expires,
	}

	prior, err := db.PutCacheEntry(ctx, entry)
	require.NoError(t, err)
	require.Nil(t, prior)

	got, err := db.GetCacheEntry(ctx, entry.Key)
	require.NoError(t, err)
	require.Equal(t, entry.Key, got.Key)
	require.Equal(t, entry.ContentType, got.ContentType)
	require.Equal(t, entry.BlobRef, got.BlobRef)
	require.Equal(t, entry.Size, got.Size)
	require.True(t, got.CreatedAt.Equal(created))
	require.NotNil(t, got.ExpiresAt)
	require.True(t, got.ExpiresAt.Equal(expires))
}

func TestCacheEntryNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetCacheEntry(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPutCacheEntryReturnsPrior(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	first := &CacheEntry{Key: "k", Size: 100, CreatedAt: now, AccessedAt: now}
	prior, err := db.PutCacheEntry(ctx, first)
	require.NoError(t, err)
	require.Nil(t, prior)

	second := &CacheEntry{Key: "k", Size: 250, CreatedAt: now, AccessedAt: now.Add(time.Minute)}
	prior, err = db.PutCacheEntry(ctx, second)
	require.NoError(t, err)
	require.NotNil(t, prior)
	require.Equal(t, int64(100), prior.Size)

	count, total, err := db.CacheStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, int64(250), total)
}

func TestDeleteCacheEntry(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := db.PutCacheEntry(ctx, &CacheEntry{Key: "k", Size: 64, CreatedAt: now, AccessedAt: now})
	require.NoError(t, err)

	deleted, err := db.DeleteCacheEntry(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, int64(64), deleted.Size)

	_, err = db.GetCacheEntry(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = db.DeleteCacheEntry(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)

	// Index entries must be gone too.
	oldest, err := db.OldestCacheEntries(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, oldest)
}

func TestOldestCacheEntriesOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// Distinct access times, insertion order deliberately shuffled.
	for _, e := range []struct {
		key      string
		accessed time.Time
	}{
		{"b", base.Add(2 * time.Minute)},
		{"a", base.Add(1 * time.Minute)},
		{"c", base.Add(3 * time.Minute)},
	} {
		_, err := db.PutCacheEntry(ctx, &CacheEntry{Key: e.key, Size: 1, CreatedAt: base, AccessedAt: e.accessed})
		require.NoError(t, err)
	}

	oldest, err := db.OldestCacheEntries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	require.Equal(t, "a", oldest[0].Key)
	require.Equal(t, "b", oldest[1].Key)
}

func TestOldestCacheEntriesTieBreakByCreation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	accessed := base.Add(time.Hour)

	// Same access time, different creation times. The earlier creation
	// must evict first.
	_, err := db.PutCacheEntry(ctx, &CacheEntry{Key: "newer", Size: 1, CreatedAt: base.Add(time.Minute), AccessedAt: accessed})
	require.NoError(t, err)
	_, err = db.PutCacheEntry(ctx, &CacheEntry{Key: "older", Size: 1, CreatedAt: base, AccessedAt: accessed})
	require.NoError(t, err)

	oldest, err := db.OldestCacheEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	require.Equal(t, "older", oldest[0].Key)
	require.Equal(t, "newer", oldest[1].Key)
}

func TestTouchCacheEntryMovesInAccessOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, key := range []string{"a", "b", "c"} {
		_, err := db.PutCacheEntry(ctx, &CacheEntry{
			Key:        key,
			Size:       1,
			CreatedAt:  base,
			AccessedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	require.NoError(t, db.TouchCacheEntry(ctx, "a", base.Add(time.Hour)))

	oldest, err := db.OldestCacheEntries(ctx, 3)
	require.NoError(t, err)
	require.Len(t, oldest, 3)
	require.Equal(t, "b", oldest[0].Key)
	require.Equal(t, "c", oldest[1].Key)
	require.Equal(t, "a", oldest[2].Key)

	require.ErrorIs(t, db.TouchCacheEntry(ctx, "missing", base), ErrNotFound)
}

func TestExpiredCacheEntries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	_, err := db.PutCacheEntry(ctx, &CacheEntry{Key: "stale", Size: 1, CreatedAt: past, AccessedAt: past, ExpiresAt: &past})
	require.NoError(t, err)
	_, err = db.PutCacheEntry(ctx, &CacheEntry{Key: "fresh", Size: 1, CreatedAt: now, AccessedAt: now, ExpiresAt: &future})
	require.NoError(t, err)
	_, err = db.PutCacheEntry(ctx, &CacheEntry{Key: "pinned", Size: 1, CreatedAt: now, AccessedAt: now})
	require.NoError(t, err)

	expired, err := db.ExpiredCacheEntries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "stale", expired[0].Key)
}

func TestCacheStatsSumsRecordedSizes(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	sizes := []int64{100, 250, 4096}
	var want int64
	for i, size := range sizes {
		_, err := db.PutCacheEntry(ctx, &CacheEntry{
			Key:        string(rune('a' + i)),
			Size:       size,
			CreatedAt:  now,
			AccessedAt: now,
		})
		require.NoError(t, err)
		want += size
	}

	count, total, err := db.CacheStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(len(sizes)), count)
	require.Equal(t, want, total)
}
