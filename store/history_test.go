package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHistoryRecordVisit(t *testing.T) {
	m, clock := newTestManager(t, nil)
	ctx := context.Background()

	item, err := m.History.RecordVisit(ctx, "https://example.com", "Example")
	require.NoError(t, err)
	require.Equal(t, int64(1), item.VisitCount)

	clock.Advance(time.Hour)
	item, err = m.History.RecordVisit(ctx, "https://example.com", "Example")
	require.NoError(t, err)
	require.Equal(t, int64(2), item.VisitCount)
	require.True(t, item.LastVisit.After(item.CreatedAt))

	count, err := m.History.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestHistoryList(t *testing.T) {
	m, clock := newTestManager(t, nil)
	ctx := context.Background()

	for _, url := range []string{"https://a.test", "https://b.test", "https://c.test"} {
		_, err := m.History.RecordVisit(ctx, url, "")
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	items, err := m.History.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "https://c.test", items[0].URL)
	require.Equal(t, "https://b.test", items[1].URL)
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	m, clock := newTestManager(t, func(cfg *Config) {
		cfg.MaxHistoryEntries = 3
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := m.History.RecordVisit(ctx, fmt.Sprintf("https://site-%d.test", i), "")
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	deleted, err := m.History.Cleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, deleted)

	count, err := m.History.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)

	// The survivors are the three most recently visited.
	items, err := m.History.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "https://site-4.test", items[0].URL)
	require.Equal(t, "https://site-2.test", items[2].URL)
}

func TestHistoryCleanupUnderCapNoOp(t *testing.T) {
	m, _ := newTestManager(t, func(cfg *Config) {
		cfg.MaxHistoryEntries = 10
	})
	ctx := context.Background()

	_, err := m.History.RecordVisit(ctx, "https://a.test", "")
	require.NoError(t, err)

	deleted, err := m.History.Cleanup(ctx)
	require.NoError(t, err)
	require.Zero(t, deleted)
}

func TestBookmarkAddRemoveList(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.Bookmarks.Add(ctx, "https://a.test", "A", ""))
	require.NoError(t, m.Bookmarks.Add(ctx, "https://b.test", "B", "work"))

	all, err := m.Bookmarks.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, DefaultBookmarkFolder, all[0].Folder)

	work, err := m.Bookmarks.List(ctx, "work")
	require.NoError(t, err)
	require.Len(t, work, 1)
	require.Equal(t, "https://b.test", work[0].URL)

	require.NoError(t, m.Bookmarks.Remove(ctx, "https://a.test"))
	require.ErrorIs(t, m.Bookmarks.Remove(ctx, "https://a.test"), ErrNotFound)
}
