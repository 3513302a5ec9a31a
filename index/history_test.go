package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordVisitIncrementsCount(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	first := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	item, err := db.RecordVisit(ctx, "https://example.com", "Example", first)
	require.NoError(t, err)
	require.Equal(t, int64(1), item.VisitCount)
	require.True(t, item.CreatedAt.Equal(first))

	second := first.Add(time.Hour)
	item, err = db.RecordVisit(ctx, "https://example.com", "Example, updated", second)
	require.NoError(t, err)
	require.Equal(t, int64(2), item.VisitCount)
	require.Equal(t, "Example, updated", item.Title)
	require.True(t, item.LastVisit.Equal(second))
	require.True(t, item.CreatedAt.Equal(first))

	count, err := db.HistoryCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestRecordVisitKeepsTitleOnEmpty(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := db.RecordVisit(ctx, "https://example.com", "Example", now)
	require.NoError(t, err)

	item, err := db.RecordVisit(ctx, "https://example.com", "", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, "Example", item.Title)
}

func TestHistoryOrdering(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	urls := []string{"https://a.test", "https://b.test", "https://c.test"}
	for i, url := range urls {
		_, err := db.RecordVisit(ctx, url, "", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	recent, err := db.RecentHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "https://c.test", recent[0].URL)
	require.Equal(t, "https://b.test", recent[1].URL)

	oldest, err := db.OldestHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	require.Equal(t, "https://a.test", oldest[0].URL)
	require.Equal(t, "https://b.test", oldest[1].URL)
}

func TestHistoryRevisitMovesToFront(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := db.RecordVisit(ctx, "https://a.test", "", base)
	require.NoError(t, err)
	_, err = db.RecordVisit(ctx, "https://b.test", "", base.Add(time.Minute))
	require.NoError(t, err)

	// Revisit a, making it the most recent.
	_, err = db.RecordVisit(ctx, "https://a.test", "", base.Add(2*time.Minute))
	require.NoError(t, err)

	recent, err := db.RecentHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "https://a.test", recent[0].URL)

	oldest, err := db.OldestHistory(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "https://b.test", oldest[0].URL)
}

func TestDeleteHistory(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := db.RecordVisit(ctx, "https://a.test", "", now)
	require.NoError(t, err)
	require.NoError(t, db.DeleteHistory(ctx, "https://a.test"))

	count, err := db.HistoryCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	recent, err := db.RecentHistory(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, recent)
}

func TestBookmarkRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.PutBookmark(ctx, &Bookmark{URL: "https://a.test", Title: "A", Folder: "work", CreatedAt: now}))
	require.NoError(t, db.PutBookmark(ctx, &Bookmark{URL: "https://b.test", Title: "B", Folder: "home", CreatedAt: now}))

	// Replacing by URL keeps one row.
	require.NoError(t, db.PutBookmark(ctx, &Bookmark{URL: "https://a.test", Title: "A2", Folder: "work", CreatedAt: now}))

	count, err := db.BookmarkCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	all, err := db.ListBookmarks(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "A2", all[0].Title)

	work, err := db.ListBookmarks(ctx, "work")
	require.NoError(t, err)
	require.Len(t, work, 1)
	require.Equal(t, "https://a.test", work[0].URL)
}

func TestDeleteBookmark(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.PutBookmark(ctx, &Bookmark{URL: "https://a.test", Title: "A", CreatedAt: now}))
	require.NoError(t, db.DeleteBookmark(ctx, "https://a.test"))
	require.ErrorIs(t, db.DeleteBookmark(ctx, "https://a.test"), ErrNotFound)
}
