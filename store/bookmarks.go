package store

import (
	"context"
	"fmt"
	"time"

	"github.com/crynn/browserstore/index"
)

// DefaultBookmarkFolder is used when a bookmark is added with no folder.
const DefaultBookmarkFolder = "default"

// BookmarkStore stores user bookmarks, keyed by URL. Bookmarks are never
// evicted; cleanup passes skip this store entirely.
type BookmarkStore struct {
	idx *index.DB
	now func() time.Time
}

// NewBookmarkStore builds a bookmark store over the given index.
func NewBookmarkStore(idx *index.DB, opts ...Option) *BookmarkStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &BookmarkStore{idx: idx, now: o.now}
}

// Add inserts or replaces a bookmark by URL. An empty folder is stored
// under DefaultBookmarkFolder.
func (b *BookmarkStore) Add(ctx context.Context, url, title, folder string) error {
	if folder == "" {
		folder = DefaultBookmarkFolder
	}
	err := b.idx.PutBookmark(ctx, &index.Bookmark{
		URL:       url,
		Title:     title,
		Folder:    folder,
		CreatedAt: b.now(),
	})
	if err != nil {
		return fmt.Errorf("adding bookmark: %w", err)
	}
	return nil
}

// Remove deletes a bookmark by URL. Returns ErrNotFound if absent.
func (b *BookmarkStore) Remove(ctx context.Context, url string) error {
	return b.idx.DeleteBookmark(ctx, url)
}

// List returns bookmarks in URL order. An empty folder returns all.
func (b *BookmarkStore) List(ctx context.Context, folder string) ([]index.Bookmark, error) {
	return b.idx.ListBookmarks(ctx, folder)
}

// Count returns the number of bookmarks.
func (b *BookmarkStore) Count(ctx context.Context) (int64, error) {
	return b.idx.BookmarkCount(ctx)
}
