package index

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

// PutBookmark inserts or replaces a bookmark row by URL.
func (d *DB) PutBookmark(_ context.Context, b *Bookmark) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		data, err := d.marshalRecord(b)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketBookmarks).Put([]byte(b.URL), data); err != nil {
			return fmt.Errorf("putting bookmark: %w", err)
		}
		return nil
	})
}

// DeleteBookmark removes a bookmark row by URL.
// Returns ErrNotFound if no bookmark exists for the URL.
func (d *DB) DeleteBookmark(_ context.Context, url string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketBookmarks)
		if bucket.Get([]byte(url)) == nil {
			return ErrNotFound
		}
		return bucket.Delete([]byte(url))
	})
}

// ListBookmarks returns bookmarks in record key (URL) order. An empty
// folder returns all bookmarks.
func (d *DB) ListBookmarks(_ context.Context, folder string) ([]Bookmark, error) {
	var bookmarks []Bookmark
	err := d.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketBookmarks).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var b Bookmark
			if err := d.unmarshalRecord(v, &b); err != nil {
				d.logger.Warn("skipping undecodable bookmark row", "url", string(k), "error", err)
				continue
			}
			if folder != "" && b.Folder != folder {
				continue
			}
			bookmarks = append(bookmarks, b)
		}
		return nil
	})
	return bookmarks, err
}

// BookmarkCount returns the number of bookmark rows.
func (d *DB) BookmarkCount(_ context.Context) (int64, error) {
	var count int64
	err := d.db.View(func(tx *bbolt.Tx) error {
		count = int64(tx.Bucket(bucketBookmarks).Stats().KeyN)
		return nil
	})
	return count, err
}
