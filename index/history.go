package index

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// RecordVisit upserts a history row by URL: the visit count is incremented,
// last_visit is set to the given time, and created_at is preserved from the
// first insert. The read-modify-write happens in one transaction.
func (d *DB) RecordVisit(_ context.Context, url, title string, visitedAt time.Time) (*HistoryItem, error) {
	var item HistoryItem
	err := d.db.Update(func(tx *bbolt.Tx) error {
		rows := tx.Bucket(bucketHistory)
		key := []byte(url)

		if val := rows.Get(key); val != nil {
			if err := d.unmarshalRecord(val, &item); err != nil {
				return err
			}
			item.VisitCount++
			item.LastVisit = visitedAt
			if title != "" {
				item.Title = title
			}
		} else {
			item = HistoryItem{
				URL:        url,
				Title:      title,
				VisitCount: 1,
				LastVisit:  visitedAt,
				CreatedAt:  visitedAt,
			}
		}

		data, err := d.marshalRecord(&item)
		if err != nil {
			return err
		}
		if err := rows.Put(key, data); err != nil {
			return fmt.Errorf("putting history item: %w", err)
		}

		return d.updateHistoryVisitIndex(tx, url, item.LastVisit)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// RecentHistory returns up to limit items, most recently visited first.
func (d *DB) RecentHistory(_ context.Context, limit int) ([]HistoryItem, error) {
	var items []HistoryItem
	err := d.db.View(func(tx *bbolt.Tx) error {
		rows := tx.Bucket(bucketHistory)
		cursor := tx.Bucket(bucketHistoryByVisit).Cursor()
		for k, v := cursor.Last(); k != nil && len(items) < limit; k, v = cursor.Prev() {
			val := rows.Get(v)
			if val == nil {
				continue
			}
			var item HistoryItem
			if err := d.unmarshalRecord(val, &item); err != nil {
				d.logger.Warn("skipping undecodable history row", "url", string(v), "error", err)
				continue
			}
			items = append(items, item)
		}
		return nil
	})
	return items, err
}

// OldestHistory returns up to limit items in ascending last_visit order.
func (d *DB) OldestHistory(_ context.Context, limit int) ([]HistoryItem, error) {
	var items []HistoryItem
	err := d.db.View(func(tx *bbolt.Tx) error {
		rows := tx.Bucket(bucketHistory)
		cursor := tx.Bucket(bucketHistoryByVisit).Cursor()
		for k, v := cursor.First(); k != nil && len(items) < limit; k, v = cursor.Next() {
			val := rows.Get(v)
			if val == nil {
				continue
			}
			var item HistoryItem
			if err := d.unmarshalRecord(val, &item); err != nil {
				continue
			}
			items = append(items, item)
		}
		return nil
	})
	return items, err
}

// DeleteHistory removes a history row and its visit index entry.
func (d *DB) DeleteHistory(_ context.Context, url string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		if err := d.removeHistoryVisitIndex(tx, url); err != nil {
			return err
		}
		return tx.Bucket(bucketHistory).Delete([]byte(url))
	})
}

// HistoryCount returns the number of history rows.
func (d *DB) HistoryCount(_ context.Context) (int64, error) {
	var count int64
	err := d.db.View(func(tx *bbolt.Tx) error {
		count = int64(tx.Bucket(bucketHistory).Stats().KeyN)
		return nil
	})
	return count, err
}

func (d *DB) updateHistoryVisitIndex(tx *bbolt.Tx, url string, lastVisit time.Time) error {
	if err := d.removeHistoryVisitIndex(tx, url); err != nil {
		return err
	}

	forward := tx.Bucket(bucketHistoryByVisit)
	reverse := tx.Bucket(bucketHistoryVisitByKey)

	if err := forward.Put(makeHistoryVisitKey(lastVisit, url), []byte(url)); err != nil {
		return fmt.Errorf("putting visit index: %w", err)
	}
	if err := reverse.Put([]byte(url), encodeTimestamp(lastVisit)); err != nil {
		return fmt.Errorf("putting visit reverse index: %w", err)
	}
	return nil
}

func (d *DB) removeHistoryVisitIndex(tx *bbolt.Tx, url string) error {
	forward := tx.Bucket(bucketHistoryByVisit)
	reverse := tx.Bucket(bucketHistoryVisitByKey)

	if tsBytes := reverse.Get([]byte(url)); tsBytes != nil {
		if err := forward.Delete(makeHistoryVisitKey(decodeTimestamp(tsBytes), url)); err != nil {
			return fmt.Errorf("deleting old visit index: %w", err)
		}
		if err := reverse.Delete([]byte(url)); err != nil {
			return fmt.Errorf("deleting visit reverse index: %w", err)
		}
	}
	return nil
}
