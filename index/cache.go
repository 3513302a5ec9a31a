package index

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// PutCacheEntry upserts a cache entry row and maintains the access-order
// index in the same transaction. If a row already existed for the key, the
// prior entry is returned so the caller can adjust its size accounting.
func (d *DB) PutCacheEntry(_ context.Context, entry *CacheEntry) (*CacheEntry, error) {
	var prior *CacheEntry
	err := d.db.Update(func(tx *bbolt.Tx) error {
		rows := tx.Bucket(bucketCacheEntries)
		key := []byte(entry.Key)

		if old := rows.Get(key); old != nil {
			var p CacheEntry
			if err := d.unmarshalRecord(old, &p); err == nil {
				prior = &p
			}
		}

		data, err := d.marshalRecord(entry)
		if err != nil {
			return err
		}
		if err := rows.Put(key, data); err != nil {
			return fmt.Errorf("putting cache entry: %w", err)
		}

		return d.updateCacheAccessIndex(tx, entry.Key, entry.AccessedAt, entry.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return prior, nil
}

// GetCacheEntry retrieves a cache entry row by key.
func (d *DB) GetCacheEntry(_ context.Context, key string) (*CacheEntry, error) {
	var entry CacheEntry
	err := d.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketCacheEntries).Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}
		return d.unmarshalRecord(val, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// TouchCacheEntry updates the access time of a cache entry and moves it in
// the access-order index.
func (d *DB) TouchCacheEntry(_ context.Context, key string, accessedAt time.Time) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		rows := tx.Bucket(bucketCacheEntries)
		val := rows.Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}

		var entry CacheEntry
		if err := d.unmarshalRecord(val, &entry); err != nil {
			return err
		}
		entry.AccessedAt = accessedAt

		data, err := d.marshalRecord(&entry)
		if err != nil {
			return err
		}
		if err := rows.Put([]byte(key), data); err != nil {
			return fmt.Errorf("putting cache entry: %w", err)
		}

		return d.updateCacheAccessIndex(tx, key, accessedAt, entry.CreatedAt)
	})
}

// DeleteCacheEntry removes a cache entry row and its index entries,
// returning the deleted entry. Returns ErrNotFound if the row is absent.
func (d *DB) DeleteCacheEntry(_ context.Context, key string) (*CacheEntry, error) {
	var entry CacheEntry
	err := d.db.Update(func(tx *bbolt.Tx) error {
		rows := tx.Bucket(bucketCacheEntries)
		val := rows.Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}
		if err := d.unmarshalRecord(val, &entry); err != nil {
			return err
		}

		if err := d.removeCacheAccessIndex(tx, key); err != nil {
			return err
		}
		return rows.Delete([]byte(key))
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ExpiredCacheEntries returns up to limit entries whose expiry is strictly
// before the given time.
func (d *DB) ExpiredCacheEntries(_ context.Context, before time.Time, limit int) ([]CacheEntry, error) {
	var expired []CacheEntry
	err := d.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketCacheEntries).Cursor()
		for k, v := cursor.First(); k != nil && len(expired) < limit; k, v = cursor.Next() {
			var entry CacheEntry
			if err := d.unmarshalRecord(v, &entry); err != nil {
				d.logger.Warn("skipping undecodable cache row", "key", string(k), "error", err)
				continue
			}
			if entry.ExpiresAt != nil && entry.ExpiresAt.Before(before) {
				expired = append(expired, entry)
			}
		}
		return nil
	})
	return expired, err
}

// OldestCacheEntries returns up to limit entries in eviction order:
// ascending accessed_at, ties broken by ascending created_at.
func (d *DB) OldestCacheEntries(_ context.Context, limit int) ([]CacheEntry, error) {
	var oldest []CacheEntry
	err := d.db.View(func(tx *bbolt.Tx) error {
		rows := tx.Bucket(bucketCacheEntries)
		cursor := tx.Bucket(bucketCacheByAccess).Cursor()
		for k, v := cursor.First(); k != nil && len(oldest) < limit; k, v = cursor.Next() {
			val := rows.Get(v)
			if val == nil {
				// Dangling index entry, skip. Repaired on next touch/delete.
				continue
			}
			var entry CacheEntry
			if err := d.unmarshalRecord(val, &entry); err != nil {
				d.logger.Warn("skipping undecodable cache row", "key", string(v), "error", err)
				continue
			}
			oldest = append(oldest, entry)
		}
		return nil
	})
	return oldest, err
}

// CacheStats returns the row count and total recorded size of all cache
// entries. The total is computed from actual per-row sizes, never from the
// in-memory counter.
func (d *DB) CacheStats(_ context.Context) (count int64, totalSize int64, err error) {
	err = d.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketCacheEntries).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var entry CacheEntry
			if err := d.unmarshalRecord(v, &entry); err != nil {
				continue
			}
			count++
			totalSize += entry.Size
		}
		return nil
	})
	return count, totalSize, err
}

// updateCacheAccessIndex replaces the access-order index entry for a key.
// The reverse index stores the full forward key for O(1) removal.
func (d *DB) updateCacheAccessIndex(tx *bbolt.Tx, key string, accessedAt, createdAt time.Time) error {
	if err := d.removeCacheAccessIndex(tx, key); err != nil {
		return err
	}

	forward := tx.Bucket(bucketCacheByAccess)
	reverse := tx.Bucket(bucketCacheAccessByKey)

	indexKey := makeCacheAccessKey(accessedAt, createdAt, key)
	if err := forward.Put(indexKey, []byte(key)); err != nil {
		return fmt.Errorf("putting access index: %w", err)
	}
	if err := reverse.Put([]byte(key), indexKey); err != nil {
		return fmt.Errorf("putting access reverse index: %w", err)
	}
	return nil
}

func (d *DB) removeCacheAccessIndex(tx *bbolt.Tx, key string) error {
	forward := tx.Bucket(bucketCacheByAccess)
	reverse := tx.Bucket(bucketCacheAccessByKey)

	if old := reverse.Get([]byte(key)); old != nil {
		if err := forward.Delete(old); err != nil {
			return fmt.Errorf("deleting old access index: %w", err)
		}
		if err := reverse.Delete([]byte(key)); err != nil {
			return fmt.Errorf("deleting access reverse index: %w", err)
		}
	}
	return nil
}
