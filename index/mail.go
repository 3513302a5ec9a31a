package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// PutMailHeaders upserts a batch of mail header rows in one transaction and
// maintains the cached-at index used for eviction ordering.
func (d *DB) PutMailHeaders(_ context.Context, headers []MailHeader) error {
	if len(headers) == 0 {
		return nil
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		rows := tx.Bucket(bucketMailHeaders)
		for i := range headers {
			h := &headers[i]
			data, err := d.marshalRecord(h)
			if err != nil {
				return err
			}
			if err := rows.Put(makeMailUID(h.UID), data); err != nil {
				return fmt.Errorf("putting mail header: %w", err)
			}
			if err := d.updateMailCachedIndex(tx, h.UID, h.CachedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMailHeader retrieves one mail header row by UID.
func (d *DB) GetMailHeader(_ context.Context, uid uint64) (*MailHeader, error) {
	var header MailHeader
	err := d.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketMailHeaders).Get(makeMailUID(uid))
		if val == nil {
			return ErrNotFound
		}
		return d.unmarshalRecord(val, &header)
	})
	if err != nil {
		return nil, err
	}
	return &header, nil
}

// PutMailBody upserts a mail body row. Large bodies are compressed
// transparently by the record codec.
func (d *DB) PutMailBody(_ context.Context, body *MailBody) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		data, err := d.marshalRecord(body)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketMailBodies).Put(makeMailUID(body.UID), data); err != nil {
			return fmt.Errorf("putting mail body: %w", err)
		}
		return nil
	})
}

// GetMailBody retrieves a mail body row by UID.
func (d *DB) GetMailBody(_ context.Context, uid uint64) (*MailBody, error) {
	var body MailBody
	err := d.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketMailBodies).Get(makeMailUID(uid))
		if val == nil {
			return ErrNotFound
		}
		return d.unmarshalRecord(val, &body)
	})
	if err != nil {
		return nil, err
	}
	return &body, nil
}

// SearchMailHeaders returns headers whose subject, sender, or recipient
// contains the query (case-insensitive), newest date first.
func (d *DB) SearchMailHeaders(_ context.Context, query string) ([]MailHeader, error) {
	needle := strings.ToLower(query)
	var matches []MailHeader
	err := d.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketMailHeaders).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var h MailHeader
			if err := d.unmarshalRecord(v, &h); err != nil {
				d.logger.Warn("skipping undecodable mail header", "error", err)
				continue
			}
			if strings.Contains(strings.ToLower(h.Subject), needle) ||
				strings.Contains(strings.ToLower(h.From), needle) ||
				strings.Contains(strings.ToLower(h.To), needle) {
				matches = append(matches, h)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Newest first.
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Date.After(matches[j].Date)
	})
	return matches, nil
}

// OldestMailHeaders returns up to limit headers in ascending cached_at
// order, the mail cache's eviction order.
func (d *DB) OldestMailHeaders(_ context.Context, limit int) ([]MailHeader, error) {
	var oldest []MailHeader
	err := d.db.View(func(tx *bbolt.Tx) error {
		rows := tx.Bucket(bucketMailHeaders)
		cursor := tx.Bucket(bucketMailByCachedAt).Cursor()
		for k, v := cursor.First(); k != nil && len(oldest) < limit; k, v = cursor.Next() {
			val := rows.Get(v)
			if val == nil {
				continue
			}
			var h MailHeader
			if err := d.unmarshalRecord(val, &h); err != nil {
				continue
			}
			oldest = append(oldest, h)
		}
		return nil
	})
	return oldest, err
}

// DeleteMailEntry removes a header row, its body row if present, and the
// cached-at index entries, returning the deleted header.
func (d *DB) DeleteMailEntry(_ context.Context, uid uint64) (*MailHeader, error) {
	var header MailHeader
	err := d.db.Update(func(tx *bbolt.Tx) error {
		uidKey := makeMailUID(uid)
		rows := tx.Bucket(bucketMailHeaders)

		val := rows.Get(uidKey)
		if val == nil {
			return ErrNotFound
		}
		if err := d.unmarshalRecord(val, &header); err != nil {
			return err
		}

		if err := d.removeMailCachedIndex(tx, uid); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMailBodies).Delete(uidKey); err != nil {
			return fmt.Errorf("deleting mail body: %w", err)
		}
		return rows.Delete(uidKey)
	})
	if err != nil {
		return nil, err
	}
	return &header, nil
}

// MailStats returns the header row count and the total recorded size of
// cached mail (header sizes, computed from actual rows).
func (d *DB) MailStats(_ context.Context) (count int64, totalSize int64, err error) {
	err = d.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketMailHeaders).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var h MailHeader
			if err := d.unmarshalRecord(v, &h); err != nil {
				continue
			}
			count++
			totalSize += h.Size
		}
		return nil
	})
	return count, totalSize, err
}

func (d *DB) updateMailCachedIndex(tx *bbolt.Tx, uid uint64, cachedAt time.Time) error {
	if err := d.removeMailCachedIndex(tx, uid); err != nil {
		return err
	}

	forward := tx.Bucket(bucketMailByCachedAt)
	reverse := tx.Bucket(bucketMailCachedByID)

	indexKey := makeMailCachedKey(cachedAt, uid)
	if err := forward.Put(indexKey, makeMailUID(uid)); err != nil {
		return fmt.Errorf("putting mail cached index: %w", err)
	}
	if err := reverse.Put(makeMailUID(uid), indexKey); err != nil {
		return fmt.Errorf("putting mail cached reverse index: %w", err)
	}
	return nil
}

func (d *DB) removeMailCachedIndex(tx *bbolt.Tx, uid uint64) error {
	forward := tx.Bucket(bucketMailByCachedAt)
	reverse := tx.Bucket(bucketMailCachedByID)

	if old := reverse.Get(makeMailUID(uid)); old != nil {
		if err := forward.Delete(old); err != nil {
			return fmt.Errorf("deleting old mail cached index: %w", err)
		}
		if err := reverse.Delete(makeMailUID(uid)); err != nil {
			return fmt.Errorf("deleting mail cached reverse index: %w", err)
		}
	}
	return nil
}
