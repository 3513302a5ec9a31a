package index

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// UpsertCookie inserts or replaces a cookie row. The record key is exactly
// (name, domain, path), so setting the same triple twice leaves one row.
// The expiry index is maintained in the same transaction; session cookies
// (no expiry) carry no index entry and are never reaped.
func (d *DB) UpsertCookie(_ context.Context, c *Cookie) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		compound := makeCookieKey(c.Name, c.Domain, c.Path)

		data, err := d.marshalRecord(c)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketCookies).Put(compound, data); err != nil {
			return fmt.Errorf("putting cookie: %w", err)
		}

		return d.updateCookieExpiryIndex(tx, compound, c.ExpiresAt)
	})
}

// ListCookies returns all stored cookies in deterministic (record key)
// order. Policy filtering is the jar's job, not the index's.
func (d *DB) ListCookies(_ context.Context) ([]Cookie, error) {
	var cookies []Cookie
	err := d.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketCookies).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var c Cookie
			if err := d.unmarshalRecord(v, &c); err != nil {
				d.logger.Warn("skipping undecodable cookie row", "error", err)
				continue
			}
			cookies = append(cookies, c)
		}
		return nil
	})
	return cookies, err
}

// TouchCookies updates last_accessed for the given (name, domain, path)
// triples in one transaction. Missing rows are skipped.
func (d *DB) TouchCookies(_ context.Context, cookies []Cookie, accessedAt time.Time) error {
	if len(cookies) == 0 {
		return nil
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		rows := tx.Bucket(bucketCookies)
		for _, c := range cookies {
			compound := makeCookieKey(c.Name, c.Domain, c.Path)
			val := rows.Get(compound)
			if val == nil {
				continue
			}

			var stored Cookie
			if err := d.unmarshalRecord(val, &stored); err != nil {
				continue
			}
			stored.LastAccessed = accessedAt

			data, err := d.marshalRecord(&stored)
			if err != nil {
				return err
			}
			if err := rows.Put(compound, data); err != nil {
				return fmt.Errorf("touching cookie: %w", err)
			}
		}
		return nil
	})
}

// DeleteCookie removes a cookie row by its (name, domain, path) triple.
func (d *DB) DeleteCookie(_ context.Context, name, domain, path string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		compound := makeCookieKey(name, domain, path)
		if err := d.removeCookieExpiryIndex(tx, compound); err != nil {
			return err
		}
		return tx.Bucket(bucketCookies).Delete(compound)
	})
}

// DeleteExpiredCookies removes all cookies whose expiry is strictly before
// the given time, using the expiry index. Session cookies are untouched.
func (d *DB) DeleteExpiredCookies(_ context.Context, before time.Time) (int, error) {
	deleted := 0
	err := d.db.Update(func(tx *bbolt.Tx) error {
		rows := tx.Bucket(bucketCookies)
		forward := tx.Bucket(bucketCookiesByExpiry)
		reverse := tx.Bucket(bucketCookieExpiryByKey)
		bound := encodeTimestamp(before)

		cursor := forward.Cursor()
		var stale [][]byte
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if bytes.Compare(k[:8], bound) >= 0 {
				break
			}
			stale = append(stale, append([]byte(nil), v...))
		}

		for _, compound := range stale {
			if err := rows.Delete(compound); err != nil {
				return fmt.Errorf("deleting expired cookie: %w", err)
			}
			if old := reverse.Get(compound); old != nil {
				if err := forward.Delete(makeCookieExpiryKey(decodeTimestamp(old), compound)); err != nil {
					return fmt.Errorf("deleting expiry index: %w", err)
				}
				if err := reverse.Delete(compound); err != nil {
					return fmt.Errorf("deleting expiry reverse index: %w", err)
				}
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// CookieCount returns the number of stored cookies.
func (d *DB) CookieCount(_ context.Context) (int64, error) {
	var count int64
	err := d.db.View(func(tx *bbolt.Tx) error {
		count = int64(tx.Bucket(bucketCookies).Stats().KeyN)
		return nil
	})
	return count, err
}

// updateCookieExpiryIndex replaces the expiry index entries for a cookie.
// A nil expiresAt only removes existing entries (session cookie).
func (d *DB) updateCookieExpiryIndex(tx *bbolt.Tx, compound []byte, expiresAt *time.Time) error {
	if err := d.removeCookieExpiryIndex(tx, compound); err != nil {
		return err
	}
	if expiresAt == nil {
		return nil
	}

	forward := tx.Bucket(bucketCookiesByExpiry)
	reverse := tx.Bucket(bucketCookieExpiryByKey)

	if err := forward.Put(makeCookieExpiryKey(*expiresAt, compound), compound); err != nil {
		return fmt.Errorf("putting expiry index: %w", err)
	}
	if err := reverse.Put(compound, encodeTimestamp(*expiresAt)); err != nil {
		return fmt.Errorf("putting expiry reverse index: %w", err)
	}
	return nil
}

func (d *DB) removeCookieExpiryIndex(tx *bbolt.Tx, compound []byte) error {
	forward := tx.Bucket(bucketCookiesByExpiry)
	reverse := tx.Bucket(bucketCookieExpiryByKey)

	if tsBytes := reverse.Get(compound); tsBytes != nil {
		if err := forward.Delete(makeCookieExpiryKey(decodeTimestamp(tsBytes), compound)); err != nil {
			return fmt.Errorf("deleting old expiry index: %w", err)
		}
		if err := reverse.Delete(compound); err != nil {
			return fmt.Errorf("deleting expiry reverse index: %w", err)
		}
	}
	return nil
}
