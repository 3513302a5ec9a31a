package index

import (
	"encoding/binary"
	"time"
)

// Bucket names for bbolt storage. One record bucket per kind, plus
// timestamp-ordered secondary indexes with reverse indexes for O(1)
// maintenance on upsert and delete.
var (
	bucketCacheEntries     = []byte("cache_entries")       // key -> record
	bucketCacheByAccess    = []byte("cache_by_access")     // timestamp+created+key -> key (LRU index)
	bucketCacheAccessByKey = []byte("cache_access_by_key") // key -> access index key (reverse)

	bucketCookies           = []byte("cookies")              // name|domain|path -> record
	bucketCookiesByExpiry   = []byte("cookies_by_expiry")    // timestamp+compound -> compound
	bucketCookieExpiryByKey = []byte("cookie_expiry_by_key") // compound -> 8-byte timestamp (reverse)

	bucketHistory           = []byte("history")              // url -> record
	bucketHistoryByVisit    = []byte("history_by_visit")     // timestamp+url -> url
	bucketHistoryVisitByKey = []byte("history_visit_by_key") // url -> 8-byte timestamp (reverse)

	bucketBookmarks = []byte("bookmarks") // url -> record

	bucketMailHeaders    = []byte("mail_headers")       // 8-byte uid -> record
	bucketMailBodies     = []byte("mail_bodies")        // 8-byte uid -> record
	bucketMailByCachedAt = []byte("mail_by_cached_at")  // timestamp+uid -> 8-byte uid
	bucketMailCachedByID = []byte("mail_cached_by_uid") // 8-byte uid -> index key (reverse)
)

func allBuckets() [][]byte {
	return [][]byte{
		bucketCacheEntries,
		bucketCacheByAccess,
		bucketCacheAccessByKey,
		bucketCookies,
		bucketCookiesByExpiry,
		bucketCookieExpiryByKey,
		bucketHistory,
		bucketHistoryByVisit,
		bucketHistoryVisitByKey,
		bucketBookmarks,
		bucketMailHeaders,
		bucketMailBodies,
		bucketMailByCachedAt,
		bucketMailCachedByID,
	}
}

// encodeTimestamp converts a time.Time to a fixed-width big-endian byte slice.
// This ensures correct lexicographic ordering for time-based indexes.
// Uses an offset to handle negative nanosecond values (pre-1970 dates).
func encodeTimestamp(t time.Time) []byte {
	buf := make([]byte, 8)
	ns := t.UnixNano()
	// Offset by math.MinInt64 to convert signed to unsigned while preserving order.
	binary.BigEndian.PutUint64(buf, uint64(ns-(-1<<63))) //nolint:gosec // intentional signed->unsigned shift
	return buf
}

// decodeTimestamp converts a big-endian byte slice back to time.Time.
func decodeTimestamp(b []byte) time.Time {
	if len(b) < 8 {
		return time.Time{}
	}
	u := binary.BigEndian.Uint64(b[:8])
	ns := int64(u) + (-1 << 63) //nolint:gosec // intentional unsigned->signed shift
	return time.Unix(0, ns).UTC()
}

// makeCacheAccessKey creates a key for the cache_by_access index.
// Format: [8-byte accessed_at][8-byte created_at][key]
// The created_at component makes eviction order deterministic when two
// entries share an access time.
func makeCacheAccessKey(accessedAt, createdAt time.Time, key string) []byte {
	result := make([]byte, 16+len(key))
	copy(result[:8], encodeTimestamp(accessedAt))
	copy(result[8:16], encodeTimestamp(createdAt))
	copy(result[16:], key)
	return result
}

// makeCookieKey creates the compound record key for a cookie.
// Format: [name][separator][domain][separator][path]
func makeCookieKey(name, domain, path string) []byte {
	result := make([]byte, len(name)+1+len(domain)+1+len(path))
	offset := 0
	copy(result[offset:], name)
	offset += len(name)
	result[offset] = 0 // null separator
	offset++
	copy(result[offset:], domain)
	offset += len(domain)
	result[offset] = 0 // null separator
	offset++
	copy(result[offset:], path)
	return result
}

// makeCookieExpiryKey creates a key for the cookies_by_expiry index.
// Format: [8-byte timestamp][compound cookie key]
func makeCookieExpiryKey(expiresAt time.Time, compound []byte) []byte {
	result := make([]byte, 8+len(compound))
	copy(result[:8], encodeTimestamp(expiresAt))
	copy(result[8:], compound)
	return result
}

// makeHistoryVisitKey creates a key for the history_by_visit index.
// Format: [8-byte last_visit][url]
func makeHistoryVisitKey(lastVisit time.Time, url string) []byte {
	result := make([]byte, 8+len(url))
	copy(result[:8], encodeTimestamp(lastVisit))
	copy(result[8:], url)
	return result
}

// makeMailUID encodes a mail UID as a fixed-width big-endian key.
func makeMailUID(uid uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uid)
	return buf
}

func parseMailUID(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b[:8])
}

// makeMailCachedKey creates a key for the mail_by_cached_at index.
// Format: [8-byte cached_at][8-byte uid]
func makeMailCachedKey(cachedAt time.Time, uid uint64) []byte {
	result := make([]byte, 16)
	copy(result[:8], encodeTimestamp(cachedAt))
	copy(result[8:], makeMailUID(uid))
	return result
}
