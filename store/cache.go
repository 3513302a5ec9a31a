package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crynn/browserstore"
	"github.com/crynn/browserstore/backend"
	"github.com/crynn/browserstore/index"
	"github.com/crynn/browserstore/telemetry"
)

// evictionBatchSize is how many candidate rows the eviction loop fetches
// per index query.
const evictionBatchSize = 64

// Entry is a cached resource returned by CacheStore.Get.
type Entry struct {
	Key         string
	ContentType string
	Data        []byte
	Size        int64
	CreatedAt   time.Time
	AccessedAt  time.Time
	ExpiresAt   *time.Time
}

// CacheStore is the content cache: resource bytes live as blob files named
// by the BLAKE3 hash of the resource key, metadata lives in the index. The
// total recorded size is tracked in an atomic counter seeded from the index
// at construction and kept exact across puts, replacements, and deletions.
type CacheStore struct {
	idx      *index.DB
	blobs    backend.SizeAwareBackend
	maxBytes int64
	size     atomic.Int64
	logger   *slog.Logger
	now      func() time.Time

	// cleanupMu serializes cleanup passes and over-budget enforcement.
	cleanupMu sync.Mutex
}

// NewCacheStore builds a CacheStore over the given index and blob backend.
// The size counter is seeded from actual row sizes in the index.
func NewCacheStore(idx *index.DB, blobs backend.SizeAwareBackend, maxBytes int64, opts ...Option) (*CacheStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	s := &CacheStore{
		idx:      idx,
		blobs:    blobs,
		maxBytes: maxBytes,
		logger:   o.logger,
		now:      o.now,
	}

	_, total, err := idx.CacheStats(context.Background())
	if err != nil {
		return nil, fmt.Errorf("seeding cache size counter: %w", err)
	}
	s.size.Store(total)

	return s, nil
}

// Size returns the tracked total recorded size of cached data.
func (s *CacheStore) Size() int64 {
	return s.size.Load()
}

// MaxBytes returns the eviction budget.
func (s *CacheStore) MaxBytes() int64 {
	return s.maxBytes
}

// Put stores a resource under the given key. The blob is written first
// with an atomic rename, then the metadata row is committed; if the row
// commit fails the blob is removed so neither side leaks an orphan.
// Replacing an existing key subtracts the old recorded size so the
// aggregate counter stays exact. Going over budget triggers eviction.
func (s *CacheStore) Put(ctx context.Context, key, contentType string, data []byte, expiresAt *time.Time) error {
	start := s.now()
	blobKey := browserstore.BlobStorageKey(browserstore.KeyHash(key))

	if err := s.blobs.Write(ctx, blobKey, bytes.NewReader(data)); err != nil {
		telemetry.RecordOp(ctx, "cache", "put", "error", s.now().Sub(start))
		return fmt.Errorf("writing blob: %w", err)
	}

	entry := &index.CacheEntry{
		Key:         key,
		ContentType: contentType,
		BlobRef:     blobKey,
		Size:        int64(len(data)),
		CreatedAt:   start,
		AccessedAt:  start,
		ExpiresAt:   expiresAt,
	}

	prior, err := s.idx.PutCacheEntry(ctx, entry)
	if err != nil {
		if delErr := s.blobs.Delete(ctx, blobKey); delErr != nil {
			s.logger.Warn("removing blob after failed row commit", "key", key, "error", delErr)
		}
		telemetry.RecordOp(ctx, "cache", "put", "error", s.now().Sub(start))
		return fmt.Errorf("committing cache row: %w", err)
	}

	delta := entry.Size
	if prior != nil {
		delta -= prior.Size
	}
	s.size.Add(delta)

	telemetry.RecordBlobWrite(ctx, entry.Size, prior != nil)
	telemetry.RecordOp(ctx, "cache", "put", "success", s.now().Sub(start))

	if s.size.Load() > s.maxBytes {
		s.enforceBudget(ctx)
	}
	return nil
}

// Get retrieves a cached resource. Returns ErrNotFound when no row exists.
// A row whose blob has gone missing is treated as absent: the stale row is
// deleted and ErrNotFound is returned. A successful read updates the
// entry's access time.
func (s *CacheStore) Get(ctx context.Context, key string) (*Entry, error) {
	start := s.now()

	row, err := s.idx.GetCacheEntry(ctx, key)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			telemetry.RecordCacheLookup(ctx, false)
			return nil, ErrNotFound
		}
		return nil, err
	}

	rc, err := s.blobs.Read(ctx, row.BlobRef)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			s.healMissingBlob(ctx, row)
			telemetry.RecordCacheLookup(ctx, false)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}

	accessed := s.now()
	if err := s.idx.TouchCacheEntry(ctx, key, accessed); err != nil {
		s.logger.Warn("updating access time", "key", key, "error", err)
	}

	telemetry.RecordCacheLookup(ctx, true)
	telemetry.RecordOp(ctx, "cache", "get", "success", s.now().Sub(start))

	return &Entry{
		Key:         row.Key,
		ContentType: row.ContentType,
		Data:        data,
		Size:        row.Size,
		CreatedAt:   row.CreatedAt,
		AccessedAt:  accessed,
		ExpiresAt:   row.ExpiresAt,
	}, nil
}

// Delete removes a cached resource and its blob. Absent keys are a no-op.
func (s *CacheStore) Delete(ctx context.Context, key string) error {
	row, err := s.idx.DeleteCacheEntry(ctx, key)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return nil
		}
		return err
	}

	s.size.Add(-row.Size)
	if err := s.blobs.Delete(ctx, row.BlobRef); err != nil {
		s.logger.Warn("deleting blob", "key", key, "error", err)
	}
	return nil
}

// Cleanup runs the two cache maintenance phases. Phase one deletes rows
// whose expiry has passed, together with their blobs. Phase two recomputes
// the total from actual row sizes and, while over budget, evicts one entry
// at a time in strict access order (oldest accessed_at first, ties broken
// by oldest created_at), subtracting each row's actual recorded size.
// Failures on individual rows are logged and the pass continues.
func (s *CacheStore) Cleanup(ctx context.Context) error {
	s.cleanupMu.Lock()
	defer s.cleanupMu.Unlock()

	start := s.now()
	expiredDeleted, expiredBytes := s.removeExpired(ctx, start)
	if expiredDeleted > 0 {
		telemetry.RecordCleanupDeletions(ctx, "cache", "expired", expiredDeleted, expiredBytes)
	}

	// The eviction loop trusts the index, not the counter. Reconciling
	// here also repairs any drift from crashed earlier runs.
	count, total, err := s.idx.CacheStats(ctx)
	if err != nil {
		return fmt.Errorf("computing cache totals: %w", err)
	}
	s.size.Store(total)

	evicted, evictedBytes := s.evictUntilUnderBudget(ctx, total)
	if evicted > 0 {
		telemetry.RecordCleanupDeletions(ctx, "cache", "evicted", evicted, evictedBytes)
	}

	telemetry.UpdateStoreGauges(ctx, "cache", s.size.Load(), count-int64(evicted))
	s.logger.Info("cache cleanup finished",
		"expired", expiredDeleted,
		"evicted", evicted,
		"bytes_reclaimed", expiredBytes+evictedBytes,
		"size", s.size.Load(),
		"duration", s.now().Sub(start))
	return nil
}

// enforceBudget is the put-path eviction trigger. It shares the cleanup
// lock so concurrent puts do not race each other's eviction decisions.
func (s *CacheStore) enforceBudget(ctx context.Context) {
	s.cleanupMu.Lock()
	defer s.cleanupMu.Unlock()

	_, total, err := s.idx.CacheStats(ctx)
	if err != nil {
		s.logger.Warn("computing cache totals", "error", err)
		return
	}
	s.size.Store(total)

	if evicted, bytesFreed := s.evictUntilUnderBudget(ctx, total); evicted > 0 {
		telemetry.RecordCleanupDeletions(ctx, "cache", "evicted", evicted, bytesFreed)
	}
}

func (s *CacheStore) removeExpired(ctx context.Context, now time.Time) (deleted int, bytesFreed int64) {
	for {
		expired, err := s.idx.ExpiredCacheEntries(ctx, now, evictionBatchSize)
		if err != nil {
			s.logger.Warn("listing expired cache entries", "error", err)
			return deleted, bytesFreed
		}
		if len(expired) == 0 {
			return deleted, bytesFreed
		}

		for _, row := range expired {
			if err := s.removeEntry(ctx, row.Key); err != nil {
				s.logger.Warn("removing expired cache entry", "key", row.Key, "error", err)
				continue
			}
			deleted++
			bytesFreed += row.Size
		}

		if len(expired) < evictionBatchSize {
			return deleted, bytesFreed
		}
	}
}

func (s *CacheStore) evictUntilUnderBudget(ctx context.Context, total int64) (evicted int, bytesFreed int64) {
	for total > s.maxBytes {
		oldest, err := s.idx.OldestCacheEntries(ctx, evictionBatchSize)
		if err != nil {
			s.logger.Warn("listing eviction candidates", "error", err)
			return evicted, bytesFreed
		}
		if len(oldest) == 0 {
			return evicted, bytesFreed
		}

		progressed := false
		for _, row := range oldest {
			if total <= s.maxBytes {
				return evicted, bytesFreed
			}
			if err := s.removeEntry(ctx, row.Key); err != nil {
				s.logger.Warn("evicting cache entry", "key", row.Key, "error", err)
				continue
			}
			total -= row.Size
			evicted++
			bytesFreed += row.Size
			progressed = true
			s.logger.Debug("evicted cache entry", "key", row.Key, "size", row.Size, "accessed_at", row.AccessedAt)
		}
		if !progressed {
			// Every candidate in the batch failed; bail rather than spin.
			return evicted, bytesFreed
		}
	}
	return evicted, bytesFreed
}

// removeEntry deletes a row and its blob, keeping the counter exact.
func (s *CacheStore) removeEntry(ctx context.Context, key string) error {
	row, err := s.idx.DeleteCacheEntry(ctx, key)
	if err != nil {
		return err
	}
	s.size.Add(-row.Size)

	if err := s.blobs.Delete(ctx, row.BlobRef); err != nil {
		s.logger.Warn("deleting blob", "key", key, "error", err)
	}
	return nil
}

// healMissingBlob drops a row whose blob file no longer exists.
func (s *CacheStore) healMissingBlob(ctx context.Context, row *index.CacheEntry) {
	s.logger.Warn("cache row has no blob, dropping", "key", row.Key, "blob", row.BlobRef)
	deleted, err := s.idx.DeleteCacheEntry(ctx, row.Key)
	if err != nil {
		if !errors.Is(err, index.ErrNotFound) {
			s.logger.Warn("dropping stale cache row", "key", row.Key, "error", err)
		}
		return
	}
	s.size.Add(-deleted.Size)
}
