// Package mailcache bounds cached mail headers and bodies the same way the
// content cache bounds resource data: an exact size counter seeded from the
// index, and eviction of the oldest cached entries until under budget.
package mailcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crynn/browserstore/index"
	"github.com/crynn/browserstore/telemetry"
)

// evictionBatchSize is how many candidates the eviction loop fetches per
// index query.
const evictionBatchSize = 64

// ErrNotFound is returned when a requested mail record does not exist.
var ErrNotFound = index.ErrNotFound

// Cache stores mail headers and bodies in the index. The recorded size of
// an entry is the header's Size field (the message size reported by the
// mail server); the total is tracked exactly across upserts and deletions.
type Cache struct {
	idx      *index.DB
	maxBytes int64
	size     atomic.Int64
	logger   *slog.Logger
	now      func() time.Time

	cleanupMu sync.Mutex
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithNow sets the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New builds a mail cache over the given index, seeding the size counter
// from actual header rows.
func New(idx *index.DB, maxBytes int64, opts ...Option) (*Cache, error) {
	c := &Cache{
		idx:      idx,
		maxBytes: maxBytes,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	_, total, err := idx.MailStats(context.Background())
	if err != nil {
		return nil, fmt.Errorf("seeding mail size counter: %w", err)
	}
	c.size.Store(total)

	return c, nil
}

// Size returns the tracked total recorded size of cached mail.
func (c *Cache) Size() int64 {
	return c.size.Load()
}

// StoreHeaders upserts a batch of headers. Replaced UIDs have their old
// recorded size subtracted so the counter stays exact. Missing CachedAt
// timestamps are filled with the current time. Going over budget triggers
// eviction.
func (c *Cache) StoreHeaders(ctx context.Context, headers []index.MailHeader) error {
	if len(headers) == 0 {
		return nil
	}
	start := c.now()

	var delta int64
	for i := range headers {
		if headers[i].CachedAt.IsZero() {
			headers[i].CachedAt = start
		}
		delta += headers[i].Size

		prior, err := c.idx.GetMailHeader(ctx, headers[i].UID)
		if err != nil {
			if !errors.Is(err, index.ErrNotFound) {
				return fmt.Errorf("checking existing header: %w", err)
			}
			continue
		}
		delta -= prior.Size
	}

	if err := c.idx.PutMailHeaders(ctx, headers); err != nil {
		telemetry.RecordOp(ctx, "mail", "store_headers", "error", c.now().Sub(start))
		return fmt.Errorf("storing mail headers: %w", err)
	}
	c.size.Add(delta)

	telemetry.RecordOp(ctx, "mail", "store_headers", "success", c.now().Sub(start))

	if c.size.Load() > c.maxBytes {
		c.enforceBudget(ctx)
	}
	return nil
}

// StoreBody upserts one mail body. Large bodies are compressed by the
// index record codec; body bytes do not count against the size budget,
// which tracks header-reported message sizes.
func (c *Cache) StoreBody(ctx context.Context, body *index.MailBody) error {
	if body.CachedAt.IsZero() {
		body.CachedAt = c.now()
	}
	if err := c.idx.PutMailBody(ctx, body); err != nil {
		return fmt.Errorf("storing mail body: %w", err)
	}
	return nil
}

// GetHeader retrieves one header by UID.
func (c *Cache) GetHeader(ctx context.Context, uid uint64) (*index.MailHeader, error) {
	return c.idx.GetMailHeader(ctx, uid)
}

// GetBody retrieves one body by UID. Returns ErrNotFound when absent.
func (c *Cache) GetBody(ctx context.Context, uid uint64) (*index.MailBody, error) {
	return c.idx.GetMailBody(ctx, uid)
}

// SearchHeaders returns headers matching the query (case-insensitive
// substring over subject, sender, recipient), newest first.
func (c *Cache) SearchHeaders(ctx context.Context, query string) ([]index.MailHeader, error) {
	return c.idx.SearchMailHeaders(ctx, query)
}

// Delete removes one entry (header, body, index entries) by UID.
// Absent UIDs are a no-op.
func (c *Cache) Delete(ctx context.Context, uid uint64) error {
	header, err := c.idx.DeleteMailEntry(ctx, uid)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return nil
		}
		return err
	}
	c.size.Add(-header.Size)
	return nil
}

// Stats returns the entry count and tracked total size.
func (c *Cache) Stats(ctx context.Context) (count int64, totalSize int64, err error) {
	count, totalSize, err = c.idx.MailStats(ctx)
	return count, totalSize, err
}

// Cleanup recomputes the total from actual header rows and, while over
// budget, evicts the oldest entries by cached_at, subtracting each entry's
// actual recorded size. Row failures are logged and the pass continues.
func (c *Cache) Cleanup(ctx context.Context) error {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()

	count, total, err := c.idx.MailStats(ctx)
	if err != nil {
		return fmt.Errorf("computing mail totals: %w", err)
	}
	c.size.Store(total)

	evicted, bytesFreed := c.evictUntilUnderBudget(ctx, total)
	if evicted > 0 {
		telemetry.RecordCleanupDeletions(ctx, "mail", "evicted", evicted, bytesFreed)
		c.logger.Info("mail cache trimmed", "evicted", evicted, "bytes_reclaimed", bytesFreed, "size", c.size.Load())
	}

	telemetry.UpdateStoreGauges(ctx, "mail", c.size.Load(), count-int64(evicted))
	return nil
}

func (c *Cache) enforceBudget(ctx context.Context) {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()

	_, total, err := c.idx.MailStats(ctx)
	if err != nil {
		c.logger.Warn("computing mail totals", "error", err)
		return
	}
	c.size.Store(total)

	if evicted, bytesFreed := c.evictUntilUnderBudget(ctx, total); evicted > 0 {
		telemetry.RecordCleanupDeletions(ctx, "mail", "evicted", evicted, bytesFreed)
	}
}

func (c *Cache) evictUntilUnderBudget(ctx context.Context, total int64) (evicted int, bytesFreed int64) {
	for total > c.maxBytes {
		oldest, err := c.idx.OldestMailHeaders(ctx, evictionBatchSize)
		if err != nil {
			c.logger.Warn("listing mail eviction candidates", "error", err)
			return evicted, bytesFreed
		}
		if len(oldest) == 0 {
			return evicted, bytesFreed
		}

		progressed := false
		for _, h := range oldest {
			if total <= c.maxBytes {
				return evicted, bytesFreed
			}
			header, err := c.idx.DeleteMailEntry(ctx, h.UID)
			if err != nil {
				c.logger.Warn("evicting mail entry", "uid", h.UID, "error", err)
				continue
			}
			c.size.Add(-header.Size)
			total -= header.Size
			evicted++
			bytesFreed += header.Size
			progressed = true
		}
		if !progressed {
			return evicted, bytesFreed
		}
	}
	return evicted, bytesFreed
}
