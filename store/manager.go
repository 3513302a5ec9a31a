package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/crynn/browserstore/backend"
	"github.com/crynn/browserstore/index"
	"github.com/crynn/browserstore/mailcache"
	"github.com/crynn/browserstore/telemetry"
)

// Stats is a point-in-time snapshot of the whole store.
type Stats struct {
	CacheBytes     int64 `json:"cache_bytes"`
	CacheEntries   int64 `json:"cache_entries"`
	CookieCount    int64 `json:"cookie_count"`
	HistoryCount   int64 `json:"history_count"`
	BookmarkCount  int64 `json:"bookmark_count"`
	MailEntries    int64 `json:"mail_entries"`
	MailBytes      int64 `json:"mail_bytes"`
	IndexFileBytes int64 `json:"index_file_bytes"`
	CacheDirBytes  int64 `json:"cache_dir_bytes"`
}

// Manager owns the index, the blob backend, and the individual stores, and
// runs coordinated cleanup across them.
type Manager struct {
	cfg    Config
	idx    *index.DB
	blobs  backend.SizeAwareBackend
	logger *slog.Logger
	now    func() time.Time

	Cache     *CacheStore
	Cookies   *CookieJar
	History   *HistoryStore
	Bookmarks *BookmarkStore
	Mail      *mailcache.Cache
}

// Open creates the data directories, opens the index (schema bootstrap is
// idempotent; failure is fatal), and builds the stores.
func Open(cfg Config, opts ...Option) (*Manager, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	cacheDir := filepath.Join(cfg.DataDir, "cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directories: %w", err)
	}

	idxOpts := []index.Option{index.WithLogger(o.logger)}
	if o.noSync {
		idxOpts = append(idxOpts, index.WithNoSync(true))
	}
	idx := index.New(idxOpts...)
	if err := idx.Open(filepath.Join(cfg.DataDir, "index.db")); err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}

	fs, err := backend.NewFilesystem(cacheDir)
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("opening blob backend: %w", err)
	}
	blobs := backend.NewInstrumentedBackend(fs, "filesystem")

	storeOpts := []Option{WithLogger(o.logger), WithNow(o.now)}

	cache, err := NewCacheStore(idx, blobs, cfg.MaxCacheBytes, storeOpts...)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}

	mail, err := mailcache.New(idx, cfg.MaxMailBytes,
		mailcache.WithLogger(o.logger), mailcache.WithNow(o.now))
	if err != nil {
		_ = idx.Close()
		return nil, err
	}

	m := &Manager{
		cfg:       cfg,
		idx:       idx,
		blobs:     blobs,
		logger:    o.logger,
		now:       o.now,
		Cache:     cache,
		Cookies:   NewCookieJar(idx, cfg.CookiePolicy, storeOpts...),
		History:   NewHistoryStore(idx, cfg.MaxHistoryEntries, storeOpts...),
		Bookmarks: NewBookmarkStore(idx, storeOpts...),
		Mail:      mail,
	}

	m.logger.Info("store opened",
		"data_dir", cfg.DataDir,
		"max_cache_bytes", cfg.MaxCacheBytes,
		"max_history_entries", cfg.MaxHistoryEntries,
		"cache_size", cache.Size())
	return m, nil
}

// Close closes the index. Blob files need no teardown.
func (m *Manager) Close() error {
	return m.idx.Close()
}

// Index exposes the underlying index for callers that need direct access.
func (m *Manager) Index() *index.DB {
	return m.idx
}

// Stats gathers a snapshot across all stores, the index file, and the blob
// directory.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{CacheBytes: m.Cache.Size()}

	var err error
	if stats.CacheEntries, _, err = m.idx.CacheStats(ctx); err != nil {
		return nil, fmt.Errorf("gathering cache stats: %w", err)
	}
	if stats.CookieCount, err = m.Cookies.Count(ctx); err != nil {
		return nil, fmt.Errorf("gathering cookie stats: %w", err)
	}
	if stats.HistoryCount, err = m.History.Count(ctx); err != nil {
		return nil, fmt.Errorf("gathering history stats: %w", err)
	}
	if stats.BookmarkCount, err = m.Bookmarks.Count(ctx); err != nil {
		return nil, fmt.Errorf("gathering bookmark stats: %w", err)
	}
	if stats.MailEntries, stats.MailBytes, err = m.Mail.Stats(ctx); err != nil {
		return nil, fmt.Errorf("gathering mail stats: %w", err)
	}
	if stats.IndexFileBytes, err = m.idx.FileSize(); err != nil {
		return nil, fmt.Errorf("stat index file: %w", err)
	}
	if stats.CacheDirBytes, err = m.blobs.TotalSize(ctx); err != nil {
		return nil, fmt.Errorf("sizing cache dir: %w", err)
	}

	return stats, nil
}

// Cleanup runs one coordinated pass over all stores in fixed order: cache,
// history, cookies, mail. Each store's failure is logged and the pass
// continues; the first error is reported after all stores have run.
func (m *Manager) Cleanup(ctx context.Context) error {
	passID := uuid.NewString()
	start := m.now()
	logger := m.logger.With("pass_id", passID)
	logger.Info("cleanup pass started")

	var firstErr error
	errs := 0
	record := func(store string, err error) {
		if err != nil {
			logger.Error("cleanup failed", "store", store, "error", err)
			errs++
			if firstErr == nil {
				firstErr = fmt.Errorf("%s cleanup: %w", store, err)
			}
		}
	}

	record("cache", m.Cache.Cleanup(ctx))

	_, err := m.History.Cleanup(ctx)
	record("history", err)

	_, err = m.Cookies.Cleanup(ctx)
	record("cookies", err)

	record("mail", m.Mail.Cleanup(ctx))

	duration := m.now().Sub(start)
	telemetry.RecordCleanupRun(ctx, duration, errs)
	logger.Info("cleanup pass finished", "duration", duration, "errors", errs)
	return firstErr
}
