// Package store implements the browser's local persistent stores: the
// content cache, cookie jar, history, bookmarks, and the manager facade
// that owns their shared index and runs coordinated cleanup.
package store

import (
	"errors"
	"log/slog"
	"time"

	"github.com/crynn/browserstore/index"
)

const (
	// DefaultMaxCacheBytes bounds the total recorded size of cached
	// resource data before eviction kicks in.
	DefaultMaxCacheBytes = 500 * 1024 * 1024

	// DefaultMaxHistoryEntries bounds the number of history rows.
	DefaultMaxHistoryEntries = 10000

	// DefaultMaxMailBytes bounds the recorded size of cached mail.
	DefaultMaxMailBytes = 100 * 1024 * 1024
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = index.ErrNotFound

// ErrParse is returned when a Set-Cookie line cannot be parsed. Callers
// treat it as a per-cookie no-op.
var ErrParse = errors.New("store: malformed cookie")

// Config holds the manager's tunables. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	// DataDir is the root directory for the index file and blob cache.
	DataDir string

	// MaxCacheBytes is the cache eviction budget.
	MaxCacheBytes int64

	// MaxHistoryEntries is the history row cap.
	MaxHistoryEntries int64

	// MaxMailBytes is the mail cache eviction budget.
	MaxMailBytes int64

	// CookiePolicy controls jar behavior at Set time.
	CookiePolicy CookiePolicy
}

// DefaultConfig returns a Config with production defaults for the given
// data directory.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:           dataDir,
		MaxCacheBytes:     DefaultMaxCacheBytes,
		MaxHistoryEntries: DefaultMaxHistoryEntries,
		MaxMailBytes:      DefaultMaxMailBytes,
		CookiePolicy:      DefaultCookiePolicy(),
	}
}

// Option configures a Manager and the stores it builds.
type Option func(*options)

type options struct {
	logger *slog.Logger
	now    func() time.Time
	noSync bool
}

func defaultOptions() *options {
	return &options{
		logger: slog.Default(),
		now:    time.Now,
	}
}

// WithLogger sets the logger used by the manager and its stores.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithNow sets the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithNoSync disables index fsync. Only for tests.
func WithNoSync(noSync bool) Option {
	return func(o *options) {
		o.noSync = noSync
	}
}
