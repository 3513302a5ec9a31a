package store

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for deterministic ordering.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestManager(t *testing.T, mutate func(*Config)) (*Manager, *fakeClock) {
	t.Helper()

	cfg := DefaultConfig(t.TempDir())
	if mutate != nil {
		mutate(&cfg)
	}

	clock := newFakeClock()
	m, err := Open(cfg,
		WithLogger(slog.Default()),
		WithNow(clock.Now),
		WithNoSync(true),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, clock
}
