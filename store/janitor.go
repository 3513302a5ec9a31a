package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// JanitorConfig configures the background cleanup loop.
type JanitorConfig struct {
	Interval     time.Duration // How often to run (default: 1h)
	StartupDelay time.Duration // Delay before first run (default: 5m)
}

// DefaultJanitorConfig returns the default janitor configuration.
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Interval:     1 * time.Hour,
		StartupDelay: 5 * time.Minute,
	}
}

// JanitorResult describes one cleanup pass.
type JanitorResult struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Err       string        `json:"error,omitempty"`
}

// Janitor runs Manager.Cleanup on a schedule.
type Janitor struct {
	manager *Manager
	config  JanitorConfig
	logger  *slog.Logger
	now     func() time.Time

	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
	lastRun *JanitorResult
}

// NewJanitor creates a janitor for the given manager.
func NewJanitor(manager *Manager, config JanitorConfig, opts ...Option) *Janitor {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Janitor{
		manager: manager,
		config:  config,
		logger:  o.logger,
		now:     o.now,
	}
}

// Start starts the background cleanup goroutine. Calling Start on a
// running janitor is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
}

// Stop gracefully stops the janitor, waiting for an in-flight pass.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.mu.Unlock()

	close(j.stopCh)

	select {
	case <-j.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow triggers an immediate cleanup pass.
func (j *Janitor) RunNow(ctx context.Context) *JanitorResult {
	return j.runPass(ctx)
}

// Status returns the last pass result, or nil if none has run.
func (j *Janitor) Status() *JanitorResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun
}

func (j *Janitor) run(ctx context.Context) {
	defer close(j.doneCh)

	j.logger.Info("janitor starting",
		"interval", j.config.Interval,
		"startup_delay", j.config.StartupDelay,
	)

	select {
	case <-time.After(j.config.StartupDelay):
	case <-j.stopCh:
		j.logger.Info("janitor stopped during startup delay")
		j.setRunning(false)
		return
	case <-ctx.Done():
		j.logger.Info("janitor context cancelled during startup delay")
		j.setRunning(false)
		return
	}

	j.runPass(ctx)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.runPass(ctx)
		case <-j.stopCh:
			j.logger.Info("janitor stopped")
			j.setRunning(false)
			return
		case <-ctx.Done():
			j.logger.Info("janitor context cancelled")
			j.setRunning(false)
			return
		}
	}
}

func (j *Janitor) setRunning(running bool) {
	j.mu.Lock()
	j.running = running
	j.mu.Unlock()
}

func (j *Janitor) runPass(ctx context.Context) *JanitorResult {
	result := &JanitorResult{StartedAt: j.now()}

	if err := j.manager.Cleanup(ctx); err != nil {
		result.Err = err.Error()
	}
	result.Duration = j.now().Sub(result.StartedAt)

	j.mu.Lock()
	j.lastRun = result
	j.mu.Unlock()

	return result
}
