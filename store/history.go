package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crynn/browserstore/index"
	"github.com/crynn/browserstore/telemetry"
)

// HistoryStore records visited URLs, capped at a maximum row count.
// Cleanup deletes the oldest rows by last_visit until under the cap.
type HistoryStore struct {
	idx        *index.DB
	maxEntries int64
	logger     *slog.Logger
	now        func() time.Time
}

// NewHistoryStore builds a history store over the given index.
func NewHistoryStore(idx *index.DB, maxEntries int64, opts ...Option) *HistoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &HistoryStore{
		idx:        idx,
		maxEntries: maxEntries,
		logger:     o.logger,
		now:        o.now,
	}
}

// RecordVisit upserts a history row by URL: visit_count is incremented,
// last_visit is set to now, and created_at is preserved from first insert.
func (h *HistoryStore) RecordVisit(ctx context.Context, url, title string) (*index.HistoryItem, error) {
	item, err := h.idx.RecordVisit(ctx, url, title, h.now())
	if err != nil {
		return nil, fmt.Errorf("recording visit: %w", err)
	}
	return item, nil
}

// List returns up to limit history items, most recently visited first.
func (h *HistoryStore) List(ctx context.Context, limit int) ([]index.HistoryItem, error) {
	return h.idx.RecentHistory(ctx, limit)
}

// Delete removes one history row by URL.
func (h *HistoryStore) Delete(ctx context.Context, url string) error {
	return h.idx.DeleteHistory(ctx, url)
}

// Count returns the number of history rows.
func (h *HistoryStore) Count(ctx context.Context) (int64, error) {
	return h.idx.HistoryCount(ctx)
}

// Cleanup deletes the oldest rows by last_visit until the count is at or
// under the cap. Row failures are logged and the pass continues.
func (h *HistoryStore) Cleanup(ctx context.Context) (int, error) {
	count, err := h.idx.HistoryCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting history: %w", err)
	}
	if count <= h.maxEntries {
		return 0, nil
	}

	excess := int(count - h.maxEntries)
	oldest, err := h.idx.OldestHistory(ctx, excess)
	if err != nil {
		return 0, fmt.Errorf("listing oldest history: %w", err)
	}

	deleted := 0
	for _, item := range oldest {
		if err := h.idx.DeleteHistory(ctx, item.URL); err != nil {
			h.logger.Warn("deleting history item", "url", item.URL, "error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		telemetry.RecordCleanupDeletions(ctx, "history", "capped", deleted, 0)
		h.logger.Info("history trimmed", "deleted", deleted, "max", h.maxEntries)
	}
	return deleted, nil
}
