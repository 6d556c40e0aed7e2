// Package syncer migrates buffered events into the durable store on
// operator demand. Migration is idempotent by construction: every event maps
// to a deterministic sync key and the store upserts on that key, so
// overlapping or repeated runs never duplicate rows.
package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/logweir/logweir/internal/buffer"
	"github.com/logweir/logweir/internal/models"
	"github.com/logweir/logweir/internal/store"
)

// progressEvery controls how often long batches report progress.
const progressEvery = 100

// ItemError records one failed migration within a batch. A failed item is
// skipped; the batch continues.
type ItemError struct {
	EventID string `json:"event_id"`
	Error   string `json:"error"`
}

// Result summarizes one sync operation.
type Result struct {
	Migrated int         `json:"migrated"`
	Skipped  int         `json:"skipped"`
	Errors   []ItemError `json:"errors"`
}

// ProgressFunc receives incremental progress for long batches.
type ProgressFunc func(done, total int)

// Syncer migrates buffer contents into the durable store.
type Syncer struct {
	buffer   *buffer.Buffer
	events   store.EventStore
	logger   *slog.Logger
	progress ProgressFunc
}

// New creates a Syncer. Concurrent syncs over overlapping data are safe
// because of the idempotent upsert keys, not because of any locking here.
func New(buf *buffer.Buffer, events store.EventStore, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Syncer{buffer: buf, events: events, logger: logger}
	s.progress = func(done, total int) {
		logger.Info("sync progress", "done", done, "total", total)
	}
	return s
}

// WithProgress replaces the default progress reporter.
func (s *Syncer) WithProgress(fn ProgressFunc) *Syncer {
	s.progress = fn
	return s
}

// SyncAll migrates every live buffer entry.
func (s *Syncer) SyncAll(ctx context.Context) (*Result, error) {
	entries, err := s.buffer.GetAll()
	if err != nil {
		return nil, fmt.Errorf("reading buffer: %w", err)
	}
	return s.migrate(ctx, entries)
}

// SyncByTrace migrates the live entries of one trace.
func (s *Syncer) SyncByTrace(ctx context.Context, traceID string) (*Result, error) {
	entries, err := s.buffer.GetByTrace(traceID)
	if err != nil {
		return nil, fmt.Errorf("reading buffer: %w", err)
	}
	return s.migrate(ctx, entries)
}

// SyncByUser migrates the live entries of one user.
func (s *Syncer) SyncByUser(ctx context.Context, userID string) (*Result, error) {
	entries, err := s.buffer.GetByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("reading buffer: %w", err)
	}
	return s.migrate(ctx, entries)
}

// ClearAndSync clears the buffer first, establishing a clean window for a
// fresh debugging session, then syncs whatever new data has arrived since.
func (s *Syncer) ClearAndSync(ctx context.Context) (*Result, error) {
	if err := s.buffer.Clear(); err != nil {
		return nil, fmt.Errorf("clearing buffer: %w", err)
	}
	return s.SyncAll(ctx)
}

// migrate upserts entries one at a time. Cancellation stops between items;
// partial completion is fine and a later run catches up idempotently.
func (s *Syncer) migrate(ctx context.Context, entries []*models.BufferEntry) (*Result, error) {
	result := &Result{Errors: []ItemError{}}
	total := len(entries)

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		inserted, err := s.events.Upsert(ctx, &entry.Event)
		switch {
		case err != nil:
			result.Errors = append(result.Errors, ItemError{
				EventID: entry.Event.ID,
				Error:   err.Error(),
			})
			s.logger.Warn("sync item failed",
				"event_id", entry.Event.ID,
				"error", err,
			)
		case inserted:
			result.Migrated++
		default:
			result.Skipped++
		}

		if done := i + 1; done%progressEvery == 0 && done < total {
			s.progress(done, total)
		}
	}

	s.logger.Info("sync complete",
		"migrated", result.Migrated,
		"skipped", result.Skipped,
		"errors", len(result.Errors),
	)
	return result, nil
}
