// Package store provides durable storage interfaces for the pipeline.
package store

import (
	"context"

	"github.com/logweir/logweir/internal/models"
)

// EventFilter narrows an event query. Zero values mean "no constraint".
type EventFilter struct {
	TraceID string
	UserID  string
	System  models.System
	Level   models.Level
	// Since and Until bound the producer timestamp, epoch ms, inclusive.
	Since int64
	Until int64
	Limit int
}

// EventStore defines operations on durably stored log events.
type EventStore interface {
	// Upsert writes an event keyed by its sync key. It reports whether a new
	// row was created; re-upserting an already-migrated event is a no-op.
	Upsert(ctx context.Context, event *models.LogEvent) (bool, error)
	// ListByTrace retrieves all events for a trace, oldest first.
	ListByTrace(ctx context.Context, traceID string) ([]*models.LogEvent, error)
	// ListByUser retrieves all events for a user, oldest first.
	ListByUser(ctx context.Context, userID string) ([]*models.LogEvent, error)
	// Search retrieves events matching the filter, oldest first.
	Search(ctx context.Context, filter EventFilter) ([]*models.LogEvent, error)
	// Count returns the total number of stored events.
	Count(ctx context.Context) (int, error)
}

// QuotaStateStore persists the coordinator's window so that quota counters
// survive process restarts.
type QuotaStateStore interface {
	// Load retrieves the window for a coordinator identity. A missing row
	// yields (nil, nil).
	Load(ctx context.Context, identity string) (*models.QuotaWindow, error)
	// Save writes the window for a coordinator identity.
	Save(ctx context.Context, identity string, window *models.QuotaWindow) error
}

// Store is the main interface for durable storage.
type Store interface {
	// Events returns the EventStore for log event operations.
	Events() EventStore
	// QuotaState returns the QuotaStateStore for coordinator persistence.
	QuotaState() QuotaStateStore
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
	// Close releases the underlying connections.
	Close() error
}
