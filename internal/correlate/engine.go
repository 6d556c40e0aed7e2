// Package correlate assembles causally ordered timelines for single traces
// from whatever mix of buffered and durably stored events exists.
package correlate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/logweir/logweir/internal/buffer"
	"github.com/logweir/logweir/internal/models"
	"github.com/logweir/logweir/internal/store"
)

// Engine is a read-only query component. Queries are pure reads and may run
// with unlimited concurrency against both stores.
type Engine struct {
	buffer *buffer.Buffer
	events store.EventStore
	logger *slog.Logger
}

// NewEngine creates a correlation engine over the buffer and durable store.
func NewEngine(buf *buffer.Buffer, events store.EventStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{buffer: buf, events: events, logger: logger}
}

// Timeline reconstructs the ordered event sequence for one trace. A trace
// with no data yields an empty timeline, not an error. Events without a
// trace ID can never appear here.
func (e *Engine) Timeline(ctx context.Context, traceID string) (*models.Timeline, error) {
	if traceID == "" {
		return &models.Timeline{TraceID: traceID, Events: []*models.LogEvent{}}, nil
	}

	events, err := e.collect(ctx, traceID)
	if err != nil {
		return nil, err
	}

	sortEvents(events)

	timeline := &models.Timeline{
		TraceID: traceID,
		Events:  events,
	}
	annotate(timeline)
	return timeline, nil
}

// collect merges buffer and durable store contents for a trace,
// de-duplicating by sync key: an event both buffered and already migrated
// counts once.
func (e *Engine) collect(ctx context.Context, traceID string) ([]*models.LogEvent, error) {
	seen := make(map[string]struct{})
	var events []*models.LogEvent

	buffered, err := e.buffer.GetByTrace(traceID)
	if err != nil {
		return nil, fmt.Errorf("reading buffer: %w", err)
	}
	for _, entry := range buffered {
		event := entry.Event
		seen[event.SyncKey()] = struct{}{}
		events = append(events, &event)
	}

	stored, err := e.events.ListByTrace(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("reading durable store: %w", err)
	}
	for _, event := range stored {
		if _, dup := seen[event.SyncKey()]; dup {
			continue
		}
		events = append(events, event)
	}

	if events == nil {
		events = []*models.LogEvent{}
	}
	return events, nil
}

// Search returns events matching the filter from both stores, merged and
// ordered. An empty result is normal.
func (e *Engine) Search(ctx context.Context, filter store.EventFilter) ([]*models.LogEvent, error) {
	seen := make(map[string]struct{})
	var events []*models.LogEvent

	buffered, err := e.buffer.GetAll()
	if err != nil {
		return nil, fmt.Errorf("reading buffer: %w", err)
	}
	for _, entry := range buffered {
		event := entry.Event
		if !matches(&event, filter) {
			continue
		}
		seen[event.SyncKey()] = struct{}{}
		events = append(events, &event)
	}

	stored, err := e.events.Search(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("reading durable store: %w", err)
	}
	for _, event := range stored {
		if _, dup := seen[event.SyncKey()]; dup {
			continue
		}
		events = append(events, event)
	}

	sortEvents(events)

	if filter.Limit > 0 && len(events) > filter.Limit {
		events = events[:filter.Limit]
	}
	if events == nil {
		events = []*models.LogEvent{}
	}
	return events, nil
}

// matches applies an EventFilter to a buffered event. The durable store
// filters in SQL; the buffer filters here.
func matches(event *models.LogEvent, filter store.EventFilter) bool {
	if filter.TraceID != "" && event.TraceID != filter.TraceID {
		return false
	}
	if filter.UserID != "" && event.UserID != filter.UserID {
		return false
	}
	if filter.System != "" && event.System != filter.System {
		return false
	}
	if filter.Level != "" && event.Level != filter.Level {
		return false
	}
	if filter.Since > 0 && event.Timestamp < filter.Since {
		return false
	}
	if filter.Until > 0 && event.Timestamp > filter.Until {
		return false
	}
	return true
}

// sortEvents orders by producer timestamp, ties broken by gateway arrival.
func sortEvents(events []*models.LogEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp < events[j].Timestamp
		}
		return events[i].ReceivedAt.Before(events[j].ReceivedAt)
	})
}

// annotate marks error chains and fills in aggregate stats with one linear
// scan over the ordered events.
func annotate(t *models.Timeline) {
	systems := make(map[models.System]struct{})
	chainStart := -1

	for i, event := range t.Events {
		systems[event.System] = struct{}{}

		if event.Level == models.LevelError {
			t.Stats.ErrorCount++
			if chainStart < 0 {
				chainStart = i
			}
			continue
		}
		if chainStart >= 0 {
			t.ErrorChains = append(t.ErrorChains, models.ErrorChain{Start: chainStart, End: i - 1})
			chainStart = -1
		}
	}
	if chainStart >= 0 {
		t.ErrorChains = append(t.ErrorChains, models.ErrorChain{Start: chainStart, End: len(t.Events) - 1})
	}

	t.Stats.SystemsPresent = len(systems)
	if n := len(t.Events); n > 0 {
		t.Stats.DurationMs = t.Events[n-1].Timestamp - t.Events[0].Timestamp
	}
}
