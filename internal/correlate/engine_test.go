package correlate

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/logweir/logweir/internal/buffer"
	"github.com/logweir/logweir/internal/models"
	"github.com/logweir/logweir/internal/store"
)

// memoryEventStore is an in-memory store.EventStore keyed by sync key.
type memoryEventStore struct {
	mu   sync.Mutex
	rows map[string]*models.LogEvent
}

func newMemoryEventStore() *memoryEventStore {
	return &memoryEventStore{rows: make(map[string]*models.LogEvent)}
}

func (m *memoryEventStore) Upsert(ctx context.Context, event *models.LogEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := event.SyncKey()
	if _, exists := m.rows[key]; exists {
		return false, nil
	}
	clone := *event
	m.rows[key] = &clone
	return true, nil
}

func (m *memoryEventStore) ListByTrace(ctx context.Context, traceID string) ([]*models.LogEvent, error) {
	return m.Search(ctx, store.EventFilter{TraceID: traceID})
}

func (m *memoryEventStore) ListByUser(ctx context.Context, userID string) ([]*models.LogEvent, error) {
	return m.Search(ctx, store.EventFilter{UserID: userID})
}

func (m *memoryEventStore) Search(ctx context.Context, filter store.EventFilter) ([]*models.LogEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LogEvent
	for _, e := range m.rows {
		if filter.TraceID != "" && e.TraceID != filter.TraceID {
			continue
		}
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.System != "" && e.System != filter.System {
			continue
		}
		if filter.Level != "" && e.Level != filter.Level {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memoryEventStore) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows), nil
}

func newTestEngine(t *testing.T) (*Engine, *buffer.Buffer, *memoryEventStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	buf, err := buffer.Open(buffer.Options{TTL: time.Hour}, logger)
	if err != nil {
		t.Fatalf("failed to open buffer: %v", err)
	}
	t.Cleanup(func() { buf.Close() })
	events := newMemoryEventStore()
	return NewEngine(buf, events, logger), buf, events
}

func makeEvent(traceID string, level models.Level, system models.System, message string, ts int64) *models.LogEvent {
	return &models.LogEvent{
		ID:         uuid.New().String(),
		TraceID:    traceID,
		Level:      level,
		Message:    message,
		System:     system,
		Timestamp:  ts,
		ReceivedAt: time.UnixMilli(ts).UTC(),
	}
}

func TestTimelineOrdersAcrossSystems(t *testing.T) {
	engine, buf, _ := newTestEngine(t)

	// Arrival order differs from producer timestamps: the backend event
	// arrived first but happened last.
	buf.Put(makeEvent("trace-1", models.LevelInfo, models.SystemBackend, "query ran", 3000))
	buf.Put(makeEvent("trace-1", models.LevelInfo, models.SystemClient, "button clicked", 1000))
	buf.Put(makeEvent("trace-1", models.LevelInfo, models.SystemEdge, "request routed", 2000))

	timeline, err := engine.Timeline(context.Background(), "trace-1")
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}
	if len(timeline.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(timeline.Events))
	}

	wantOrder := []models.System{models.SystemClient, models.SystemEdge, models.SystemBackend}
	for i, system := range wantOrder {
		if timeline.Events[i].System != system {
			t.Errorf("position %d: got %s, want %s", i, timeline.Events[i].System, system)
		}
	}
	if timeline.Stats.SystemsPresent != 3 {
		t.Errorf("systems present = %d, want 3", timeline.Stats.SystemsPresent)
	}
	if timeline.Stats.DurationMs != 2000 {
		t.Errorf("duration = %d ms, want 2000", timeline.Stats.DurationMs)
	}
}

func TestTimelineMergesBufferAndStoreWithoutDuplicates(t *testing.T) {
	engine, buf, events := newTestEngine(t)
	ctx := context.Background()

	// One event only buffered, one only stored, one present in both.
	onlyBuffered := makeEvent("trace-1", models.LevelInfo, models.SystemClient, "buffered only", 1000)
	both := makeEvent("trace-1", models.LevelInfo, models.SystemEdge, "in both", 2000)
	onlyStored := makeEvent("trace-1", models.LevelInfo, models.SystemBackend, "stored only", 3000)

	buf.Put(onlyBuffered)
	buf.Put(both)
	events.Upsert(ctx, both)
	events.Upsert(ctx, onlyStored)

	timeline, err := engine.Timeline(ctx, "trace-1")
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}
	if len(timeline.Events) != 3 {
		t.Fatalf("expected 3 unique events, got %d", len(timeline.Events))
	}
}

func TestTimelineUnknownTraceIsEmptyNotError(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	timeline, err := engine.Timeline(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("empty timeline should not error: %v", err)
	}
	if timeline.Events == nil {
		t.Fatal("events must be an empty slice, not nil")
	}
	if len(timeline.Events) != 0 || timeline.Stats.ErrorCount != 0 {
		t.Fatalf("expected empty timeline, got %+v", timeline)
	}
}

func TestTimelineExcludesTracelessEvents(t *testing.T) {
	engine, buf, _ := newTestEngine(t)

	buf.Put(makeEvent("", models.LevelError, models.SystemBackend, "orphan event", 1000))
	buf.Put(makeEvent("trace-1", models.LevelInfo, models.SystemClient, "traced event", 2000))

	timeline, err := engine.Timeline(context.Background(), "trace-1")
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}
	if len(timeline.Events) != 1 || timeline.Events[0].Message != "traced event" {
		t.Fatalf("traceless event leaked into the timeline: %+v", timeline.Events)
	}
}

func TestTimelineErrorChains(t *testing.T) {
	engine, buf, _ := newTestEngine(t)

	// info, error, error, info, error -> chains [1,2] and [4,4].
	levels := []models.Level{
		models.LevelInfo,
		models.LevelError,
		models.LevelError,
		models.LevelInfo,
		models.LevelError,
	}
	for i, level := range levels {
		buf.Put(makeEvent("trace-1", level, models.SystemBackend, "step", int64(1000*(i+1))))
	}

	timeline, err := engine.Timeline(context.Background(), "trace-1")
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}
	if timeline.Stats.ErrorCount != 3 {
		t.Errorf("error count = %d, want 3", timeline.Stats.ErrorCount)
	}
	if len(timeline.ErrorChains) != 2 {
		t.Fatalf("expected 2 error chains, got %d", len(timeline.ErrorChains))
	}
	if timeline.ErrorChains[0].Start != 1 || timeline.ErrorChains[0].End != 2 {
		t.Errorf("first chain = %+v, want [1,2]", timeline.ErrorChains[0])
	}
	if timeline.ErrorChains[1].Start != 4 || timeline.ErrorChains[1].End != 4 {
		t.Errorf("second chain = %+v, want [4,4]", timeline.ErrorChains[1])
	}
}

func TestSearchFiltersAndMerges(t *testing.T) {
	engine, buf, events := newTestEngine(t)
	ctx := context.Background()

	buf.Put(makeEvent("trace-1", models.LevelError, models.SystemClient, "client error", 1000))
	buf.Put(makeEvent("trace-2", models.LevelInfo, models.SystemClient, "client info", 2000))
	events.Upsert(ctx, makeEvent("trace-3", models.LevelError, models.SystemBackend, "backend error", 3000))

	errorsOnly, err := engine.Search(ctx, store.EventFilter{Level: models.LevelError})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(errorsOnly) != 2 {
		t.Fatalf("expected 2 error events, got %d", len(errorsOnly))
	}
	for _, e := range errorsOnly {
		if e.Level != models.LevelError {
			t.Errorf("non-error event in results: %+v", e)
		}
	}

	clientOnly, err := engine.Search(ctx, store.EventFilter{System: models.SystemClient})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(clientOnly) != 2 {
		t.Fatalf("expected 2 client events, got %d", len(clientOnly))
	}
}

func TestSearchEmptyResultIsNormal(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	results, err := engine.Search(context.Background(), store.EventFilter{TraceID: "none"})
	if err != nil {
		t.Fatalf("empty search should not error: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", results)
	}
}

func TestSearchLimit(t *testing.T) {
	engine, buf, _ := newTestEngine(t)

	for i := 0; i < 10; i++ {
		buf.Put(makeEvent("trace-1", models.LevelInfo, models.SystemEdge, "event", int64(1000+i)))
	}

	results, err := engine.Search(context.Background(), store.EventFilter{Limit: 4})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 events with limit, got %d", len(results))
	}
	// The limit keeps the oldest events, consistent with the sort order.
	if results[0].Timestamp != 1000 {
		t.Errorf("first result not the oldest event: %d", results[0].Timestamp)
	}
}
