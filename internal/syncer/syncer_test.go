package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/logweir/logweir/internal/buffer"
	"github.com/logweir/logweir/internal/models"
	"github.com/logweir/logweir/internal/store"
)

// memoryEventStore is an in-memory store.EventStore keyed by sync key, with
// optional per-message failure injection.
type memoryEventStore struct {
	mu     sync.Mutex
	rows   map[string]*models.LogEvent
	failOn string
}

func newMemoryEventStore() *memoryEventStore {
	return &memoryEventStore{rows: make(map[string]*models.LogEvent)}
}

func (m *memoryEventStore) Upsert(ctx context.Context, event *models.LogEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && strings.Contains(event.Message, m.failOn) {
		return false, fmt.Errorf("injected failure")
	}
	key := event.SyncKey()
	if _, exists := m.rows[key]; exists {
		return false, nil
	}
	clone := *event
	m.rows[key] = &clone
	return true, nil
}

func (m *memoryEventStore) ListByTrace(ctx context.Context, traceID string) ([]*models.LogEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LogEvent
	for _, e := range m.rows {
		if e.TraceID == traceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryEventStore) ListByUser(ctx context.Context, userID string) ([]*models.LogEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LogEvent
	for _, e := range m.rows {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryEventStore) Search(ctx context.Context, filter store.EventFilter) ([]*models.LogEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LogEvent
	for _, e := range m.rows {
		out = append(out, e)
	}
	return out, nil
}

func (m *memoryEventStore) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestBuffer(t *testing.T) *buffer.Buffer {
	t.Helper()
	b, err := buffer.Open(buffer.Options{TTL: time.Hour}, testLogger())
	if err != nil {
		t.Fatalf("failed to open buffer: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func putEvent(t *testing.T, b *buffer.Buffer, traceID, userID, message string, receivedAt time.Time) {
	t.Helper()
	_, err := b.Put(&models.LogEvent{
		ID:         uuid.New().String(),
		TraceID:    traceID,
		UserID:     userID,
		Level:      models.LevelInfo,
		Message:    message,
		System:     models.SystemBackend,
		Timestamp:  receivedAt.UnixMilli(),
		ReceivedAt: receivedAt,
	})
	if err != nil {
		t.Fatalf("failed to buffer event: %v", err)
	}
}

func TestSyncAllMigratesEverything(t *testing.T) {
	b := openTestBuffer(t)
	events := newMemoryEventStore()
	s := New(b, events, testLogger())

	now := time.Now()
	for i := 0; i < 5; i++ {
		putEvent(t, b, "trace-1", "user-1", fmt.Sprintf("event %d", i), now.Add(time.Duration(i)*time.Millisecond))
	}

	result, err := s.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Migrated != 5 || result.Skipped != 0 || len(result.Errors) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	count, _ := events.Count(context.Background())
	if count != 5 {
		t.Fatalf("store holds %d rows, want 5", count)
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	b := openTestBuffer(t)
	events := newMemoryEventStore()
	s := New(b, events, testLogger())

	now := time.Now()
	for i := 0; i < 4; i++ {
		putEvent(t, b, "trace-1", "", fmt.Sprintf("event %d", i), now.Add(time.Duration(i)*time.Millisecond))
	}

	first, err := s.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	second, err := s.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("second sync failed: %v", err)
	}

	if first.Migrated != 4 {
		t.Errorf("first sync migrated %d, want 4", first.Migrated)
	}
	if second.Migrated != 0 || second.Skipped != 4 {
		t.Errorf("second sync should skip everything: %+v", second)
	}

	count, _ := events.Count(context.Background())
	if count != 4 {
		t.Fatalf("store holds %d rows after double sync, want 4", count)
	}
}

func TestSyncByTraceAndUserScope(t *testing.T) {
	b := openTestBuffer(t)
	events := newMemoryEventStore()
	s := New(b, events, testLogger())

	now := time.Now()
	putEvent(t, b, "trace-1", "user-a", "one", now)
	putEvent(t, b, "trace-2", "user-a", "two", now.Add(time.Millisecond))
	putEvent(t, b, "trace-2", "user-b", "three", now.Add(2*time.Millisecond))

	byTrace, err := s.SyncByTrace(context.Background(), "trace-2")
	if err != nil {
		t.Fatalf("sync by trace failed: %v", err)
	}
	if byTrace.Migrated != 2 {
		t.Fatalf("trace sync migrated %d, want 2", byTrace.Migrated)
	}

	byUser, err := s.SyncByUser(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("sync by user failed: %v", err)
	}
	// "two" was already migrated by the trace sync.
	if byUser.Migrated != 1 || byUser.Skipped != 1 {
		t.Fatalf("user sync result: %+v", byUser)
	}
}

func TestSyncContinuesPastItemFailures(t *testing.T) {
	b := openTestBuffer(t)
	events := newMemoryEventStore()
	events.failOn = "poison"
	s := New(b, events, testLogger())

	now := time.Now()
	putEvent(t, b, "t", "", "good one", now)
	putEvent(t, b, "t", "", "poison pill", now.Add(time.Millisecond))
	putEvent(t, b, "t", "", "good two", now.Add(2*time.Millisecond))

	result, err := s.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("sync should tolerate item failures: %v", err)
	}
	if result.Migrated != 2 {
		t.Errorf("migrated %d, want 2", result.Migrated)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 item error, got %d", len(result.Errors))
	}
	if result.Errors[0].Error != "injected failure" {
		t.Errorf("unexpected item error: %+v", result.Errors[0])
	}

	// The failed item stays in the buffer and a later run picks it up.
	events.failOn = ""
	retry, err := s.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("retry sync failed: %v", err)
	}
	if retry.Migrated != 1 || retry.Skipped != 2 {
		t.Fatalf("retry result: %+v", retry)
	}
}

func TestSyncCancellationStopsBetweenItems(t *testing.T) {
	b := openTestBuffer(t)
	events := newMemoryEventStore()
	s := New(b, events, testLogger())

	putEvent(t, b, "t", "", "event", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.SyncAll(ctx); err == nil {
		t.Fatal("expected context error from cancelled sync")
	}
}

func TestClearAndSyncDropsOldData(t *testing.T) {
	b := openTestBuffer(t)
	events := newMemoryEventStore()
	s := New(b, events, testLogger())

	now := time.Now()
	putEvent(t, b, "stale", "", "old event", now)
	putEvent(t, b, "stale", "", "older event", now.Add(time.Millisecond))

	result, err := s.ClearAndSync(context.Background())
	if err != nil {
		t.Fatalf("clear and sync failed: %v", err)
	}
	if result.Migrated != 0 {
		t.Errorf("cleared data should not be migrated: %+v", result)
	}
	count, _ := events.Count(context.Background())
	if count != 0 {
		t.Errorf("store holds %d rows, want 0", count)
	}
}

func TestProgressReporting(t *testing.T) {
	b := openTestBuffer(t)
	events := newMemoryEventStore()

	var calls [][2]int
	s := New(b, events, testLogger()).WithProgress(func(done, total int) {
		calls = append(calls, [2]int{done, total})
	})

	now := time.Now()
	for i := 0; i < 250; i++ {
		putEvent(t, b, "t", "", fmt.Sprintf("event %d", i), now.Add(time.Duration(i)*time.Microsecond))
	}

	result, err := s.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Migrated != 250 {
		t.Fatalf("migrated %d, want 250", result.Migrated)
	}
	if len(calls) != 2 {
		t.Fatalf("expected progress at 100 and 200, got %v", calls)
	}
	if calls[0] != [2]int{100, 250} || calls[1] != [2]int{200, 250} {
		t.Errorf("unexpected progress calls: %v", calls)
	}
}
