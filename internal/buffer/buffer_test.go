package buffer

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/logweir/logweir/internal/models"
)

func openTestBuffer(t *testing.T, ttl time.Duration) *Buffer {
	t.Helper()
	b, err := Open(Options{TTL: ttl}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to open buffer: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func testEvent(traceID, userID string, system models.System, receivedAt time.Time) *models.LogEvent {
	return &models.LogEvent{
		ID:         uuid.New().String(),
		TraceID:    traceID,
		UserID:     userID,
		Level:      models.LevelInfo,
		Message:    "test event",
		System:     system,
		Timestamp:  receivedAt.UnixMilli(),
		ReceivedAt: receivedAt,
	}
}

func TestPutAndGetAllArrivalOrder(t *testing.T) {
	b := openTestBuffer(t, time.Hour)

	base := time.Now()
	// Insert out of arrival order; keys must still sort by arrival.
	for _, offset := range []time.Duration{2 * time.Second, 0, time.Second} {
		evt := testEvent("trace-a", "", models.SystemBackend, base.Add(offset))
		evt.Message = fmt.Sprintf("offset %s", offset)
		if _, err := b.Put(evt); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	entries, err := b.GetAll()
	if err != nil {
		t.Fatalf("get all failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Event.ReceivedAt.Before(entries[i-1].Event.ReceivedAt) {
			t.Fatalf("entries out of arrival order at %d", i)
		}
	}
}

func TestPutAssignsExpiry(t *testing.T) {
	b := openTestBuffer(t, time.Hour)

	before := time.Now()
	entry, err := b.Put(testEvent("t", "", models.SystemClient, time.Now()))
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if entry.ExpiresAt.Before(before.Add(59 * time.Minute)) {
		t.Errorf("expiry %v is sooner than the configured TTL", entry.ExpiresAt)
	}
}

func TestGetByTraceAndUser(t *testing.T) {
	b := openTestBuffer(t, time.Hour)

	now := time.Now()
	puts := []struct {
		trace, user string
		system      models.System
	}{
		{"trace-1", "user-a", models.SystemClient},
		{"trace-1", "user-b", models.SystemEdge},
		{"trace-2", "user-a", models.SystemBackend},
		{"", "", models.SystemBackend},
	}
	for i, p := range puts {
		if _, err := b.Put(testEvent(p.trace, p.user, p.system, now.Add(time.Duration(i)*time.Millisecond))); err != nil {
			t.Fatalf("put %d failed: %v", i, err)
		}
	}

	byTrace, err := b.GetByTrace("trace-1")
	if err != nil {
		t.Fatalf("get by trace failed: %v", err)
	}
	if len(byTrace) != 2 {
		t.Errorf("expected 2 events for trace-1, got %d", len(byTrace))
	}

	byUser, err := b.GetByUser("user-a")
	if err != nil {
		t.Fatalf("get by user failed: %v", err)
	}
	if len(byUser) != 2 {
		t.Errorf("expected 2 events for user-a, got %d", len(byUser))
	}

	missing, err := b.GetByTrace("trace-absent")
	if err != nil {
		t.Fatalf("get by absent trace failed: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("expected no events for unknown trace, got %d", len(missing))
	}
}

func TestEntriesExpire(t *testing.T) {
	b := openTestBuffer(t, 100*time.Millisecond)

	if _, err := b.Put(testEvent("short", "", models.SystemClient, time.Now())); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	entries, err := b.GetAll()
	if err != nil {
		t.Fatalf("get all failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 live entry, got %d", len(entries))
	}

	time.Sleep(150 * time.Millisecond)

	entries, err = b.GetAll()
	if err != nil {
		t.Fatalf("get all after expiry failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected expired entry to be gone, got %d entries", len(entries))
	}
}

func TestStats(t *testing.T) {
	b := openTestBuffer(t, time.Hour)

	now := time.Now()
	for i := 0; i < 3; i++ {
		b.Put(testEvent("trace-1", "", models.SystemClient, now.Add(time.Duration(i)*time.Millisecond)))
	}
	b.Put(testEvent("trace-2", "", models.SystemBackend, now.Add(10*time.Millisecond)))
	b.Put(testEvent("", "", models.SystemBackend, now.Add(11*time.Millisecond)))

	stats, err := b.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Count != 5 {
		t.Errorf("count = %d, want 5", stats.Count)
	}
	if stats.ActiveTraces != 2 {
		t.Errorf("active traces = %d, want 2", stats.ActiveTraces)
	}
	if stats.BySystem[models.SystemClient] != 3 || stats.BySystem[models.SystemBackend] != 2 {
		t.Errorf("unexpected per-system counts: %v", stats.BySystem)
	}
}

func TestStatsEmptyBuffer(t *testing.T) {
	b := openTestBuffer(t, time.Hour)

	stats, err := b.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Count != 0 || stats.ActiveTraces != 0 {
		t.Errorf("expected zero stats, got %+v", stats)
	}
}

func TestClear(t *testing.T) {
	b := openTestBuffer(t, time.Hour)

	now := time.Now()
	for i := 0; i < 4; i++ {
		b.Put(testEvent("t", "", models.SystemEdge, now.Add(time.Duration(i)*time.Millisecond)))
	}

	if err := b.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	entries, err := b.GetAll()
	if err != nil {
		t.Fatalf("get all after clear failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty buffer after clear, got %d entries", len(entries))
	}

	// The buffer stays usable after a clear.
	if _, err := b.Put(testEvent("t", "", models.SystemEdge, time.Now())); err != nil {
		t.Fatalf("put after clear failed: %v", err)
	}
}

func TestOpenRejectsZeroTTL(t *testing.T) {
	if _, err := Open(Options{TTL: 0}, nil); err == nil {
		t.Fatal("expected error for zero TTL")
	}
}

func TestPingAfterClose(t *testing.T) {
	b, err := Open(Options{TTL: time.Hour}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to open buffer: %v", err)
	}
	if err := b.Ping(); err != nil {
		t.Fatalf("ping on open buffer failed: %v", err)
	}
	b.Close()
	if err := b.Ping(); err == nil {
		t.Fatal("expected ping to fail after close")
	}
}
