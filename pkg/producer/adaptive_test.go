package producer

import (
	"testing"
	"time"
)

// drainMinute calls Allow at the given instant until the budget is spent and
// returns how many events were admitted.
func drainMinute(l *adaptiveLimiter, now time.Time) int {
	allowed := 0
	for l.Allow(now) {
		allowed++
	}
	return allowed
}

func TestAdaptiveLimiterDecaySequence(t *testing.T) {
	l := newAdaptiveLimiter(adaptiveDefaults())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Every minute runs hot, so each rollover deepens the decay:
	// 50, 35, 24, 17, 12, 8, then the floor.
	want := []int{50, 35, 24, 17, 12, 8, 5, 5, 5}
	for minute, expected := range want {
		now := base.Add(time.Duration(minute) * time.Minute)
		if got := drainMinute(l, now); got != expected {
			t.Fatalf("minute %d: admitted %d events, want %d", minute, got, expected)
		}
	}
}

func TestAdaptiveLimiterQuietMinuteRecovers(t *testing.T) {
	l := newAdaptiveLimiter(adaptiveDefaults())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Three hot minutes push the budget down to 17.
	for minute := 0; minute < 3; minute++ {
		drainMinute(l, base.Add(time.Duration(minute)*time.Minute))
	}

	// Minute 3 emits one event, well under the high watermark.
	if !l.Allow(base.Add(3 * time.Minute)) {
		t.Fatal("single event in a fresh minute should be admitted")
	}

	// The quiet minute recovers one decay step: back from 17 to 24.
	if got := drainMinute(l, base.Add(4*time.Minute)); got != 24 {
		t.Fatalf("minute after recovery admitted %d events, want 24", got)
	}
}

func TestAdaptiveLimiterIdleMinutesRecoverStepwise(t *testing.T) {
	l := newAdaptiveLimiter(adaptiveDefaults())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Two hot minutes, then a long idle gap.
	drainMinute(l, base)
	drainMinute(l, base.Add(time.Minute))

	// Minute 1 ran hot (raising the decay to 2) and the idle minutes after it
	// recover one step each, so a gap of three idle minutes restores the full
	// budget.
	if got := drainMinute(l, base.Add(5*time.Minute)); got != 50 {
		t.Fatalf("after idle gap admitted %d events, want 50", got)
	}
}

func TestAdaptiveLimiterBudgetWithinSingleMinute(t *testing.T) {
	l := newAdaptiveLimiter(adaptiveDefaults())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		if !l.Allow(now.Add(time.Duration(i) * time.Second / 10)) {
			t.Fatalf("event %d within budget was denied", i)
		}
	}
	if l.Allow(now.Add(30 * time.Second)) {
		t.Fatal("51st event in the same minute should be denied")
	}
}
