package producer

import (
	"sync"
	"time"
)

const (
	// collapseThreshold is how many repeats of the same (level, message)
	// pair are let through before the rest of the burst is dropped.
	collapseThreshold = 5
	// collapseWindow is how long a pair must stay quiet before its counter
	// resets.
	collapseWindow = time.Second
)

// collapseMap tracks recent (level, message) pairs and drops tight bursts
// of identical events.
type collapseMap struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	seen      map[string]*collapseEntry
}

type collapseEntry struct {
	count    int
	lastSeen time.Time
}

func newCollapseMap(threshold int, window time.Duration) *collapseMap {
	return &collapseMap{
		threshold: threshold,
		window:    window,
		seen:      make(map[string]*collapseEntry),
	}
}

// Admit reports whether the event should continue down the pipeline.
// The first repeats inside the window pass; once the count exceeds the
// threshold the pair is dropped until the window lapses without a repeat.
func (m *collapseMap) Admit(level, message string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := level + "|" + message
	entry, ok := m.seen[key]
	if !ok || now.Sub(entry.lastSeen) > m.window {
		m.seen[key] = &collapseEntry{count: 1, lastSeen: now}
		m.prune(now)
		return true
	}

	entry.count++
	entry.lastSeen = now
	return entry.count <= m.threshold
}

// prune drops stale entries so the map cannot grow without bound. Called
// with the lock held, only on the new-key path.
func (m *collapseMap) prune(now time.Time) {
	if len(m.seen) < 1024 {
		return
	}
	for key, entry := range m.seen {
		if now.Sub(entry.lastSeen) > m.window {
			delete(m.seen, key)
		}
	}
}
