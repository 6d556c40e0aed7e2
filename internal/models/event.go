// Package models defines the core data types shared across the pipeline.
package models

import (
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// Level is the severity of a log event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Valid reports whether the level is one of the known severities.
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// System identifies the runtime environment that emitted an event.
type System string

const (
	SystemClient  System = "client"
	SystemEdge    System = "edge"
	SystemBackend System = "backend"
)

// Systems lists all known emitting environments.
var Systems = []System{SystemClient, SystemEdge, SystemBackend}

// Valid reports whether the system is one of the known environments.
func (s System) Valid() bool {
	switch s {
	case SystemClient, SystemEdge, SystemBackend:
		return true
	}
	return false
}

// LogEvent is a single diagnostic event. It is immutable once accepted by
// the gateway. TraceID groups causally related events; an event without a
// TraceID is still storable but can never appear in a timeline.
type LogEvent struct {
	ID         string         `json:"id"`
	TraceID    string         `json:"trace_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Level      Level          `json:"level"`
	Message    string         `json:"message"`
	System     System         `json:"system"`
	Timestamp  int64          `json:"timestamp"` // epoch ms, producer-assigned
	Context    map[string]any `json:"context,omitempty"`
	Stack      string         `json:"stack,omitempty"`
	ReceivedAt time.Time      `json:"received_at"` // gateway arrival, tiebreak for ordering
}

// SyncKey returns the deterministic key identifying this event in the
// durable store. Repeated syncs of the same event map to the same key, which
// is what makes migration idempotent.
func (e *LogEvent) SyncKey() string {
	sum := blake3.Sum256([]byte(e.Message))
	return fmt.Sprintf("%s:%d:%x", e.TraceID, e.Timestamp, sum[:8])
}

// BufferEntry is a LogEvent held in the TTL buffer together with its
// expiration time. The underlying store evicts it; no application sweep runs.
type BufferEntry struct {
	Event     LogEvent  `json:"event"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BufferStats summarizes the live (non-expired) contents of the buffer.
type BufferStats struct {
	Count        int            `json:"count"`
	ActiveTraces int            `json:"active_traces"`
	BySystem     map[System]int `json:"by_system"`
}
