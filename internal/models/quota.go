package models

import "time"

// QuotaWindow holds the counters for one accounting window. It is owned
// exclusively by the rate-limit coordinator; all mutation happens on the
// coordinator's own goroutine.
type QuotaWindow struct {
	WindowStart   time.Time         `json:"window_start"`
	GlobalCurrent int               `json:"global_current"`
	SystemCurrent map[System]int    `json:"system_current"`
	TraceCurrent  map[string]int    `json:"trace_current"`
}

// NewQuotaWindow returns a zeroed window starting at the given time.
func NewQuotaWindow(start time.Time) *QuotaWindow {
	return &QuotaWindow{
		WindowStart:   start,
		SystemCurrent: make(map[System]int),
		TraceCurrent:  make(map[string]int),
	}
}

// Clone returns a deep copy suitable for handing outside the coordinator.
func (w *QuotaWindow) Clone() *QuotaWindow {
	out := &QuotaWindow{
		WindowStart:   w.WindowStart,
		GlobalCurrent: w.GlobalCurrent,
		SystemCurrent: make(map[System]int, len(w.SystemCurrent)),
		TraceCurrent:  make(map[string]int, len(w.TraceCurrent)),
	}
	for k, v := range w.SystemCurrent {
		out.SystemCurrent[k] = v
	}
	for k, v := range w.TraceCurrent {
		out.TraceCurrent[k] = v
	}
	return out
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed        bool   `json:"allowed"`
	Reason         string `json:"reason,omitempty"`
	RemainingQuota int    `json:"remaining_quota"`
}
