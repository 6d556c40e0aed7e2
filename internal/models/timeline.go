package models

// ErrorChain marks a run of consecutive error-level events within a
// timeline. Start and End are indices into Timeline.Events, End inclusive.
type ErrorChain struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Length returns the number of events in the chain.
func (c ErrorChain) Length() int {
	return c.End - c.Start + 1
}

// TimelineStats are the aggregate figures computed over one trace.
type TimelineStats struct {
	SystemsPresent int   `json:"systems_present"`
	DurationMs     int64 `json:"duration_ms"`
	ErrorCount     int   `json:"error_count"`
}

// Timeline is the derived, causally ordered view of one trace. It is never
// persisted; the correlation engine rebuilds it on every query. An empty
// timeline is a normal outcome, not an error.
type Timeline struct {
	TraceID     string        `json:"trace_id"`
	Events      []*LogEvent   `json:"events"`
	ErrorChains []ErrorChain  `json:"error_chains"`
	Stats       TimelineStats `json:"stats"`
}
