// Package producer is the client SDK embedded in each emitting environment.
// It runs the pre-filter pipeline (suppression, redaction, duplicate
// collapse, adaptive local quota) and forwards surviving events to the
// ingestion gateway without ever blocking or throwing into the caller.
//
// The package intentionally has no dependency on the server-side internal
// packages: it speaks the gateway's wire format and nothing else.
package producer

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Level is the severity of an emitted event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one diagnostic event as the caller hands it to the SDK.
type Event struct {
	TraceID string
	UserID  string
	Level   Level
	Message string
	Stack   string
	Context map[string]any
}

// wireEvent is the gateway's POST /log body.
type wireEvent struct {
	TraceID   string         `json:"trace_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	System    string         `json:"system"`
	Timestamp int64          `json:"timestamp"`
	Stack     string         `json:"stack,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// Options configure a Producer.
type Options struct {
	// GatewayURL is the base URL of the ingestion gateway.
	GatewayURL string
	// System names the emitting environment: client, edge or backend.
	System string
	// Rules override the built-in suppression and redaction rules.
	Rules *Rules
	// QueueSize bounds the outbound queue. Zero means 1000.
	QueueSize int
	// Local receives the SDK's own diagnostics and the mirror of suppressed
	// or dropped events. It must never feed back into the pipeline; the
	// default writes text to stderr.
	Local *slog.Logger
	// Timeout bounds each forwarding request. Zero means 5s.
	Timeout time.Duration
}

// Producer owns all pre-filter state. Create one per process and share it;
// there are no package-level globals, so tests can run isolated instances.
type Producer struct {
	opts       Options
	suppressor *suppressor
	redactor   *redactor
	collapse   *collapseMap
	limiter    *adaptiveLimiter
	transport  *transport
	local      *slog.Logger
	closeOnce  sync.Once
}

// New creates a running Producer. The transport goroutine starts
// immediately; Close flushes and stops it.
func New(opts Options) *Producer {
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	local := opts.Local
	if local == nil {
		local = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	p := &Producer{
		opts:       opts,
		suppressor: newSuppressor(rules.Suppress),
		redactor:   newRedactor(rules.Redact),
		collapse:   newCollapseMap(collapseThreshold, collapseWindow),
		limiter:    newAdaptiveLimiter(adaptiveDefaults()),
		local:      local,
	}
	p.transport = newTransport(opts.GatewayURL, opts.QueueSize, opts.Timeout, local)
	return p
}

// Emit is the convenience form of EmitEvent for events with no trace.
func (p *Producer) Emit(level Level, message string) {
	p.EmitEvent(Event{Level: level, Message: message})
}

// EmitEvent runs the pipeline. It never panics into the caller and returns
// as soon as local computation is done; network delivery is asynchronous.
func (p *Producer) EmitEvent(evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			// A bug in the logging pipeline must never break the
			// application being logged.
			p.local.Error("log pipeline panic", "panic", rec)
		}
	}()

	// 1. Suppression: known noise is mirrored locally, never forwarded.
	if p.suppressor.Matches(evt.Message) {
		p.mirror("suppressed", evt)
		return
	}

	// 2. Redaction: every pattern runs, so a message mixing several kinds
	// of secrets has all of them caught.
	redacted, count := p.redactor.Apply(evt.Message)
	evt.Message = redacted
	if count > 0 {
		if evt.Context == nil {
			evt.Context = make(map[string]any)
		}
		evt.Context["redactions"] = count
	}

	// 3. Duplicate collapse.
	if !p.collapse.Admit(string(evt.Level), evt.Message, time.Now()) {
		p.mirror("collapsed duplicate", evt)
		return
	}

	// 4. Adaptive local quota.
	if !p.limiter.Allow(time.Now()) {
		p.mirror("over local quota", evt)
		return
	}

	body, err := json.Marshal(wireEvent{
		TraceID:   evt.TraceID,
		UserID:    evt.UserID,
		Level:     string(evt.Level),
		Message:   evt.Message,
		System:    p.opts.System,
		Timestamp: time.Now().UnixMilli(),
		Stack:     evt.Stack,
		Context:   evt.Context,
	})
	if err != nil {
		p.local.Error("failed to encode event", "error", err)
		return
	}

	if !p.transport.Enqueue(body) {
		p.local.Warn("outbound queue full, event dropped", "message", evt.Message)
	}
}

// mirror writes a filtered event to the local output so it stays visible to
// a developer watching the process even though it never leaves it.
func (p *Producer) mirror(why string, evt Event) {
	p.local.Debug("event not forwarded",
		"why", why,
		"level", string(evt.Level),
		"message", evt.Message,
	)
}

// Close flushes the outbound queue and stops the transport. Safe to call
// more than once.
func (p *Producer) Close() {
	p.closeOnce.Do(p.transport.Close)
}
