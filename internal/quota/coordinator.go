// Package quota implements the rate-limit coordinator: a single logical
// writer holding windowed quota counters, plus the client gateways use to
// consult it.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/logweir/logweir/internal/models"
	"github.com/logweir/logweir/internal/store"
	"github.com/logweir/logweir/pkg/config"
)

// StateIdentity keys the coordinator's persisted window in the durable
// store. One logical coordinator exists per deployment.
const StateIdentity = "coordinator"

// Checker is the interface gateways use to consult the coordinator. The
// in-process Coordinator and the HTTP Client both satisfy it.
type Checker interface {
	Check(ctx context.Context, system models.System, traceID string) (*models.Decision, error)
}

// Status is the externally visible coordinator state.
type Status struct {
	Config            ConfigSnapshot      `json:"config"`
	CurrentState      *models.QuotaWindow `json:"current_state"`
	WindowRemainingMs int64               `json:"window_remaining_ms"`
}

// ConfigSnapshot mirrors the quota limits the coordinator was started with.
type ConfigSnapshot struct {
	GlobalLimit   int                   `json:"global_limit"`
	SystemQuota   map[models.System]int `json:"system_quota"`
	PerTraceLimit int                   `json:"per_trace_limit"`
	WindowMs      int64                 `json:"window_ms"`
}

// Coordinator owns the quota window. All reads and writes of the window
// happen on the run loop goroutine; callers communicate through the ops
// channel, which makes checks and rollovers linearizable without locks.
type Coordinator struct {
	cfg     config.QuotaConfig
	state   store.QuotaStateStore
	logger  *slog.Logger
	window  *models.QuotaWindow
	ops     chan func()
	done    chan struct{}
	stopped chan struct{}
	now     func() time.Time
}

// NewCoordinator creates a coordinator and restores any persisted window.
// The returned coordinator is already running.
func NewCoordinator(ctx context.Context, cfg config.QuotaConfig, state store.QuotaStateStore, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		cfg:     cfg,
		state:   state,
		logger:  logger,
		ops:     make(chan func()),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		now:     time.Now,
	}

	window, err := state.Load(ctx, StateIdentity)
	if err != nil {
		return nil, fmt.Errorf("restoring quota window: %w", err)
	}
	if window == nil {
		window = models.NewQuotaWindow(c.now())
		logger.Info("starting fresh quota window")
	} else {
		logger.Info("restored quota window",
			"window_start", window.WindowStart,
			"global_current", window.GlobalCurrent,
		)
	}
	c.window = window

	go c.run()
	return c, nil
}

// run is the coordinator's single writer loop.
func (c *Coordinator) run() {
	defer close(c.stopped)
	for {
		select {
		case op := <-c.ops:
			op()
		case <-c.done:
			return
		}
	}
}

// do executes fn on the run loop and waits for it to complete.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	complete := make(chan struct{})
	op := func() {
		fn()
		close(complete)
	}

	select {
	case c.ops <- op:
	case <-c.done:
		return fmt.Errorf("coordinator stopped")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-complete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Check evaluates one candidate event against the window. Tiers are
// evaluated global, then per-system, then per-trace; the first exceeded tier
// denies with its own reason and remaining quota. When all tiers pass, all
// three counters are incremented together and the window is persisted before
// the decision is returned.
func (c *Coordinator) Check(ctx context.Context, system models.System, traceID string) (*models.Decision, error) {
	var decision *models.Decision
	err := c.do(ctx, func() {
		decision = c.check(system, traceID)
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// check runs on the run loop goroutine.
func (c *Coordinator) check(system models.System, traceID string) *models.Decision {
	now := c.now()
	if now.Sub(c.window.WindowStart) >= c.cfg.Window {
		c.rollover(now)
	}

	if c.window.GlobalCurrent >= c.cfg.GlobalLimit {
		return &models.Decision{
			Allowed:        false,
			Reason:         "global limit exceeded",
			RemainingQuota: 0,
		}
	}

	systemQuota, ok := c.cfg.SystemQuota[system]
	if ok && c.window.SystemCurrent[system] >= systemQuota {
		return &models.Decision{
			Allowed:        false,
			Reason:         fmt.Sprintf("system quota exceeded for %s", system),
			RemainingQuota: 0,
		}
	}

	if traceID != "" && c.window.TraceCurrent[traceID] >= c.cfg.PerTraceLimit {
		return &models.Decision{
			Allowed:        false,
			Reason:         fmt.Sprintf("trace limit exceeded for %s", traceID),
			RemainingQuota: 0,
		}
	}

	c.window.GlobalCurrent++
	c.window.SystemCurrent[system]++
	if traceID != "" {
		c.window.TraceCurrent[traceID]++
	}
	c.persist()

	remaining := c.cfg.GlobalLimit - c.window.GlobalCurrent
	if ok {
		if r := systemQuota - c.window.SystemCurrent[system]; r < remaining {
			remaining = r
		}
	}
	return &models.Decision{Allowed: true, RemainingQuota: remaining}
}

// rollover atomically begins a new window. Callers on the run loop never
// observe a partially reset state.
func (c *Coordinator) rollover(now time.Time) {
	c.logger.Info("quota window rollover",
		"previous_start", c.window.WindowStart,
		"global_current", c.window.GlobalCurrent,
	)
	c.window = models.NewQuotaWindow(now)
	c.persist()
}

// persist writes the window through to the durable store. A failed write is
// logged and does not fail the in-flight check; counters remain correct in
// memory and the next successful write catches up.
func (c *Coordinator) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.state.Save(ctx, StateIdentity, c.window); err != nil {
		c.logger.Error("failed to persist quota window", "error", err)
	}
}

// Reset zeroes all counters and starts a new window immediately. Operators
// call this after changing quota configuration.
func (c *Coordinator) Reset(ctx context.Context) error {
	return c.do(ctx, func() {
		c.rollover(c.now())
	})
}

// Status returns a snapshot of configuration and the current window.
func (c *Coordinator) Status(ctx context.Context) (*Status, error) {
	var status *Status
	err := c.do(ctx, func() {
		now := c.now()
		if now.Sub(c.window.WindowStart) >= c.cfg.Window {
			c.rollover(now)
		}
		remaining := c.cfg.Window - now.Sub(c.window.WindowStart)
		status = &Status{
			Config: ConfigSnapshot{
				GlobalLimit:   c.cfg.GlobalLimit,
				SystemQuota:   c.cfg.SystemQuota,
				PerTraceLimit: c.cfg.PerTraceLimit,
				WindowMs:      c.cfg.Window.Milliseconds(),
			},
			CurrentState:      c.window.Clone(),
			WindowRemainingMs: remaining.Milliseconds(),
		}
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// Close stops the run loop. In-flight operations complete first.
func (c *Coordinator) Close() error {
	close(c.done)
	<-c.stopped
	return nil
}
