// Package health provides health check functionality for API components.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is fully operational.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is not operational.
	StatusUnhealthy Status = "unhealthy"
)

// ComponentStatus represents the health status of a single component.
type ComponentStatus struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response represents the health check response.
type Response struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
}

// Pinger is an interface for components that can be pinged.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

// Ping calls the wrapped function.
func (f PingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Checker performs health checks over a set of named components.
type Checker struct {
	components map[string]Pinger
	startTime  time.Time
	version    string
	timeout    time.Duration
}

// NewChecker creates a new health checker.
func NewChecker(version string) *Checker {
	return &Checker{
		components: make(map[string]Pinger),
		startTime:  time.Now(),
		version:    version,
		timeout:    5 * time.Second,
	}
}

// Register adds a named component to the check set.
func (c *Checker) Register(name string, pinger Pinger) {
	c.components[name] = pinger
}

// Check pings every registered component.
func (c *Checker) Check(ctx context.Context) *Response {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := &Response{
		Status:     StatusHealthy,
		Components: make(map[string]ComponentStatus),
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
	}

	for name, pinger := range c.components {
		if err := pinger.Ping(ctx); err != nil {
			resp.Status = StatusUnhealthy
			resp.Components[name] = ComponentStatus{Status: StatusUnhealthy, Message: err.Error()}
			continue
		}
		resp.Components[name] = ComponentStatus{Status: StatusHealthy}
	}

	return resp
}

// Handler returns an http.HandlerFunc serving the health check.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := c.Check(r.Context())

		status := http.StatusOK
		if resp.Status != StatusHealthy {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}
}
