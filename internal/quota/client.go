package quota

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/logweir/logweir/internal/models"
)

// Client consults a remote coordinator over HTTP. It satisfies Checker, so
// gateways are indifferent to whether the coordinator is in-process or not.
type Client struct {
	baseURL    string
	httpClient *http.Client
	failOpen   bool
	logger     *slog.Logger
}

// ClientOptions configure the coordinator client.
type ClientOptions struct {
	// BaseURL of the coordinator control surface.
	BaseURL string
	// Timeout bounds every check call.
	Timeout time.Duration
	// FailOpen accepts events when the coordinator is unreachable. The
	// default (fail closed) denies, which bounds worst-case storage cost.
	FailOpen bool
}

// NewClient creates a coordinator client.
func NewClient(opts ClientOptions, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		failOpen:   opts.FailOpen,
		logger:     logger,
	}
}

type checkRequest struct {
	System  models.System `json:"system"`
	TraceID string        `json:"trace_id,omitempty"`
}

// Check calls POST /check on the remote coordinator. A transport failure or
// timeout resolves according to the fail policy instead of surfacing as an
// error to the ingestion path.
func (c *Client) Check(ctx context.Context, system models.System, traceID string) (*models.Decision, error) {
	body, err := json.Marshal(checkRequest{System: system, TraceID: traceID})
	if err != nil {
		return nil, fmt.Errorf("marshaling check request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/check", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building check request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.resolveFailure(fmt.Errorf("coordinator unreachable: %w", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.resolveFailure(fmt.Errorf("coordinator returned HTTP %d", resp.StatusCode)), nil
	}

	var decision models.Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return c.resolveFailure(fmt.Errorf("decoding coordinator response: %w", err)), nil
	}
	return &decision, nil
}

// resolveFailure applies the fail-open/fail-closed policy.
func (c *Client) resolveFailure(cause error) *models.Decision {
	if c.failOpen {
		c.logger.Warn("coordinator check failed, accepting (fail open)", "error", cause)
		return &models.Decision{Allowed: true, RemainingQuota: -1}
	}
	c.logger.Warn("coordinator check failed, denying (fail closed)", "error", cause)
	return &models.Decision{
		Allowed: false,
		Reason:  "quota check unavailable",
	}
}

// Reset calls POST /reset on the remote coordinator.
func (c *Client) Reset(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/reset", nil)
	if err != nil {
		return fmt.Errorf("building reset request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling coordinator reset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coordinator reset returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Status calls GET /status on the remote coordinator.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("building status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling coordinator status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coordinator status returned HTTP %d", resp.StatusCode)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decoding coordinator status: %w", err)
	}
	return &status, nil
}
