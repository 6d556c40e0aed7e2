// Package handlers provides HTTP request handlers for the API servers.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fastjson"

	apierrors "github.com/logweir/logweir/internal/api/errors"
	"github.com/logweir/logweir/internal/buffer"
	"github.com/logweir/logweir/internal/models"
	"github.com/logweir/logweir/internal/quota"
)

// maxEventBytes bounds a single ingestion payload.
const maxEventBytes = 256 * 1024

// IngestHandler handles event ingestion. It holds no state of its own; any
// number of gateway instances may run concurrently, with all quota
// consistency living in the coordinator.
type IngestHandler struct {
	buffer       *buffer.Buffer
	checker      quota.Checker
	checkTimeout time.Duration
	failOpen     bool
	parsers      fastjson.ParserPool
	logger       *slog.Logger
}

// NewIngestHandler creates an ingest handler.
func NewIngestHandler(buf *buffer.Buffer, checker quota.Checker, checkTimeout time.Duration, failOpen bool, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{
		buffer:       buf,
		checker:      checker,
		checkTimeout: checkTimeout,
		failOpen:     failOpen,
		logger:       logger,
	}
}

// ingestRequest is the POST /log body.
type ingestRequest struct {
	TraceID   string         `json:"trace_id"`
	UserID    string         `json:"user_id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	System    string         `json:"system"`
	Timestamp int64          `json:"timestamp"`
	Stack     string         `json:"stack"`
	Context   map[string]any `json:"context"`
}

// ingestResponse is the POST /log response for both outcomes.
type ingestResponse struct {
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	RemainingQuota *int   `json:"remaining_quota,omitempty"`
}

// Ingest handles POST /log. Validation happens before any quota check; the
// quota check happens before any buffer write.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes+1))
	if err != nil {
		writeIngestError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	if len(body) > maxEventBytes {
		writeIngestError(w, http.StatusBadRequest, "payload too large")
		return
	}

	if msg, ok := h.validate(body); !ok {
		writeIngestError(w, http.StatusBadRequest, msg)
		return
	}

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeIngestError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	decision := h.checkQuota(r.Context(), models.System(req.System), req.TraceID)
	if !decision.Allowed {
		remaining := decision.RemainingQuota
		apierrors.WriteJSON(w, http.StatusTooManyRequests, ingestResponse{
			Success:        false,
			Error:          decision.Reason,
			RemainingQuota: &remaining,
		})
		return
	}

	event := &models.LogEvent{
		ID:         uuid.New().String(),
		TraceID:    req.TraceID,
		UserID:     req.UserID,
		Level:      models.Level(req.Level),
		Message:    req.Message,
		System:     models.System(req.System),
		Timestamp:  req.Timestamp,
		Context:    req.Context,
		Stack:      req.Stack,
		ReceivedAt: time.Now().UTC(),
	}
	if event.Timestamp == 0 {
		event.Timestamp = event.ReceivedAt.UnixMilli()
	}

	if _, err := h.buffer.Put(event); err != nil {
		// A transient buffer failure must fail the accept rather than
		// silently drop, so the producer's retry logic is informed.
		h.logger.Error("buffer write failed", "error", err)
		writeIngestError(w, http.StatusServiceUnavailable, "buffer unavailable")
		return
	}

	apierrors.WriteJSON(w, http.StatusOK, ingestResponse{Success: true})
}

// validate checks required fields and enums with a pooled fastjson parser,
// before the full decode. trace_id may be absent only because system-level
// logs without one are still storable; they just never correlate.
func (h *IngestHandler) validate(body []byte) (string, bool) {
	parser := h.parsers.Get()
	defer h.parsers.Put(parser)

	v, err := parser.ParseBytes(body)
	if err != nil {
		return "malformed JSON body", false
	}
	if v.Type() != fastjson.TypeObject {
		return "body must be a JSON object", false
	}

	message := v.GetStringBytes("message")
	if len(message) == 0 {
		return "message is required", false
	}

	level := models.Level(v.GetStringBytes("level"))
	if !level.Valid() {
		return "level must be one of debug, info, warn, error", false
	}

	system := models.System(v.GetStringBytes("system"))
	if !system.Valid() {
		return "system must be one of client, edge, backend", false
	}

	if ctxVal := v.Get("context"); ctxVal != nil && ctxVal.Type() != fastjson.TypeObject {
		return "context must be an object", false
	}

	return "", true
}

// checkQuota consults the coordinator with a bounded timeout. An error from
// an in-process coordinator resolves through the same fail policy the HTTP
// client applies for remote ones.
func (h *IngestHandler) checkQuota(ctx context.Context, system models.System, traceID string) *models.Decision {
	ctx, cancel := context.WithTimeout(ctx, h.checkTimeout)
	defer cancel()

	decision, err := h.checker.Check(ctx, system, traceID)
	if err != nil {
		if h.failOpen {
			h.logger.Warn("quota check failed, accepting (fail open)", "error", err)
			return &models.Decision{Allowed: true, RemainingQuota: -1}
		}
		h.logger.Warn("quota check failed, denying (fail closed)", "error", err)
		return &models.Decision{Allowed: false, Reason: "quota check unavailable"}
	}
	return decision
}

func writeIngestError(w http.ResponseWriter, status int, msg string) {
	apierrors.WriteJSON(w, status, ingestResponse{Success: false, Error: msg})
}
