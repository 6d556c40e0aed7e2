package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/logweir/logweir/internal/api/errors"
	"github.com/logweir/logweir/internal/buffer"
	"github.com/logweir/logweir/internal/correlate"
	"github.com/logweir/logweir/internal/models"
	"github.com/logweir/logweir/internal/store"
)

// QueryHandler serves the read-side interface the dashboard consumes:
// timelines, event search and buffer statistics.
type QueryHandler struct {
	engine *correlate.Engine
	buffer *buffer.Buffer
	logger *slog.Logger
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(engine *correlate.Engine, buf *buffer.Buffer, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{engine: engine, buffer: buf, logger: logger}
}

// Timeline handles GET /traces/{trace_id}/timeline. An unknown trace yields
// an empty timeline with a 200, since "no data yet" is a normal outcome.
func (h *QueryHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "trace_id")
	if traceID == "" {
		apierrors.WriteError(w, apierrors.NewValidationError("trace_id is required"))
		return
	}

	timeline, err := h.engine.Timeline(r.Context(), traceID)
	if err != nil {
		h.logger.Error("timeline query failed", "trace_id", traceID, "error", err)
		apierrors.WriteError(w, apierrors.NewInternalError("Failed to assemble timeline"))
		return
	}

	apierrors.WriteJSON(w, http.StatusOK, timeline)
}

// Search handles GET /events with filter query parameters.
func (h *QueryHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.EventFilter{
		TraceID: q.Get("trace_id"),
		UserID:  q.Get("user_id"),
		System:  models.System(q.Get("system")),
		Level:   models.Level(q.Get("level")),
	}
	if filter.System != "" && !filter.System.Valid() {
		apierrors.WriteError(w, apierrors.NewValidationError("unknown system"))
		return
	}
	if filter.Level != "" && !filter.Level.Valid() {
		apierrors.WriteError(w, apierrors.NewValidationError("unknown level"))
		return
	}

	var err error
	if filter.Since, err = parseInt64(q.Get("since")); err != nil {
		apierrors.WriteError(w, apierrors.NewValidationError("since must be epoch milliseconds"))
		return
	}
	if filter.Until, err = parseInt64(q.Get("until")); err != nil {
		apierrors.WriteError(w, apierrors.NewValidationError("until must be epoch milliseconds"))
		return
	}
	limit, err := parseInt64(q.Get("limit"))
	if err != nil {
		apierrors.WriteError(w, apierrors.NewValidationError("limit must be an integer"))
		return
	}
	filter.Limit = int(limit)

	events, err := h.engine.Search(r.Context(), filter)
	if err != nil {
		h.logger.Error("event search failed", "error", err)
		apierrors.WriteError(w, apierrors.NewInternalError("Failed to search events"))
		return
	}

	apierrors.WriteJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// BufferStats handles GET /buffer/stats.
func (h *QueryHandler) BufferStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.buffer.Stats()
	if err != nil {
		h.logger.Error("buffer stats failed", "error", err)
		apierrors.WriteError(w, apierrors.NewInternalError("Failed to read buffer stats"))
		return
	}
	apierrors.WriteJSON(w, http.StatusOK, stats)
}

func parseInt64(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
