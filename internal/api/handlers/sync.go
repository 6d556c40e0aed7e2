package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/logweir/logweir/internal/api/errors"
	"github.com/logweir/logweir/internal/buffer"
	"github.com/logweir/logweir/internal/syncer"
)

// SyncHandler serves the operator sync surface. The buffer lives inside the
// gateway process, so sync runs here and the CLI drives it over HTTP.
type SyncHandler struct {
	syncer *syncer.Syncer
	buffer *buffer.Buffer
	logger *slog.Logger
}

// NewSyncHandler creates a sync handler.
func NewSyncHandler(s *syncer.Syncer, buf *buffer.Buffer, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{syncer: s, buffer: buf, logger: logger}
}

// SyncAll handles POST /admin/sync/all.
func (h *SyncHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.SyncAll(r.Context())
	h.writeResult(w, result, err)
}

// SyncByTrace handles POST /admin/sync/trace/{trace_id}.
func (h *SyncHandler) SyncByTrace(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "trace_id")
	if traceID == "" {
		apierrors.WriteError(w, apierrors.NewValidationError("trace_id is required"))
		return
	}
	result, err := h.syncer.SyncByTrace(r.Context(), traceID)
	h.writeResult(w, result, err)
}

// SyncByUser handles POST /admin/sync/user/{user_id}.
func (h *SyncHandler) SyncByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		apierrors.WriteError(w, apierrors.NewValidationError("user_id is required"))
		return
	}
	result, err := h.syncer.SyncByUser(r.Context(), userID)
	h.writeResult(w, result, err)
}

// ClearAndSync handles POST /admin/sync/clear-and-sync.
func (h *SyncHandler) ClearAndSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.ClearAndSync(r.Context())
	h.writeResult(w, result, err)
}

// ClearBuffer handles POST /admin/buffer/clear.
func (h *SyncHandler) ClearBuffer(w http.ResponseWriter, r *http.Request) {
	if err := h.buffer.Clear(); err != nil {
		h.logger.Error("buffer clear failed", "error", err)
		apierrors.WriteError(w, apierrors.NewInternalError("Failed to clear buffer"))
		return
	}
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

// writeResult writes a sync result, distinguishing a failed batch from a
// batch that completed with per-item errors: the latter is still a 200.
func (h *SyncHandler) writeResult(w http.ResponseWriter, result *syncer.Result, err error) {
	if err != nil {
		h.logger.Error("sync failed", "error", err)
		apierrors.WriteError(w, apierrors.NewInternalError("Sync failed"))
		return
	}
	apierrors.WriteJSON(w, http.StatusOK, result)
}
