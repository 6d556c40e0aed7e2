package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apierrors "github.com/logweir/logweir/internal/api/errors"
	"github.com/logweir/logweir/internal/models"
	"github.com/logweir/logweir/internal/quota"
)

// QuotaHandler serves the coordinator control surface.
type QuotaHandler struct {
	coordinator *quota.Coordinator
	logger      *slog.Logger
}

// NewQuotaHandler creates a quota handler.
func NewQuotaHandler(coordinator *quota.Coordinator, logger *slog.Logger) *QuotaHandler {
	return &QuotaHandler{coordinator: coordinator, logger: logger}
}

type checkRequest struct {
	System  string `json:"system"`
	TraceID string `json:"trace_id"`
}

// Check handles POST /check.
func (h *QuotaHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.NewValidationError("malformed JSON body"))
		return
	}

	system := models.System(req.System)
	if !system.Valid() {
		apierrors.WriteError(w, apierrors.NewValidationError("system must be one of client, edge, backend"))
		return
	}

	decision, err := h.coordinator.Check(r.Context(), system, req.TraceID)
	if err != nil {
		h.logger.Error("quota check failed", "error", err)
		apierrors.WriteError(w, apierrors.NewInternalError("Quota check failed"))
		return
	}

	apierrors.WriteJSON(w, http.StatusOK, decision)
}

// Reset handles POST /reset.
func (h *QuotaHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.coordinator.Reset(r.Context()); err != nil {
		h.logger.Error("quota reset failed", "error", err)
		apierrors.WriteError(w, apierrors.NewInternalError("Quota reset failed"))
		return
	}

	h.logger.Info("quota window reset by operator")
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{"reset": true})
}

// Status handles GET /status.
func (h *QuotaHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.coordinator.Status(r.Context())
	if err != nil {
		h.logger.Error("quota status failed", "error", err)
		apierrors.WriteError(w, apierrors.NewInternalError("Quota status failed"))
		return
	}

	apierrors.WriteJSON(w, http.StatusOK, status)
}
