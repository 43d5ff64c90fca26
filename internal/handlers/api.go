package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/common"
	"github.com/ternarybob/campussync/internal/services/scheduler"
)

// RefreshStatusProvider exposes the refresh scheduler's state
type RefreshStatusProvider interface {
	GetStatus() scheduler.Status
}

type APIHandler struct {
	refresh RefreshStatusProvider
	logger  arbor.ILogger
}

// NewAPIHandler creates the health/version handler. refresh may be nil when the sweep is disabled.
func NewAPIHandler(refresh RefreshStatusProvider, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		refresh: refresh,
		logger:  logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, common.GetVersionInfo())
}

// HealthHandler returns health check status
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	body := map[string]interface{}{
		"status":           "ok",
		"background_tasks": common.GetGoroutineCount(),
	}
	if h.refresh != nil {
		body["refresh"] = h.refresh.GetStatus()
	}
	WriteJSON(w, http.StatusOK, body)
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
