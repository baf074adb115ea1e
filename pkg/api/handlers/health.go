// Package handlers provides HTTP request handlers.
package handlers

import (
	"net/http"

	"github.com/docsieve/docsieve/pkg/api/response"
	"github.com/docsieve/docsieve/pkg/bus"
	"github.com/docsieve/docsieve/pkg/version"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	bus *bus.BusSystem
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(b *bus.BusSystem) *HealthHandler {
	return &HealthHandler{bus: b}
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe). The service is ready
// once the bus is constructed and serving.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		response.JSON(w, http.StatusServiceUnavailable, map[string]bool{
			"ready": false,
		})
		return
	}
	response.JSON(w, http.StatusOK, map[string]bool{
		"ready": true,
	})
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"version": version.Info(),
	}
	if h.bus != nil {
		status["bus"] = h.bus.Snapshot(r.Context())
	}
	response.JSON(w, http.StatusOK, status)
}
