package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/docsieve/docsieve/pkg/api/response"
	"github.com/docsieve/docsieve/pkg/bus"
	"github.com/docsieve/docsieve/pkg/deadletter"
	"github.com/docsieve/docsieve/pkg/logger"
	"github.com/docsieve/docsieve/pkg/signal"
)

const defaultDeadLetterLimit = 100

// ReplayRequest is the payload for replaying dead-lettered signals.
type ReplayRequest struct {
	SignalIDs []string `json:"signal_ids"`
}

// DeadLetterHandler handles dead-letter store endpoints.
type DeadLetterHandler struct {
	bus    *bus.BusSystem
	logger logger.Logger
}

// NewDeadLetterHandler creates a new dead-letter handler.
func NewDeadLetterHandler(b *bus.BusSystem, log logger.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{bus: b, logger: log}
}

// List handles GET /api/v1/deadletters
func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := &deadletter.Filter{
		Channel: q.Get("channel"),
		Source:  q.Get("source"),
		Limit:   defaultDeadLetterLimit,
	}
	if reason := q.Get("reason"); reason != "" {
		rc := signal.ReasonCode(reason)
		if !rc.Valid() {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Unknown reason code", getRequestID(ctx))
			return
		}
		filter.Reason = rc
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "since must be RFC3339", getRequestID(ctx))
			return
		}
		filter.Since = t
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}

	entries, err := h.bus.DeadLetters(ctx, filter)
	if err != nil {
		h.logger.Error("Failed to list dead letters", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to list dead letters", getRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// Get handles GET /api/v1/deadletters/{id}
func (h *DeadLetterHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	entries, err := h.bus.DeadLetters(ctx, nil)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to read dead letters", getRequestID(ctx))
		return
	}
	for _, e := range entries {
		if e.Signal != nil && e.Signal.ID == id {
			response.JSON(w, http.StatusOK, e)
			return
		}
	}
	response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "Dead letter entry not found", getRequestID(ctx))
}

// Replay handles POST /api/v1/deadletters/replay
func (h *DeadLetterHandler) Replay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ReplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", getRequestID(ctx))
		return
	}
	if len(req.SignalIDs) == 0 {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, "signal_ids is required", getRequestID(ctx))
		return
	}

	results, err := h.bus.Replay(ctx, req.SignalIDs)
	if err != nil {
		h.logger.Error("Replay failed", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Replay failed", getRequestID(ctx))
		return
	}

	accepted := 0
	for _, res := range results {
		if res.Accepted {
			accepted++
		}
	}
	h.logger.Info("dead letters replayed", "requested", len(req.SignalIDs), "accepted", accepted)
	response.JSON(w, http.StatusOK, map[string]any{
		"results":  results,
		"accepted": accepted,
	})
}

// Purge handles DELETE /api/v1/deadletters
func (h *DeadLetterHandler) Purge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cutoff := time.Now()
	if olderThan := r.URL.Query().Get("older_than"); olderThan != "" {
		t, err := time.Parse(time.RFC3339, olderThan)
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "older_than must be RFC3339", getRequestID(ctx))
			return
		}
		cutoff = t
	}

	removed, err := h.bus.PurgeDeadLetters(ctx, cutoff)
	if err != nil {
		h.logger.Error("Purge failed", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Purge failed", getRequestID(ctx))
		return
	}

	h.logger.Info("dead letters purged", "removed", removed)
	response.JSON(w, http.StatusOK, map[string]int{"removed": removed})
}
