package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/docsieve/docsieve/pkg/api/response"
	"github.com/docsieve/docsieve/pkg/bus"
	"github.com/docsieve/docsieve/pkg/logger"
	"github.com/docsieve/docsieve/pkg/signal"
)

// PublishRequest is the payload for publishing a signal through the admin
// API.
type PublishRequest struct {
	Type       string          `json:"type" validate:"required"`
	Channel    string          `json:"channel" validate:"required"`
	Source     string          `json:"source" validate:"required"`
	Phase      string          `json:"phase"`
	Scopes     []string        `json:"scopes"`
	Value      json.RawMessage `json:"value"`
	Confidence float64         `json:"confidence" validate:"min=0,max=1"`
	Rationale  string          `json:"rationale"`
	Priority   string          `json:"priority"`
}

// BusHandler handles bus inspection and publish endpoints.
type BusHandler struct {
	bus       *bus.BusSystem
	logger    logger.Logger
	validator *validator.Validate
}

// NewBusHandler creates a new bus handler.
func NewBusHandler(b *bus.BusSystem, log logger.Logger) *BusHandler {
	return &BusHandler{
		bus:       b,
		logger:    log,
		validator: validator.New(),
	}
}

// Publish handles POST /api/v1/signals
func (h *BusHandler) Publish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", getRequestID(ctx))
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(ctx))
		return
	}
	if _, err := h.bus.Channel(req.Channel); err != nil {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "Channel not found", getRequestID(ctx))
		return
	}

	sig := &signal.Signal{
		Type:    signal.Type(req.Type),
		Channel: req.Channel,
		Source:  req.Source,
		Context: signal.Context{
			Phase:  req.Phase,
			Scopes: req.Scopes,
		},
		Value:      req.Value,
		Confidence: req.Confidence,
		Rationale:  req.Rationale,
		Priority:   signal.ParsePriority(req.Priority),
	}

	result, err := h.bus.Publish(ctx, sig)
	if err != nil {
		if bus.IsBusClosedError(err) {
			response.Error(w, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable, err.Error(), getRequestID(ctx))
			return
		}
		h.logger.Error("Publish failed", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Publish failed", getRequestID(ctx))
		return
	}

	status := http.StatusAccepted
	if !result.Accepted {
		// Gate rejections are structured outcomes, not transport errors.
		status = http.StatusUnprocessableEntity
	}
	response.JSON(w, status, result)
}

// Stats handles GET /api/v1/bus/stats
func (h *BusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.bus.Snapshot(r.Context()))
}

// Channels handles GET /api/v1/bus/channels
func (h *BusHandler) Channels(w http.ResponseWriter, r *http.Request) {
	snapshot := h.bus.Snapshot(r.Context())
	response.JSON(w, http.StatusOK, map[string]any{
		"channels": snapshot.Channels,
	})
}

// ChannelHistory handles GET /api/v1/bus/channels/{name}/history
func (h *BusHandler) ChannelHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	ch, err := h.bus.Channel(name)
	if err != nil {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "Channel not found", getRequestID(ctx))
		return
	}

	history := ch.History()
	response.JSON(w, http.StatusOK, map[string]any{
		"channel": name,
		"history": history,
		"count":   len(history),
	})
}

// Consumers handles GET /api/v1/bus/consumers
func (h *BusHandler) Consumers(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"consumers": h.bus.Health().Snapshot(),
	})
}

// Consumer handles GET /api/v1/bus/consumers/{id}
func (h *BusHandler) Consumer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	health, ok := h.bus.Health().Consumer(id)
	if !ok {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "Consumer not found", getRequestID(ctx))
		return
	}
	response.JSON(w, http.StatusOK, health)
}
