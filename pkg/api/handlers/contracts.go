package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/docsieve/docsieve/pkg/api/middleware"
	"github.com/docsieve/docsieve/pkg/api/response"
	"github.com/docsieve/docsieve/pkg/bus"
	"github.com/docsieve/docsieve/pkg/logger"
	"github.com/docsieve/docsieve/pkg/signal"
)

// PublisherContractRequest is the payload for registering a publication
// contract.
type PublisherContractRequest struct {
	PublisherID     string   `json:"publisher_id" validate:"required"`
	AllowedTypes    []string `json:"allowed_types" validate:"required,min=1"`
	AllowedChannels []string `json:"allowed_channels" validate:"required,min=1"`
}

// ConsumerContractRequest is the payload for registering a consumption
// contract.
type ConsumerContractRequest struct {
	ConsumerID    string   `json:"consumer_id" validate:"required"`
	Channels      []string `json:"channels" validate:"required,min=1"`
	AcceptedTypes []string `json:"accepted_types" validate:"required,min=1"`
	Capabilities  []string `json:"capabilities"`
}

// ContractHandler handles contract registry endpoints.
type ContractHandler struct {
	bus       *bus.BusSystem
	logger    logger.Logger
	validator *validator.Validate
}

// NewContractHandler creates a new contract handler.
func NewContractHandler(b *bus.BusSystem, log logger.Logger) *ContractHandler {
	return &ContractHandler{
		bus:       b,
		logger:    log,
		validator: validator.New(),
	}
}

// RegisterPublisher handles POST /api/v1/contracts/publishers
func (h *ContractHandler) RegisterPublisher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PublisherContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", "error", err)
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", getRequestID(ctx))
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(ctx))
		return
	}

	types := make([]signal.Type, 0, len(req.AllowedTypes))
	for _, t := range req.AllowedTypes {
		types = append(types, signal.Type(t))
	}
	contract := &signal.PublicationContract{
		PublisherID:     req.PublisherID,
		AllowedTypes:    types,
		AllowedChannels: req.AllowedChannels,
	}
	if err := h.bus.Registry().RegisterPublisher(contract); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(ctx))
		return
	}

	h.logger.Info("publisher contract registered", "publisher", req.PublisherID)
	response.JSON(w, http.StatusCreated, map[string]string{
		"publisher_id": req.PublisherID,
		"status":       string(signal.StatusActive),
	})
}

// ListPublishers handles GET /api/v1/contracts/publishers
func (h *ContractHandler) ListPublishers(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"publishers": h.bus.Registry().ListPublishers(),
	})
}

// RevokePublisher handles POST /api/v1/contracts/publishers/{id}/revoke
func (h *ContractHandler) RevokePublisher(w http.ResponseWriter, r *http.Request) {
	h.setPublisherStatus(w, r, "revoke")
}

// SuspendPublisher handles POST /api/v1/contracts/publishers/{id}/suspend
func (h *ContractHandler) SuspendPublisher(w http.ResponseWriter, r *http.Request) {
	h.setPublisherStatus(w, r, "suspend")
}

func (h *ContractHandler) setPublisherStatus(w http.ResponseWriter, r *http.Request, action string) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if id == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Publisher ID is required", getRequestID(ctx))
		return
	}

	var err error
	var status signal.ContractStatus
	switch action {
	case "revoke":
		err = h.bus.Registry().RevokePublisher(id)
		status = signal.StatusRevoked
	case "suspend":
		err = h.bus.Registry().SuspendPublisher(id)
		status = signal.StatusSuspended
	}
	if err != nil {
		if bus.IsContractNotFoundError(err) {
			response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "Publisher contract not found", getRequestID(ctx))
			return
		}
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, err.Error(), getRequestID(ctx))
		return
	}

	h.logger.Info("publisher contract status changed", "publisher", id, "status", string(status))
	response.JSON(w, http.StatusOK, map[string]string{
		"publisher_id": id,
		"status":       string(status),
	})
}

// RegisterConsumer handles POST /api/v1/contracts/consumers
func (h *ContractHandler) RegisterConsumer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ConsumerContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", "error", err)
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", getRequestID(ctx))
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(ctx))
		return
	}

	types := make([]signal.Type, 0, len(req.AcceptedTypes))
	for _, t := range req.AcceptedTypes {
		types = append(types, signal.Type(t))
	}
	contract := &signal.ConsumptionContract{
		ConsumerID:    req.ConsumerID,
		Channels:      req.Channels,
		AcceptedTypes: types,
		Capabilities:  req.Capabilities,
	}
	if err := h.bus.Registry().RegisterConsumer(contract); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(ctx))
		return
	}

	h.logger.Info("consumer contract registered", "consumer", req.ConsumerID)
	response.JSON(w, http.StatusCreated, map[string]string{
		"consumer_id": req.ConsumerID,
	})
}

// ListConsumers handles GET /api/v1/contracts/consumers
func (h *ContractHandler) ListConsumers(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"consumers": h.bus.Registry().ListConsumers(),
	})
}

// RemoveConsumer handles DELETE /api/v1/contracts/consumers/{id}
func (h *ContractHandler) RemoveConsumer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if id == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Consumer ID is required", getRequestID(ctx))
		return
	}

	if err := h.bus.Registry().RemoveConsumer(id); err != nil {
		if bus.IsContractNotFoundError(err) {
			response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "Consumer contract not found", getRequestID(ctx))
			return
		}
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, err.Error(), getRequestID(ctx))
		return
	}

	h.logger.Info("consumer contract removed", "consumer", id)
	w.WriteHeader(http.StatusNoContent)
}

// getRequestID retrieves the request ID from the request context.
func getRequestID(ctx context.Context) string {
	return middleware.GetRequestID(ctx)
}
