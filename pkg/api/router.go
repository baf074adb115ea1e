// Package api provides HTTP API server components.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/docsieve/docsieve/config"
	"github.com/docsieve/docsieve/pkg/api/handlers"
	"github.com/docsieve/docsieve/pkg/api/middleware"
	"github.com/docsieve/docsieve/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Bus handles signal publish and bus inspection endpoints
	Bus *handlers.BusHandler

	// Contracts handles contract registry endpoints
	Contracts *handlers.ContractHandler

	// DeadLetters handles dead-letter store endpoints
	DeadLetters *handlers.DeadLetterHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// Events handles the websocket event stream
	Events *handlers.WebSocketHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder

	// MetricsHandler optionally serves /metrics on the API port
	MetricsHandler http.Handler
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	// Register global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	// Add metrics middleware if provided
	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}

	if cfg.Tracing.Enabled {
		r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	}

	r.Use(middleware.CORS(&cfg.Server.CORS))
	r.Use(middleware.Timeout(cfg.Server.HTTP.ReadTimeout))

	// Register routes
	RegisterRoutes(r, handlers)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, handlers *Handlers) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Signal publish
		if handlers.Bus != nil {
			r.Post("/signals", handlers.Bus.Publish)

			r.Route("/bus", func(r chi.Router) {
				r.Get("/stats", handlers.Bus.Stats)
				r.Get("/channels", handlers.Bus.Channels)
				r.Get("/channels/{name}/history", handlers.Bus.ChannelHistory)
				r.Get("/consumers", handlers.Bus.Consumers)
				r.Get("/consumers/{id}", handlers.Bus.Consumer)
			})
		}

		// Contract registry routes
		if handlers.Contracts != nil {
			r.Route("/contracts", func(r chi.Router) {
				r.Post("/publishers", handlers.Contracts.RegisterPublisher)
				r.Get("/publishers", handlers.Contracts.ListPublishers)
				r.Post("/publishers/{id}/revoke", handlers.Contracts.RevokePublisher)
				r.Post("/publishers/{id}/suspend", handlers.Contracts.SuspendPublisher)
				r.Post("/consumers", handlers.Contracts.RegisterConsumer)
				r.Get("/consumers", handlers.Contracts.ListConsumers)
				r.Delete("/consumers/{id}", handlers.Contracts.RemoveConsumer)
			})
		}

		// Dead-letter store routes
		if handlers.DeadLetters != nil {
			r.Route("/deadletters", func(r chi.Router) {
				r.Get("/", handlers.DeadLetters.List)
				r.Get("/{id}", handlers.DeadLetters.Get)
				r.Post("/replay", handlers.DeadLetters.Replay)
				r.Delete("/", handlers.DeadLetters.Purge)
			})
		}
	})

	// Health check routes (not versioned)
	if handlers.Health != nil {
		r.Get("/health", handlers.Health.Health)
		r.Get("/ready", handlers.Health.Ready)
		r.Get("/status", handlers.Health.Status)
	}

	// Live bus event stream
	if handlers.Events != nil {
		r.Get("/ws/events", handlers.Events.ServeHTTP)
	}

	// Prometheus scrape endpoint when co-hosted on the API port
	if handlers.MetricsHandler != nil {
		r.Handle("/metrics", handlers.MetricsHandler)
	}
}
