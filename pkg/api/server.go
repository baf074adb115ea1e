// Package api assembles the admin HTTP surface: router, middleware chain and
// server lifecycle.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/docsieve/docsieve/config"
	"github.com/docsieve/docsieve/pkg/logger"
)

// Server is the lifecycle contract main drives: Start blocks until the
// listener closes, Shutdown drains in-flight requests.
type Server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// HTTPServer serves the admin API and the websocket event stream.
type HTTPServer struct {
	srv *http.Server
	log logger.Logger
}

// NewHTTPServer builds the server with the full middleware chain and routes.
func NewHTTPServer(cfg *config.Config, log logger.Logger, handlers *Handlers) *HTTPServer {
	httpCfg := cfg.Server.HTTP
	srv := &http.Server{
		Addr:           net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:        NewRouter(cfg, log, handlers),
		ReadTimeout:    httpCfg.ReadTimeout,
		WriteTimeout:   httpCfg.WriteTimeout,
		IdleTimeout:    httpCfg.IdleTimeout,
		MaxHeaderBytes: httpCfg.MaxHeaderBytes,
	}

	return &HTTPServer{
		srv: srv,
		log: log.With("component", "http"),
	}
}

// Start listens and serves until Shutdown is called or the listener fails.
// A clean close is not an error.
func (s *HTTPServer) Start() error {
	s.log.Info("admin api listening", "addr", s.srv.Addr)

	err := s.srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin api serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests up
// to the context deadline.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.log.Info("admin api shutting down")

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin api shutdown: %w", err)
	}
	s.log.Info("admin api stopped")
	return nil
}
