// Package server hosts the webxuker HTTP listener and its middleware chain.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server wraps a chi router and the http.Server listening on Addr.
type Server struct {
	Router *chi.Mux
	Addr   string
	logger *slog.Logger
	http   *http.Server
}

// New creates a server with request ids, request logging, panic recovery
// and OpenTelemetry instrumentation installed. Handlers that need a deadline
// add TimeoutMiddleware themselves: deployments run without one.
func New(addr string, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "webxuker")
	})

	return &Server{
		Router: r,
		Addr:   addr,
		logger: logger,
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start listens on Addr and blocks until the server stops.
// A server stopped by Shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.String("addr", s.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
