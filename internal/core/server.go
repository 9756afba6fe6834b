// Package core provides the HTTP chassis for the monetization pipeline
// service. It owns the chi router and the cross-cutting middleware chain
// (panic recovery, request correlation, logging, job authentication) applied
// before requests reach the job and webhook handlers.
package core

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cliphost/internal/config"
)

// Server encapsulates the router and cross-cutting dependencies, allowing
// injection during testing and distinct configuration per environment.
type Server struct {
	Config *config.Config
	Logger *slog.Logger

	router *chi.Mux
}

// RouteRegistrar registers a handler group on the v1 router. Populated by the
// application entry point; the indirection avoids import cycles between core
// and handler packages.
type RouteRegistrar func(r chi.Router)

// NewServer initializes the server chassis. The caller is responsible for
// mounting routes after construction.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// MountRoutes registers the global middleware chain, the health endpoint, and
// the v1 route groups supplied by the entry point.
//
// Middleware order matters: Recoverer is outermost so it catches panics from
// everything below; RequestID runs before the logger so log lines carry the
// correlation ID.
func (s *Server) MountRoutes(registrars ...RouteRegistrar) {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Get("/health", s.HandleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		for _, registrar := range registrars {
			registrar(r)
		}
	})
}

// HandleHealth is an unauthenticated liveness probe.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": s.Config.Service,
	})
}
