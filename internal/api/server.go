package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamgift/kestrel/internal/domain"
	"github.com/streamgift/kestrel/internal/evaluator"
	"github.com/streamgift/kestrel/internal/metrics"
	"github.com/streamgift/kestrel/internal/reviewer"
	"github.com/streamgift/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, store domain.Store, cache domain.Cache, bus domain.EventBus, eval *evaluator.Evaluator, rev *reviewer.Reviewer, engine *rules.Engine, m *metrics.Metrics, version string) *Server {
	handler := NewHandler(store, cache, bus, eval, rev, engine, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(CORS)
	router.Use(Recover)
	router.Use(Tracing)
	router.Use(RequestLogger)
	router.Use(middleware.Compress(5))

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	if m != nil {
		router.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}

	// Transaction evaluation
	router.Post("/evaluate", handler.Evaluate)
	router.Get("/transactions/{id}", handler.GetTransaction)

	// User risk state
	router.Get("/users/{id}/risk", handler.GetUserRisk)

	// Session review
	router.Post("/sessions/{id}/review", handler.ReviewSession)
	router.Get("/sessions/{id}/stats", handler.GetSessionStats)

	// Rule management
	router.Get("/rules", handler.ListRules)
	router.Get("/rules/{id}", handler.GetRule)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/reload", handler.ReloadRules)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
