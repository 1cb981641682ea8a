// Package api exposes run history and background reconciliation jobs
// over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eshaffer321/ledger-reconciler/internal/api/handlers"
	"github.com/eshaffer321/ledger-reconciler/internal/api/middleware"
	"github.com/eshaffer321/ledger-reconciler/internal/application/service"
	"github.com/eshaffer321/ledger-reconciler/internal/infrastructure/storage"
)

// Config holds API server configuration.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// DefaultConfig returns defaults for the API server.
func DefaultConfig() Config {
	return Config{
		Port:           8085,
		AllowedOrigins: middleware.DefaultCORSConfig().AllowedOrigins,
	}
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
	repo       storage.Repository
	service    *service.ReconcileService
}

// NewServer creates a new API server.
// If svc is nil, the job endpoints are not mounted.
func NewServer(cfg Config, repo storage.Repository, svc *service.ReconcileService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:  cfg,
		router:  chi.NewRouter(),
		logger:  logger,
		repo:    repo,
		service: svc,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	cors := middleware.DefaultCORSConfig()
	if len(s.config.AllowedOrigins) > 0 {
		cors.AllowedOrigins = s.config.AllowedOrigins
	}
	s.router.Use(middleware.CORS(cors))
	s.router.Use(middleware.Logging(s.logger))
}

func (s *Server) setupRoutes() {
	// No /api prefix: load balancers probe this.
	s.router.Get("/health", handlers.NewHealthHandler(s.service).ServeHTTP)

	s.router.Route("/api", func(r chi.Router) {
		runs := handlers.NewRunsHandler(s.repo)
		r.Get("/runs", runs.List)
		r.Get("/runs/{id}", runs.Get)
		r.Get("/runs/{id}/decisions", runs.Decisions)
		r.Get("/runs/{id}/skips", runs.Skips)
		r.Get("/runs/{id}/skips/summary", runs.SkipSummary)

		if s.service != nil {
			jobs := handlers.NewReconcileHandler(s.service)
			r.Post("/reconcile", jobs.Start)
			r.Get("/reconcile", jobs.List)
			r.Get("/reconcile/active", jobs.Active)
			r.Get("/reconcile/{jobId}", jobs.Get)
			r.Get("/reconcile/{jobId}/report.xlsx", jobs.Report)
			r.Delete("/reconcile/{jobId}", jobs.Cancel)
		}
	})
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}
