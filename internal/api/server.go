package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fraudguard-io/fraudguard/internal/domain"
	"github.com/fraudguard-io/fraudguard/internal/scoring"
	"github.com/fraudguard-io/fraudguard/internal/stats"
	"github.com/fraudguard-io/fraudguard/internal/workflow"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, wf *workflow.Service, statsSvc *stats.Service, engine *scoring.Engine, repo domain.Repository, cache domain.Cache, version string, asyncStages bool) *Server {
	handler := NewHandler(wf, statsSvc, engine, repo, cache, version, asyncStages)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Batch workflow
	router.Post("/batches", handler.CreateBatch)
	router.Post("/batches/import", handler.ImportBatch)
	router.Get("/batches", handler.ListBatches)
	router.Get("/batches/{id}", handler.GetBatch)
	router.Post("/batches/{id}/steps/{step}", handler.RunStep)

	// Batch results
	router.Get("/batches/{id}/assessments", handler.Assessments)
	router.Get("/batches/{id}/groups", handler.Groups)
	router.Get("/batches/{id}/export", handler.Export)

	// Cross-batch statistics
	router.Get("/stats", handler.Stats)

	// Scoring expression management
	router.Get("/scoring", handler.GetScoring)
	router.Put("/scoring", handler.UpdateScoring)

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
