package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-survey/kestrel/internal/domain"
	"github.com/opensource-survey/kestrel/internal/thresholds"
	"github.com/opensource-survey/kestrel/internal/worker"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, store *thresholds.Store, processor *worker.Worker, version string) *Server {
	handler := NewHandler(repo, cache, bus, store, processor, version)
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

	router.Route("/api/v1", func(r chi.Router) {
		// Submission ingestion and evaluation
		r.Post("/submissions", handler.IngestSubmission)
		r.Get("/submissions/{id}", handler.GetSubmission)
		r.Post("/submissions/{id}/evaluate", handler.EvaluateSubmission)
		r.Get("/submissions/{id}/detection", handler.GetDetectionBySubmission)

		// Detection retrieval
		r.Get("/detections/{id}", handler.GetDetection)

		// Questionnaire forms
		r.Post("/forms", handler.CreateForm)
		r.Get("/forms/{id}", handler.GetForm)

		// Threshold administration
		r.Get("/thresholds", handler.ListThresholds)
		r.Put("/thresholds/{ruleKey}", handler.UpdateThreshold)
	})

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
