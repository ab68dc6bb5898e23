package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pvbaptista/orcaparse/internal/config"
	"github.com/pvbaptista/orcaparse/internal/pipeline"
	"github.com/pvbaptista/orcaparse/internal/rules"
)

// Server is the HTTP API server for orcaparse.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	rules        rules.Registry
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, reg rules.Registry, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		rules:        reg,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/parse", s.handleParse)
		r.Post("/api/parse/export", s.handleParseExport)
		r.Post("/api/parse/batch", s.handleBatchParse)
		r.Get("/api/parse/{jobID}/status", s.handleParseStatus)
		r.Get("/api/parse/{jobID}/export", s.handleJobExport)

		r.Get("/api/sources", s.handleSources)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
