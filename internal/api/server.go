package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/riskplan/internal/config"
	rpnats "github.com/QTest-hq/riskplan/internal/nats"
	"github.com/QTest-hq/riskplan/internal/planner"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// Check is a named readiness probe
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// RescorePublisher enqueues batch rescoring jobs
type RescorePublisher interface {
	PublishRescore(ctx context.Context, job rpnats.RescoreJob) error
}

// Server represents the API server
type Server struct {
	cfg      *config.Config
	planner  *planner.Planner
	rescorer RescorePublisher
	checks   []Check
	router   *chi.Mux
}

// Option configures a Server
type Option func(*Server)

// WithChecks adds readiness probes
func WithChecks(checks ...Check) Option {
	return func(s *Server) { s.checks = append(s.checks, checks...) }
}

// WithRescorer enables the rescoring job endpoint
func WithRescorer(r RescorePublisher) Option {
	return func(s *Server) { s.rescorer = r }
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, p *planner.Planner, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		planner: p,
		router:  chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Router returns the HTTP router
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	timeout := 60 * time.Second
	if s.cfg != nil && s.cfg.ReasoningTimeout > 0 {
		// a generate request makes up to three sequential reasoning calls
		timeout = 3*s.cfg.ReasoningTimeout + 10*time.Second
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(corsMiddleware)
	s.router.Use(middleware.Timeout(timeout))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/generate", s.generate)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Delete("/", s.evictSession)
				r.Post("/generate", s.generate)
				r.Post("/filter", s.filter)
				r.Post("/add", s.addTestCases)
				r.Post("/remove", s.removeTestCases)
				r.Post("/save", s.save)
				r.Post("/discard", s.discard)
				r.Get("/plan", s.getPlan)
				r.Get("/versions", s.listVersions)
				r.Get("/versions/{number}", s.getVersion)
			})
		})

		r.Post("/tools/{op}", s.normalizeTool)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/rescore", s.createRescoreJob)
		})
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for _, c := range s.checks {
		if err := c.Fn(r.Context()); err != nil {
			log.Warn().Err(err).Str("check", c.Name).Msg("readiness check failed")
			failed[c.Name] = "unavailable"
		}
	}
	if len(failed) > 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "checks": failed})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
