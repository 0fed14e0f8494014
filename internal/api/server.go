// Package api provides the HTTP server for vpcsim: the latest cycle's
// decisions, the rolling log, persisted history, the active policy and
// Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/vpcsim/internal/app/cycle"
	"github.com/tutu-network/vpcsim/internal/domain"
	"github.com/tutu-network/vpcsim/internal/health"
)

// Engine is the part of *cycle.Engine the API reads and triggers.
type Engine interface {
	Latest() *cycle.Report
	Log(n int) []string
	State() *domain.SessionState
	Policy() domain.Policy
	Cycles() int
	Step(ctx context.Context) (*cycle.Report, error)
}

// HistoryReader is satisfied by *sqlite.DB.
type HistoryReader interface {
	RecentResolved(limit int) ([]domain.ResolvedRecord, error)
	RecentCycles(limit int) ([]domain.CycleLogEntry, error)
}

// Server is the vpcsim HTTP API server.
type Server struct {
	engine         Engine
	history        HistoryReader   // nil when running without a database
	health         *health.Checker // nil disables component checks
	metricsEnabled bool
	stepLimit      int // POST /api/step requests per minute per client
}

// NewServer creates a new API server.
func NewServer(engine Engine) *Server {
	return &Server{engine: engine, stepLimit: 10}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHistory sets the persisted history source.
func (s *Server) SetHistory(h HistoryReader) { s.history = h }

// SetHealth sets the health checker reported by /health.
func (s *Server) SetHealth(c *health.Checker) { s.health = c }

// SetStepLimit sets how many manual cycle triggers a client may send per minute.
func (s *Server) SetStepLimit(n int) {
	if n > 0 {
		s.stepLimit = n
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/decisions", s.handleDecisions)
		r.Get("/tasks", s.handleTasks)
		r.Get("/history", s.handleHistory)
		r.Get("/cycles", s.handleCycles)
		r.Get("/log", s.handleLog)
		r.Get("/policy", s.handlePolicy)
		r.Get("/state", s.handleState)

		r.With(stepRateLimit(s.stepLimit)).Post("/step", s.handleStep)
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// stepRateLimit caps manual cycle triggers per client IP.
func stepRateLimit(limit int) func(http.Handler) http.Handler {
	window := time.Minute
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many manual cycles, try again later")
		}),
	)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers for local dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
