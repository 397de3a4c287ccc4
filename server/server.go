// Package server exposes the migration service over HTTP and
// WebSocket: job intake, status queries, report retrieval, live event
// streaming, health, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/c360studio/modernizer/jobs"
	"github.com/c360studio/modernizer/metrics"
	"github.com/c360studio/modernizer/migration"
)

// Runner turns a migration state into a pool task. The workflow engine
// is the production implementation.
type Runner interface {
	Job(st *migration.State) func(ctx context.Context)
}

// Options wires the server's collaborators.
type Options struct {
	Addr     string
	Registry *jobs.Registry
	Bus      *jobs.Bus
	Pool     *jobs.Pool
	Runner   Runner
	Metrics  *metrics.Recorder
	Logger   *slog.Logger

	// DockerPing probes sandbox availability for the health endpoint.
	DockerPing func(ctx context.Context) error

	// ProvidersConfigured is the count of model providers with
	// credentials, reported by the health endpoint.
	ProvidersConfigured int

	// DefaultRetries is the retry budget applied when a start request
	// does not set max_retries.
	DefaultRetries int

	// CodeHostToken is the service-level token; a per-request token
	// overrides it.
	CodeHostToken string
}

// Server is the HTTP/WS front of the migration service.
type Server struct {
	opts     Options
	logger   *slog.Logger
	router   *chi.Mux
	httpSrv  *http.Server
	upgrader websocket.Upgrader
}

// New builds the server and its routes.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		opts:   opts,
		logger: logger,
		router: chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The service fronts a local dashboard; origin filtering
			// belongs to the proxy in front of it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.routes()
	s.httpSrv = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/migrations/start", s.handleStart)
		r.Get("/migrations", s.handleList)
		r.Get("/migrations/{id}", s.handleGet)
		r.Get("/migrations/{id}/report", s.handleReport)
		r.Get("/migrations/{id}/report_content", s.handleReportContent)
		r.Delete("/migrations/{id}", s.handleDelete)
		r.Get("/health", s.handleHealth)
	})
	s.router.Get("/ws/migrations/{id}", s.handleWS)
	s.router.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown or listener failure.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.opts.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
}
