package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	mw "github.com/divvyqueue/gateway/internal/api/middleware"
	"github.com/divvyqueue/gateway/internal/api/request"
	"github.com/divvyqueue/gateway/internal/api/response"
	"github.com/divvyqueue/gateway/internal/bootstrap"
	"github.com/divvyqueue/gateway/internal/config"
	"github.com/divvyqueue/gateway/internal/diag"
)

// Bootstrapper triggers the idempotent database bootstrap.
type Bootstrapper interface {
	Run(ctx context.Context) bootstrap.Status
}

// Diagnostics produces the operator-facing reports.
type Diagnostics interface {
	Report(ctx context.Context) *diag.Report
	Security(detail bool) *diag.SecurityReport
}

// Server is the request router of the gateway: it owns the operational
// endpoints, serves the client static files and delegates everything else to
// the Tryton backend.
type Server struct {
	router      chi.Router
	logger      zerolog.Logger
	cfg         *config.Config
	bootstrap   Bootstrapper
	diagnostics Diagnostics
	backend     http.Handler
}

// NewServer creates a Server. backend may be nil, in which case delegated
// requests are answered with 503 until the backend process is configured.
func NewServer(logger zerolog.Logger, cfg *config.Config, bootstrapper Bootstrapper, diagnostics Diagnostics, backend http.Handler) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		logger:      logger.With().Str("component", "api").Logger(),
		cfg:         cfg,
		bootstrap:   bootstrapper,
		diagnostics: diagnostics,
		backend:     backend,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
	s.router.Use(mw.CORS(s.cfg.CORSOrigins))
	s.router.Use(middleware.StripSlashes)
}

func (s *Server) setupRoutes() {
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/security-check", s.handleSecurityCheck)
	s.router.Get("/db-diagnostics", s.handleDiagnostics)
	s.router.Post("/bootstrap", s.handleBootstrap)

	// Client static files from a fixed allow-list of prefixes.
	files := http.FileServer(http.Dir(s.cfg.StaticDir))
	s.router.Handle("/sao/*", http.StripPrefix("/sao/", files))
	s.router.Handle("/static/*", http.StripPrefix("/static/", files))
	s.router.Get("/", s.handleIndex)

	// Everything else belongs to the Tryton backend.
	s.router.NotFound(s.handleDelegate)
}

// Router returns the http.Handler for the server.
func (s *Server) Router() http.Handler {
	return s.router
}

// handleHealth is the liveness endpoint. It answers from local state only:
// it never probes the database, so a broken bootstrap cannot take the
// health check down with it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	security := s.diagnostics.Security(false)

	body := map[string]any{
		"status":         "ok",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"tryton_loaded":  s.backend != nil,
		"security_score": security.Score,
		"security":       security.OverallStatus,
	}

	status := http.StatusOK
	if s.backend == nil {
		body["status"] = "starting"
		status = http.StatusServiceUnavailable
	}
	response.WriteJSON(w, status, body)
}

func (s *Server) handleSecurityCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("detail")
	report := s.diagnostics.Security(q == "1" || q == "true")

	body := map[string]any{
		"status":         "ok",
		"timestamp":      report.Timestamp.Format(time.RFC3339),
		"overall_status": report.OverallStatus,
		"security_score": report.Score,
	}
	if report.Checks != nil {
		body["checks"] = report.Checks
	}
	response.WriteJSON(w, http.StatusOK, body)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	report := s.diagnostics.Report(r.Context())
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": report.Timestamp.Format(time.RFC3339),
		"report":    report,
	})
}

type bootstrapRequest struct {
	Database string `json:"database,omitempty" validate:"omitempty,dbname"`
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	// The body is optional; when present it must name the configured
	// database, guarding against a trigger meant for another environment.
	if r.ContentLength > 0 {
		var req bootstrapRequest
		if err := request.Decode(r, &req); err != nil {
			response.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Database != "" && req.Database != s.cfg.DatabaseName {
			response.WriteError(w, http.StatusBadRequest, "unknown database: "+req.Database)
			return
		}
	}

	status := s.bootstrap.Run(r.Context())

	code := http.StatusOK
	result := "ok"
	if status.State == bootstrap.StateFailed {
		code = http.StatusInternalServerError
		result = "error"
	}
	response.WriteJSON(w, code, map[string]any{
		"status":    result,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"bootstrap": status,
	})
}

// handleIndex serves the client entry point, or a plain placeholder while
// the static bundle is not present yet.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	index := filepath.Join(s.cfg.StaticDir, "index.html")
	if _, err := os.Stat(index); err == nil {
		http.ServeFile(w, r, index)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("DivvyQueue gateway is starting up\n"))
}

// handleDelegate forwards the request to the Tryton backend. A panic during
// delegation is converted into a JSON 500 carrying the cause, so one broken
// upstream request cannot kill the worker.
func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil {
		response.WriteError(w, http.StatusServiceUnavailable, "application backend not ready")
		return
	}

	defer func() {
		if cause := recover(); cause != nil {
			if cause == http.ErrAbortHandler {
				panic(cause)
			}
			s.logger.Error().
				Str("path", r.URL.Path).
				Interface("cause", cause).
				Msg("backend delegation panicked")
			response.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("backend request failed: %v", cause))
		}
	}()

	s.backend.ServeHTTP(w, r)
}
