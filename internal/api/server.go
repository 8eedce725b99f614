// Package api is the HTTP and SSE surface over the run services.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/soochol/nodeflow/internal/services"
	"github.com/soochol/nodeflow/internal/tools"
)

const defaultEventBuffer = 256

type Server struct {
	runner         *services.Runner
	limiter        *services.ConcurrencyLimiter
	toolReg        *tools.Registry
	allowedOrigins []string
	eventBuffer    int
	logger         *slog.Logger
}

func NewServer(runner *services.Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		runner:         runner,
		allowedOrigins: []string{"*"},
		eventBuffer:    defaultEventBuffer,
		logger:         logger,
	}
}

// SetConcurrencyLimiter exposes limiter usage under /api/scheduler/stats.
func (s *Server) SetConcurrencyLimiter(limiter *services.ConcurrencyLimiter) {
	s.limiter = limiter
}

// SetToolRegistry lists the registered tools under /api/tools.
func (s *Server) SetToolRegistry(reg *tools.Registry) {
	s.toolReg = reg
}

func (s *Server) SetAllowedOrigins(origins []string) {
	if len(origins) > 0 {
		s.allowedOrigins = origins
	}
}

// SetEventBuffer sizes the per-request progress channel of streamed runs.
func (s *Server) SetEventBuffer(n int) {
	if n > 0 {
		s.eventBuffer = n
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
	}))
	r.Route("/api", func(r chi.Router) {
		r.Post("/runs", s.startRun)
		r.Route("/executions", func(r chi.Router) {
			r.Get("/", s.listExecutions)
			r.Get("/{id}", s.getExecution)
			r.Get("/{id}/events", s.streamExecutionEvents)
			r.Post("/{id}/resume", s.resumeExecution)
			r.Post("/{id}/cancel", s.cancelExecution)
		})
		r.Route("/approvals", func(r chi.Router) {
			r.Get("/", s.listApprovals)
			r.Get("/{id}", s.getApproval)
			r.Post("/{id}", s.resolveApproval)
		})
		r.Post("/graphs/validate", s.validateGraph)
		r.Get("/tools", s.listTools)
		r.Get("/scheduler/stats", s.getSchedulerStats)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}
