package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-validator/internal/clock/system"
	"github.com/JakeFAU/link-validator/internal/config"
	"github.com/JakeFAU/link-validator/internal/links"
	"github.com/JakeFAU/link-validator/internal/metrics"
	"github.com/JakeFAU/link-validator/internal/service"
)

// LinkService is the subset of service.Service the handlers call.
type LinkService interface {
	Submit(ctx context.Context, in service.Input) (links.Link, error)
	Amend(ctx context.Context, id string, in service.Input) (links.Link, error)
	Remove(ctx context.Context, id string) error
	RemoveAll(ctx context.Context) (int64, error)
	Get(ctx context.Context, id string) (links.Link, error)
	List(ctx context.Context, filter links.ListFilter) ([]links.Link, error)
	CountByStatus(ctx context.Context) (links.Counts, error)
	Ready(ctx context.Context) error
}

// Server wires HTTP handlers to the link service.
type Server struct {
	router  chi.Router
	handler http.Handler
	svc     LinkService
	clock   links.Clock
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. clock may be nil.
func NewServer(svc LinkService, clock links.Clock, cfg config.Config, logger *zap.Logger) *Server {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.API.RequestTimeout <= 0 {
		cfg.API.RequestTimeout = 30 * time.Second
	}
	metrics.Init()

	s := &Server{
		svc:    svc,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger, s.writeError))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.API.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/links", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey, s.writeError))
		}
		r.Post("/", s.createLink)
		r.Get("/", s.listLinks)
		r.Get("/stats", s.linkStats)
		r.Delete("/DELETEALLCONFIRM", s.deleteAllLinks)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getLink)
			r.Put("/", s.updateLink)
			r.Delete("/", s.deleteLink)
		})
	})

	s.router = r
	s.handler = otelhttp.NewHandler(r, "link-api")
	return s
}

// Handler returns the instrumented router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.svc.Ready(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Status    int       `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	// The status line is already out; an encode failure can only be a broken connection.
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Status:    status,
		Message:   msg,
		Timestamp: s.clock.Now(),
	})
}
