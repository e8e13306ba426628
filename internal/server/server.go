// Package server provides the HTTP API for DIYDoctor.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/config"
	"github.com/hyperjump/diydoctor/internal/metrics"
	"github.com/hyperjump/diydoctor/internal/pipeline"
	"github.com/hyperjump/diydoctor/pkg/utils"
)

// Service is the session and ask API the server exposes.
type Service interface {
	LoadPatient(ctx context.Context, fingerprint string) (pipeline.Info, error)
	LoadDocument(ctx context.Context, path string) (pipeline.Info, error)
	LoadDocumentBytes(ctx context.Context, name string, content []byte) (pipeline.Info, error)
	Ask(ctx context.Context, key, query string) (*pipeline.Result, error)
	Remove(key string) bool
	Sessions() []pipeline.Info
}

// Server is the HTTP server for the DIYDoctor API.
type Server struct {
	service Service
	metrics *metrics.Metrics
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies. m may be nil, in
// which case /metrics is not served.
func NewServer(svc Service, m *metrics.Metrics, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		service: svc,
		metrics: m,
		config:  cfg,
		logger:  utils.LoggerOrNop(logger),
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	timeout := time.Duration(s.config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))
		r.Post("/api/v1/ask", s.handleAsk)
		r.Post("/api/v1/sessions/patients/{fingerprint}", s.handleLoadPatient)
		r.Post("/api/v1/sessions/documents", s.handleLoadDocument)
		r.Get("/api/v1/sessions", s.handleListSessions)
		r.Delete("/api/v1/sessions", s.handleRemoveSession)
	})
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}

// observe records request counts and latency by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRequest(r.Method, route, status, time.Since(start))
	})
}
