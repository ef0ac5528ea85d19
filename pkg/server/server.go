// Package server implements the stream producer: it validates chat requests,
// opens one upstream stream per request and re-encodes it as server-sent
// events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/killallgit/streamline/pkg/config"
	"github.com/killallgit/streamline/pkg/llm"
	"github.com/killallgit/streamline/pkg/logger"
	"github.com/killallgit/streamline/pkg/ollama"
)

// HealthChecker reports upstream reachability for /healthz.
type HealthChecker interface {
	CheckHealth(ctx context.Context) *ollama.HealthStatus
}

type Server struct {
	source llm.Source
	models llm.Models
	cfg    config.ServerConfig
	health HealthChecker
	now    func() time.Time
	mux    *http.ServeMux
}

type Option func(*Server)

// WithHealthCheck adds upstream status to /healthz.
func WithHealthCheck(checker HealthChecker) Option {
	return func(s *Server) {
		s.health = checker
	}
}

// WithNow overrides the time source used for heartbeat timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func New(source llm.Source, models llm.Models, cfg config.ServerConfig, opts ...Option) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		source: source,
		models: models,
		cfg:    cfg,
		now:    time.Now,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("POST /api/chat/stream", withCORS(cfg.AllowOrigin, s.handleStream))
	s.mux.HandleFunc("OPTIONS /api/chat/stream", withCORS(cfg.AllowOrigin, handlePreflight))
	s.mux.HandleFunc("GET /api/models", s.handleModels)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Stream server listening on %s (provider %s)", ln.Addr(), s.source.Name())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info("Shutting down stream server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

type modelsBody struct {
	Models  []string `json:"models"`
	Default string   `json:"default"`
}

type healthBody struct {
	Status   string               `json:"status"`
	Provider string               `json:"provider"`
	Upstream *ollama.HealthStatus `json:"upstream,omitempty"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modelsBody{Models: s.models.List(), Default: s.models.Fallback()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := healthBody{Status: "ok", Provider: s.source.Name()}
	status := http.StatusOK

	if err := s.source.Ready(); err != nil {
		body.Status = "misconfigured"
		status = http.StatusServiceUnavailable
	}

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		body.Upstream = s.health.CheckHealth(ctx)
		if !body.Upstream.Available {
			body.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to write response: %v", err)
	}
}
