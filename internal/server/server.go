// Package server exposes the generation engine over HTTP. Endpoints are
// small objects registered on a mux so each operation declares its own
// route.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/henribesnard/novellaforge/internal/pipeline"
)

// Endpoint is one HTTP route.
type Endpoint interface {
	Route() (method, path string, handler http.HandlerFunc)
}

// Server is the NovellaForge HTTP server.
type Server struct {
	httpServer   *http.Server
	orchestrator *pipeline.Orchestrator
	services     *pipeline.Services
	logger       *slog.Logger

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	Host     string
	Port     string
	Services *pipeline.Services
	Logger   *slog.Logger
}

// New creates the server and registers all endpoints.
func New(cfg Config) (*Server, error) {
	if cfg.Services == nil {
		return nil, fmt.Errorf("services are required")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		orchestrator: pipeline.NewOrchestrator(cfg.Services),
		services:     cfg.Services,
		logger:       cfg.Logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	for _, ep := range s.endpoints() {
		method, path, handler := ep.Route()
		mux.HandleFunc(method+" "+path, handler)
	}

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start begins serving. Blocks until the listener fails or Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.services.Pool.Start(ctx)
	s.services.Warmup(ctx)

	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	err := s.httpServer.Shutdown(ctx)
	if cerr := s.services.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Running reports whether the server accepts requests.
func (s *Server) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// writeJSON writes a JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps pipeline errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrPlanNotAccepted):
		status = http.StatusConflict
	case errors.Is(err, pipeline.ErrChapterNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
