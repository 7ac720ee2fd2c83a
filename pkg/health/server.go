package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cardbridge/router/internal/logger"
)

// Server is the read-only HTTP surface for /health and /stats. It
// deliberately exposes nothing else: no admin actions, no payload
// inspection.
type Server struct {
	checker *Checker
	logger  logger.Logger
	port    int
	server  *http.Server
}

// NewServer creates a new health check server.
func NewServer(checker *Checker, log logger.Logger, port int) *Server {
	return &Server{
		checker: checker,
		logger:  log,
		port:    port,
	}
}

// Mux returns the handler so callers can merge it onto a shared
// *http.Server alongside the WebSocket and metrics routes, instead of
// each owning its own listener.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/", s.handleNotFound)
	return mux
}

// Start starts a standalone health check server on its own listener.
// Used when the Router isn't composing /health into a shared mux.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("starting health check server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health check server error: " + err.Error())
		}
	}()

	return nil
}

// Stop stops the standalone health check server, if one was started.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(s.checker.CheckHealth())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(s.checker.CheckStats())
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Not found"})
}
