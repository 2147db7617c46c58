// Package api exposes the scanner's operational HTTP surface: a health
// endpoint and Prometheus metrics. It is intentionally small and
// unauthenticated; scan control stays on the command line.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/portsweep/portsweep/internal/config"
	"github.com/portsweep/portsweep/internal/logging"
	"github.com/portsweep/portsweep/internal/metrics"
)

const serverShutdownTimeout = 10 * time.Second

// Server serves health and metrics over HTTP while scans run.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	logger     *logging.Logger
	startTime  time.Time
}

// HealthStatus is the /healthz response body.
type HealthStatus struct {
	Status    string `json:"status"`
	UptimeSec int64  `json:"uptime_seconds"`
	Version   string `json:"version,omitempty"`
}

// New creates the server from the API section of the configuration.
func New(cfg *config.Config) *Server {
	router := mux.NewRouter()

	server := &Server{
		router:    router,
		logger:    logging.Default().WithComponent("api"),
		startTime: time.Now(),
	}
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         cfg.GetAPIAddress(),
		Handler:      handlers.RecoveryHandler()(handlers.LoggingHandler(os.Stderr, router)),
		ReadTimeout:  cfg.API.RequestTimeout,
		WriteTimeout: cfg.API.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return server
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(
		metrics.GetGlobalMetrics().GetRegistry(),
		promhttp.HandlerOpts{},
	)).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := HealthStatus{
		Status:    "ok",
		UptimeSec: int64(time.Since(s.startTime).Seconds()),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Failed to encode health response", "error", err)
	}
}

// Start serves until the listener fails or Stop is called. It blocks,
// so callers usually run it in a goroutine.
func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains connections and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, serverShutdownTimeout)
	defer cancel()

	s.logger.Info("API server stopping")
	return s.httpServer.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
