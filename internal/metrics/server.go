package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the Prometheus registry over HTTP.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a metrics server listening on addr:port.
func NewServer(address string, port int, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", address, port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start runs the server until it is shut down. ErrServerClosed is
// swallowed so a graceful shutdown does not log as a failure.
func (s *Server) Start() error {
	s.logger.Info("starting metrics server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping metrics server")
	return s.server.Shutdown(ctx)
}
