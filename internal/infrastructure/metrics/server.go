// Package metrics exposes the Prometheus registry on a dedicated port
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"liquidity_engine/internal/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// Server handles Prometheus metrics export
type Server struct {
	port     int
	gatherer prometheus.Gatherer
	logger   core.ILogger
}

// NewServer creates a metrics server over the default registry
func NewServer(port int, logger core.ILogger) *Server {
	return NewServerWithGatherer(port, prometheus.DefaultGatherer, logger)
}

func NewServerWithGatherer(port int, gatherer prometheus.Gatherer, logger core.ILogger) *Server {
	return &Server{
		port:     port,
		gatherer: gatherer,
		logger:   logger.WithField("component", "metrics_server"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting Prometheus metrics server", "port", s.port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Stopping metrics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
