package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves the package's Prometheus collectors over HTTP, for an
// operator who wants to scrape a ceremony's checks/oracle-latency/
// bundles-processed metrics while it runs.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a metrics HTTP server bound to addr. It does not start
// listening until Start is called.
func NewServer(addr string, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving metrics in the background. Call Shutdown (or
// cancel ctx) to stop it; a ceremony runs to completion independent of
// whether anything ever scrapes this endpoint.
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.logger.Info("metrics listener starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics listener stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = s.Shutdown()
	}()
}

// Shutdown stops the metrics server, waiting up to 5 seconds for
// in-flight scrapes to finish.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics listener shutdown: %w", err)
	}
	return nil
}
