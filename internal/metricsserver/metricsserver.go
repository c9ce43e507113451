// Package metricsserver exposes the Prometheus registry over HTTP on a
// fixed loopback address, the scaled-down analog of the donor's
// internal mux in server/server.go (minus pprof/version/healthz, which
// serve that donor's HTTP reverse proxy surface, not this one).
package metricsserver

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Addr is the fixed loopback address the metrics endpoint binds to.
const Addr = "127.0.0.1:9090"

// Server serves /metrics for the process-wide Prometheus registry.
type Server struct {
	httpServer *http.Server
}

// New builds a metrics server bound to Addr.
func New() *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	return &Server{httpServer: &http.Server{Addr: Addr, Handler: mux}}
}

// Start serves until ctx is cancelled or the listener errors.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.Stop(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// Stop gracefully shuts the metrics server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
