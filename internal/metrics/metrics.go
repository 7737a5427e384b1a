// Package metrics serves the process metrics over HTTP.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/mcpagent/internal/observability"
)

// Path is where metrics are exposed.
const Path = "/metrics"

// Server is a background Prometheus endpoint.
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
	done     chan struct{}
}

// Handler returns the metrics mux, with a /healthz endpoint.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start listens on addr and serves metrics until Shutdown.
func Start(addr string, logger zerolog.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen on %s: %w", addr, err)
	}

	s := &Server{
		server:   &http.Server{Handler: Handler(), ReadHeaderTimeout: 10 * time.Second},
		listener: listener,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server error")
		}
	}()

	logger.Info().Str("addr", listener.Addr().String()).Msg("Serving metrics")
	return s, nil
}

// Addr returns the bound address, useful when addr used port 0.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server, forcing it closed after timeout.
func (s *Server) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Metrics shutdown timeout reached, forcing close")
		_ = s.server.Close()
	}
	<-s.done
}
