// Package server exposes the session over HTTP: the /ws subscriber endpoint,
// health and readiness probes, the Prometheus scrape endpoint, and a JSON
// stats snapshot.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/livetranscripts/livetranscripts/internal/health"
	"github.com/livetranscripts/livetranscripts/internal/observe"
	"github.com/livetranscripts/livetranscripts/internal/session"
)

const shutdownTimeout = 5 * time.Second

// Config configures a [Server].
type Config struct {
	Host string
	Port int

	// Stats supplies the pipeline counters for the /stats endpoint. May be
	// nil; the endpoint then reports hub state only.
	Stats StatsFunc

	// Checkers back the /readyz endpoint.
	Checkers []health.Checker

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Server serves the subscriber protocol and the operational endpoints.
type Server struct {
	hub   *session.Hub
	cfg   Config
	log   *slog.Logger
	httpS *http.Server
}

// New builds the server and its routes. Run starts it.
func New(hub *session.Hub, cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		hub: hub,
		cfg: cfg,
		log: log.With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(cfg.Checkers...).Register(mux)

	var handler http.Handler = mux
	if cfg.Metrics != nil {
		handler = observe.Middleware(cfg.Metrics)(mux)
	}
	s.httpS = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpS.Addr }

// Run serves until ctx ends, then shuts down gracefully. WebSocket
// connections are closed through the hub, not the HTTP shutdown, so a hung
// subscriber cannot stall the drain.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpS.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.httpS.Addr, err)
	}
	s.log.Info("listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- s.httpS.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpS.Shutdown(shutCtx); err != nil {
		// Long-lived WebSocket connections can outlive the grace period;
		// force them down.
		_ = s.httpS.Close()
	}
	<-errc
	return nil
}
