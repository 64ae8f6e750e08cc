package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srab2001/featuregate/internal/config"
)

// Server serves the liveness and readiness probes and the Prometheus scrape
// endpoint on the observability port.
type Server struct {
	logger   *slog.Logger
	cfg      *config.ObservabilityConfig
	router   *chi.Mux
	server   *http.Server
	checkers []Checker
}

// NewServer wires the three endpoints. checkers gate readiness; with none, the
// process is ready as soon as it listens.
func NewServer(logger *slog.Logger, cfg *config.ObservabilityConfig, checkers ...Checker) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		panic("observability: config cannot be nil")
	}

	s := &Server{
		logger:   logger,
		cfg:      cfg,
		router:   chi.NewRouter(),
		checkers: checkers,
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.NoCache)

	s.router.Get(cfg.LivenessPath, s.liveness)
	s.router.Get(cfg.ReadinessPath, s.readiness)
	s.router.Method(http.MethodGet, cfg.MetricsPath, promhttp.Handler())
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. A bind failure is
// returned; later serve errors are logged.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind observability port %s: %w", s.cfg.Port, err)
	}

	s.server = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.Timeout,
		ReadHeaderTimeout: s.cfg.Timeout,
		WriteTimeout:      s.cfg.Timeout,
		IdleTimeout:       s.cfg.Timeout * 3,
	}

	s.logger.Info("starting observability server",
		slog.String("addr", ln.Addr().String()),
		slog.String("liveness_path", s.cfg.LivenessPath),
		slog.String("readiness_path", s.cfg.ReadinessPath),
		slog.String("metrics_path", s.cfg.MetricsPath),
	)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("observability server failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Shutdown gracefully stops the server. Safe to call when Start was never called.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("stopping observability server")
	return s.server.Shutdown(ctx)
}
