package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/srab2001/featuregate/internal/config"
	"github.com/srab2001/featuregate/internal/controlapi"
	"github.com/srab2001/featuregate/internal/dataapi"
	"github.com/srab2001/featuregate/internal/logger"
	"github.com/srab2001/featuregate/internal/observability"
)

// NewServeCmd creates the serve command.
func NewServeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane",
		Long: `Run the admin REST API, the gRPC health data plane and the
observability server. Configuration is read from FEATUREGATE_* environment
variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New(&cfg.App).With(slog.String("version", app.version))
			cfg.LogConfig(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Serve(ctx, cfg, log)
		},
	}
}

// Serve runs every enabled server until ctx is cancelled or one of them fails,
// then shuts everything down within cfg.App.ShutdownTimeout.
func Serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	c, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.close()

	errCh := make(chan error, 3)

	// -------------------------------------------------------------------------
	// Control plane (REST)
	// -------------------------------------------------------------------------
	var httpServer *http.Server
	if cfg.Server.Control.Enabled {
		ctl := cfg.Server.Control
		skipAuth := ctl.APIKeyHash == ""
		if skipAuth {
			log.Warn("control plane authentication disabled: no API key hash configured")
		}
		api := controlapi.NewAPIWithConfig(logger.Component(log, "controlapi"), controlapi.Deps{
			Flags:        c.flags,
			Integrations: c.integrations,
			Rollouts:     c.rollouts,
		}, ctl.APIKeyHash, skipAuth)

		httpServer = &http.Server{
			Addr:              net.JoinHostPort(ctl.Host, ctl.Port),
			Handler:           api.Router,
			ReadTimeout:       ctl.ReadTimeout,
			WriteTimeout:      ctl.WriteTimeout,
			ReadHeaderTimeout: ctl.ReadHeaderTimeout,
			IdleTimeout:       ctl.IdleTimeout,
			MaxHeaderBytes:    ctl.MaxHeaderBytes,
		}
		go func() {
			log.Info("starting control plane", slog.String("addr", httpServer.Addr), slog.Bool("tls", ctl.TLSEnabled))
			var err error
			if ctl.TLSEnabled {
				err = httpServer.ListenAndServeTLS(ctl.TLSCert, ctl.TLSKey)
			} else {
				err = httpServer.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("control plane: %w", err)
			}
		}()
	}

	// -------------------------------------------------------------------------
	// Data plane (gRPC health)
	// -------------------------------------------------------------------------
	var (
		grpcServer *grpc.Server
		dataAPI    *dataapi.API
	)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	if cfg.Server.Data.Enabled {
		data := cfg.Server.Data
		listener, err := net.Listen("tcp", net.JoinHostPort(data.Host, data.Port))
		if err != nil {
			errCh <- fmt.Errorf("failed to bind data plane port %s: %w", data.Port, err)
		} else {
			grpcServer, dataAPI = startDataPlane(runCtx, log, cfg, c, listener, errCh)
		}
	}

	// -------------------------------------------------------------------------
	// Observability (probes + metrics)
	// -------------------------------------------------------------------------
	obs := observability.NewServer(logger.Component(log, "observability"), &cfg.Observability, c.checkers...)
	if err := obs.Start(); err != nil {
		errCh <- err
	}

	// -------------------------------------------------------------------------
	// Wait, then shut down
	// -------------------------------------------------------------------------
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case runErr = <-errCh:
		log.Error("server failed, shutting down", slog.String("error", runErr.Error()))
	}
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
	defer cancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("control plane shutdown failed", slog.String("error", err.Error()))
		}
	}
	if grpcServer != nil {
		dataAPI.Shutdown()
		stopGRPC(shutdownCtx, grpcServer)
	}
	if err := c.rollouts.Close(shutdownCtx); err != nil {
		log.Error("rollout engine shutdown failed", slog.String("error", err.Error()))
	}
	if err := c.integrations.DisconnectAll(shutdownCtx); err != nil {
		log.Warn("integration disconnect failed", slog.String("error", err.Error()))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability shutdown failed", slog.String("error", err.Error()))
	}

	log.Info("featuregate exited")
	return runErr
}

// startDataPlane serves the gRPC health service on listener and keeps it
// refreshed until ctx ends.
func startDataPlane(ctx context.Context, log *slog.Logger, cfg *config.Config, c *components, listener net.Listener, errCh chan<- error) (*grpc.Server, *dataapi.API) {
	data := cfg.Server.Data
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(dataapi.RequestLoggerInterceptor(logger.Component(log, "dataapi"))),
		grpc.MaxConcurrentStreams(data.MaxConcurrentStreams),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:             data.KeepaliveTime,
			Timeout:          data.KeepaliveTimeout,
			MaxConnectionAge: data.MaxConnectionAge,
		}),
	)
	dataAPI := dataapi.NewAPI(logger.Component(log, "dataapi"), c.integrations, c.rollouts, cfg.Integration.HealthReportInterval)
	dataAPI.Register(grpcServer)
	if data.Reflection {
		reflection.Register(grpcServer)
	}
	go dataAPI.Run(ctx)

	go func() {
		log.Info("starting data plane", slog.String("addr", listener.Addr().String()))
		if err := grpcServer.Serve(listener); err != nil {
			errCh <- fmt.Errorf("data plane: %w", err)
		}
	}()
	return grpcServer, dataAPI
}

// stopGRPC waits for in-flight RPCs until ctx ends, then forces the stop.
func stopGRPC(ctx context.Context, s *grpc.Server) {
	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.Stop()
	}
}
