package cli

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srab2001/featuregate/internal/config"
	"github.com/srab2001/featuregate/internal/logger"
)

// loopbackConfig loads defaults and moves every listener to an ephemeral loopback port.
func loopbackConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.Server.Control.Host, cfg.Server.Control.Port = "127.0.0.1", "0"
	cfg.Server.Data.Host, cfg.Server.Data.Port = "127.0.0.1", "0"
	cfg.Observability.Host, cfg.Observability.Port = "127.0.0.1", "0"
	cfg.App.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	cfg := loopbackConfig(t)
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() { done <- Serve(ctx, cfg, logger.Discard()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestServe_FailsWhenObservabilityPortIsTaken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := loopbackConfig(t)
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	cfg.Observability.Port = port

	done := make(chan error, 1)
	go func() { done <- Serve(t.Context(), cfg, logger.Discard()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to bind observability port")
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not fail on a taken port")
	}
}
