package dataapi_test

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/srab2001/featuregate/internal/dataapi"
	"github.com/srab2001/featuregate/internal/flags"
	"github.com/srab2001/featuregate/internal/integration"
	"github.com/srab2001/featuregate/internal/logger"
	"github.com/srab2001/featuregate/internal/rollout"
	"github.com/srab2001/featuregate/internal/testsupport"
)

type env struct {
	api      *dataapi.API
	client   healthpb.HealthClient
	flags    *flags.Evaluator
	registry *integration.Registry
	engine   *rollout.Engine
}

// syncBuffer lets the test read what the server goroutine logged.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newEnv serves the API over an in-memory listener.
// export_pdf is fully on and gates pdf; calendar_sync is off and gates calendar.
func newEnv(t *testing.T, log *slog.Logger) *env {
	t.Helper()

	ev, err := flags.NewEvaluator(logger.Discard(), []flags.FeatureFlag{
		{Name: "export_pdf", Enabled: true, RolloutPercent: 100, AllowedCohorts: []string{flags.CohortAll}},
		{Name: "calendar_sync", AllowedCohorts: []string{}},
	})
	require.NoError(t, err)

	reg := integration.NewRegistry()
	opts := integration.Options{MaxRetries: 0, BaseDelay: time.Millisecond}
	require.NoError(t, reg.Register(integration.New("pdf", "export_pdf", integration.Funcs{}, ev, logger.Discard(), opts)))
	require.NoError(t, reg.Register(integration.New("calendar", "calendar_sync", integration.Funcs{}, ev, logger.Discard(), opts)))

	engine, err := rollout.New(logger.Discard(), rollout.Deps{Flags: ev, Integrations: reg}, rollout.Config{
		Defaults: rollout.Options{HealthCheckInterval: time.Hour, ErrorThreshold: 0.05, PauseOnError: true},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close(context.Background()) })

	api := dataapi.NewAPI(logger.Discard(), reg, engine, time.Hour)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(dataapi.RequestLoggerInterceptor(log)))
	api.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &env{
		api:      api,
		client:   healthpb.NewHealthClient(conn),
		flags:    ev,
		registry: reg,
		engine:   engine,
	}
}

func (e *env) check(t *testing.T, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := e.client.Check(t.Context(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err, "service %q", service)
	return resp.GetStatus()
}

func TestNewAPI_PanicsOnNilDeps(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { dataapi.NewAPI(nil, nil, nil, time.Second) })
}

func TestRefresh_PublishesIntegrationsAndRollouts(t *testing.T) {
	t.Parallel()
	e := newEnv(t, logger.Discard())

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, e.check(t, ""), "overall status is up before the first refresh")

	_, err := e.engine.Start(t.Context(), "export_pdf", e.engine.DefaultOptions())
	require.NoError(t, err)

	e.api.Refresh(t.Context())

	tests := []struct {
		service string
		want    healthpb.HealthCheckResponse_ServingStatus
	}{
		{service: "integration.pdf", want: healthpb.HealthCheckResponse_NOT_SERVING},
		{service: "integration.calendar", want: healthpb.HealthCheckResponse_SERVING},
		{service: "rollout.export_pdf", want: healthpb.HealthCheckResponse_SERVING},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.check(t, tt.service), tt.service)
	}

	_, err = e.client.Check(t.Context(), &healthpb.HealthCheckRequest{Service: "rollout.calendar_sync"})
	assert.Equal(t, codes.NotFound, status.Code(err), "flags without a plan are not published")
}

func TestRefresh_TracksChanges(t *testing.T) {
	t.Parallel()
	e := newEnv(t, logger.Discard())

	_, err := e.engine.Start(t.Context(), "export_pdf", e.engine.DefaultOptions())
	require.NoError(t, err)
	e.api.Refresh(t.Context())
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, e.check(t, "integration.pdf"))

	pdf, ok := e.registry.Get("pdf")
	require.True(t, ok)
	require.NoError(t, pdf.Connect(t.Context()))
	_, err = e.engine.Pause(t.Context(), "export_pdf")
	require.NoError(t, err)

	e.api.Refresh(t.Context())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, e.check(t, "integration.pdf"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, e.check(t, "rollout.export_pdf"), "paused plans do not serve")

	// A failed check on a running plan pauses it.
	_, err = e.engine.Resume(t.Context(), "export_pdf")
	require.NoError(t, err)
	require.NoError(t, pdf.Disconnect(t.Context()))
	res := e.engine.RunHealthCheck(t.Context(), "export_pdf")
	require.False(t, res.Healthy)

	e.api.Refresh(t.Context())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, e.check(t, "rollout.export_pdf"))
}

func TestShutdown(t *testing.T) {
	t.Parallel()
	e := newEnv(t, logger.Discard())
	e.api.Refresh(t.Context())

	e.api.Shutdown()

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, e.check(t, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, e.check(t, "integration.calendar"))
}

func TestRun_StopsWithContext(t *testing.T) {
	t.Parallel()
	e := newEnv(t, logger.Discard())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		e.api.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		resp, err := e.client.Check(t.Context(), &healthpb.HealthCheckRequest{Service: "integration.pdf"})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond, "Run refreshes immediately")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRequestLoggerInterceptor(t *testing.T) {
	var buf syncBuffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e := newEnv(t, log)

	t.Run("propagates the caller request id", func(t *testing.T) {
		ctx := metadata.AppendToOutgoingContext(t.Context(), "x-request-id", "req-123")
		_, err := e.client.Check(ctx, &healthpb.HealthCheckRequest{})
		require.NoError(t, err)

		out := buf.String()
		assert.Contains(t, out, `"request_id":"req-123"`)
		assert.Contains(t, out, `"rpc_method":"/grpc.health.v1.Health/Check"`)
		assert.Contains(t, out, "grpc request completed")
	})

	t.Run("counts requests by method and code", func(t *testing.T) {
		labels := map[string]string{"method": "/grpc.health.v1.Health/Check", "code": "NotFound"}
		testsupport.AssertMetricDelta(t, "featuregate_data_plane_grpc_requests_total", labels, 1, func() {
			_, err := e.client.Check(t.Context(), &healthpb.HealthCheckRequest{Service: "integration.ghost"})
			require.Equal(t, codes.NotFound, status.Code(err))
		})
	})
}
