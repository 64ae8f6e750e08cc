package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srab2001/featuregate/internal/audit"
	"github.com/srab2001/featuregate/internal/config"
	"github.com/srab2001/featuregate/internal/flags"
	"github.com/srab2001/featuregate/internal/integration"
	"github.com/srab2001/featuregate/internal/kvstore"
	"github.com/srab2001/featuregate/internal/logger"
	"github.com/srab2001/featuregate/internal/rollout"
)

const wiringFlags = `flags:
  - name: payments
    enabled: true
    rollout_percent: 100
    allowed_cohorts: [all]
  - name: dark_mode
    enabled: false
    rollout_percent: 0
    allowed_cohorts: []
`

func TestIntegrationName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rawURL  string
		want    string
		wantErr string
	}{
		{rawURL: "http://pdf.internal/health", want: "pdf.internal"},
		{rawURL: "https://cal.internal:8443/ping", want: "cal.internal"},
		{rawURL: "http://127.0.0.1:9000", want: "127.0.0.1"},
		{rawURL: "pdf.internal/health", wantErr: "scheme must be http or https"},
		{rawURL: "ftp://pdf.internal", wantErr: "scheme must be http or https"},
		{rawURL: "http:///health", wantErr: "host is required"},
		{rawURL: "http://%zz", wantErr: "invalid url"},
	}

	for _, tt := range tests {
		t.Run(tt.rawURL, func(t *testing.T) {
			t.Parallel()

			got, err := integrationName(tt.rawURL)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenAudit(t *testing.T) {
	t.Parallel()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		got, err := openAudit(&config.AuditConfig{Backend: config.BackendMemory, MemoryCapacity: 5}, &config.DatabaseConfig{}, nil)
		require.NoError(t, err)
		assert.IsType(t, &audit.MemoryLog{}, got)
	})

	t.Run("postgres without pool", func(t *testing.T) {
		t.Parallel()
		_, err := openAudit(&config.AuditConfig{Backend: config.BackendPostgres}, &config.DatabaseConfig{}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "needs a postgres pool")
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Parallel()
		_, err := openAudit(&config.AuditConfig{Backend: "kafka"}, &config.DatabaseConfig{}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown audit backend "kafka"`)
	})
}

func TestRegisterEndpoints(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	defs, err := flags.Parse(strings.NewReader(wiringFlags))
	require.NoError(t, err)
	ev, err := flags.NewEvaluator(logger.Discard(), defs)
	require.NoError(t, err)

	reg := integration.NewRegistry()
	rec := audit.NewMemoryLog(10)
	cfg := &config.IntegrationConfig{
		MaxRetries: 0,
		BaseDelay:  time.Millisecond,
		Endpoints: config.EndpointMap{
			"payments":  srv.URL + "/health",
			"dark_mode": "http://theme.internal/health",
			"ghost":     "http://ghost.internal/health",
		},
	}

	require.NoError(t, registerEndpoints(reg, cfg, ev, rec, kvstore.NewMemory(), logger.Discard()))

	all := reg.All()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"127.0.0.1", "ghost.internal", "theme.internal"},
		[]string{all[0].Name(), all[1].Name(), all[2].Name()})

	payments, ok := reg.Get("127.0.0.1")
	require.True(t, ok)
	assert.Equal(t, "payments", payments.Flag())
	assert.Equal(t, integration.StatusDisconnected, payments.Status())

	for _, name := range []string{"theme.internal", "ghost.internal"} {
		it, ok := reg.Get(name)
		require.True(t, ok)
		assert.Equal(t, integration.StatusDisabled, it.Status(), name)
	}

	require.NoError(t, payments.Connect(t.Context()))
	assert.Equal(t, integration.StatusConnected, payments.Status())
	assert.True(t, payments.HealthCheck(t.Context()).Healthy)

	// The connect event lands in the audit log used for error rates.
	counts, err := rec.CountByLevel(t.Context(), "127.0.0.1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[audit.LevelInfo])
}

func TestRegisterEndpoints_Errors(t *testing.T) {
	t.Parallel()

	ev, err := flags.NewEvaluator(logger.Discard(), nil)
	require.NoError(t, err)

	tests := []struct {
		name      string
		endpoints config.EndpointMap
		wantErr   string
	}{
		{
			name:      "invalid url",
			endpoints: config.EndpointMap{"payments": "payments.internal"},
			wantErr:   "integration endpoint for flag payments",
		},
		{
			name: "same host twice",
			endpoints: config.EndpointMap{
				"a": "http://shared.internal/a",
				"b": "http://shared.internal:81/b",
			},
			wantErr: "integration already registered",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.IntegrationConfig{Endpoints: tt.endpoints}
			err := registerEndpoints(integration.NewRegistry(), cfg, ev, audit.NewMemoryLog(1), kvstore.NewMemory(), logger.Discard())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuild_MemoryBackends(t *testing.T) {
	t.Setenv("FEATUREGATE_FLAGS_FILE", writeFlagFile(t, wiringFlags))
	t.Setenv("FEATUREGATE_INTEGRATION_ENDPOINTS", "payments=http://payments.internal/health")
	t.Setenv("FEATUREGATE_ROLLOUT_TARGET_STAGE", "HALF")
	cfg, err := config.Load()
	require.NoError(t, err)

	c, err := build(t.Context(), cfg, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(c.close)

	assert.Empty(t, c.checkers, "no remote backend, no readiness checker")
	assert.Len(t, c.flags.GetAllFlags(), 2)
	require.Len(t, c.integrations.ForFlag("payments"), 1)
	assert.Equal(t, "payments.internal", c.integrations.ForFlag("payments")[0].Name())

	opts := c.rollouts.DefaultOptions()
	assert.Equal(t, rollout.StageHalf, opts.TargetStage)
	assert.True(t, opts.PauseOnError)

	plan, err := c.rollouts.Start(t.Context(), "dark_mode", opts)
	require.NoError(t, err)
	assert.Equal(t, rollout.StageDisabled, plan.CurrentStage)

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	require.NoError(t, c.rollouts.Close(ctx))
}

func TestBuild_InvalidFlagFile(t *testing.T) {
	t.Setenv("FEATUREGATE_FLAGS_FILE", writeFlagFile(t, "flags:\n  - name: ''\n"))
	cfg, err := config.Load()
	require.NoError(t, err)

	_, err = build(t.Context(), cfg, logger.Discard())
	require.Error(t, err)
}

func TestRequiredTables(t *testing.T) {
	t.Parallel()

	cfg := func(storage, auditBackend string) *config.Config {
		c := &config.Config{}
		c.Storage.Backend = storage
		c.Audit.Backend = auditBackend
		c.Database.KVTable = "kv_entries"
		c.Database.AuditTable = "audit_events"
		return c
	}

	assert.Empty(t, requiredTables(cfg(config.BackendMemory, config.BackendMemory)))
	assert.Empty(t, requiredTables(cfg(config.BackendRedis, config.BackendMemory)))
	assert.Equal(t, []string{"kv_entries"}, requiredTables(cfg(config.BackendPostgres, config.BackendMemory)))
	assert.Equal(t, []string{"audit_events"}, requiredTables(cfg(config.BackendRedis, config.BackendPostgres)))
	assert.Equal(t, []string{"kv_entries", "audit_events"}, requiredTables(cfg(config.BackendPostgres, config.BackendPostgres)))
}
