package rollout_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srab2001/featuregate/internal/integration"
	"github.com/srab2001/featuregate/internal/rollout"
	"github.com/srab2001/featuregate/internal/testsupport"
)

func checkByName(t *testing.T, res rollout.HealthCheckResult, name string) rollout.Check {
	t.Helper()
	for _, c := range res.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not found in %+v", name, res.Checks)
	return rollout.Check{}
}

func TestRunHealthCheck_ErrorRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		ok, failed  int
		minSample   int
		wantHealthy bool
		wantRate    float64
	}{
		{name: "no events", minSample: 0, wantHealthy: true},
		{name: "below threshold", ok: 99, failed: 1, minSample: 1, wantHealthy: true, wantRate: 0.01},
		{name: "at threshold", ok: 95, failed: 5, minSample: 1, wantHealthy: true, wantRate: 0.05},
		{name: "above threshold", ok: 90, failed: 10, minSample: 1, wantHealthy: false, wantRate: 0.1},
		{name: "above threshold but sample too small", ok: 1, failed: 1, minSample: 10, wantHealthy: true, wantRate: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			opts := manualOptions()
			opts.MinSampleSize = tt.minSample
			opts.PauseOnError = false
			_, err := f.engine.Start(context.Background(), "export_pdf", opts)
			require.NoError(t, err)
			f.audit.set("export_pdf", tt.ok, tt.failed)

			res := f.engine.RunHealthCheck(context.Background(), "export_pdf")

			assert.Equal(t, tt.wantHealthy, res.Healthy)
			assert.InDelta(t, tt.wantRate, res.ErrorRate.Value, 1e-9)
			assert.Equal(t, tt.wantHealthy, checkByName(t, res, rollout.CheckErrorRate).Passed)
		})
	}
}

func TestRunHealthCheck_AuditReadFailureCountsAsZero(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.audit.fail(errors.New("connection refused"))
	before := testsupport.MetricValue(t, "featuregate_audit_read_errors_total", nil)

	res := f.engine.RunHealthCheck(context.Background(), "export_pdf")

	assert.True(t, res.Healthy)
	assert.Zero(t, res.ErrorRate.Value)
	assert.Equal(t, "audit source unavailable", checkByName(t, res, rollout.CheckErrorRate).Message)
	assert.GreaterOrEqual(t, testsupport.MetricValue(t, "featuregate_audit_read_errors_total", nil)-before, 1.0)
}

func TestRunHealthCheck_IntegrationCounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("failing probe", func(t *testing.T) {
		f := newFixture(t)
		it := f.addIntegration(t, "pdf-renderer", "export_pdf", integration.Funcs{
			HealthFn: func(context.Context) error { return errors.New("503 from renderer") },
		})
		require.NoError(t, it.Connect(ctx))

		res := f.engine.RunHealthCheck(ctx, "export_pdf")

		assert.False(t, res.Healthy)
		c := checkByName(t, res, "integration:pdf-renderer")
		assert.False(t, c.Passed)
		assert.Contains(t, c.Message, "503 from renderer")
	})

	t.Run("disconnected integration", func(t *testing.T) {
		f := newFixture(t)
		f.addIntegration(t, "pdf-renderer", "export_pdf", integration.Funcs{})

		res := f.engine.RunHealthCheck(ctx, "export_pdf")

		assert.False(t, res.Healthy)
	})

	t.Run("error rate is read per integration", func(t *testing.T) {
		f := newFixture(t)
		it := f.addIntegration(t, "pdf-renderer", "export_pdf", integration.Funcs{})
		require.NoError(t, it.Connect(ctx))
		f.audit.set("pdf-renderer", 50, 50)
		f.audit.set("export_pdf", 100, 0)

		res := f.engine.RunHealthCheck(ctx, "export_pdf")

		assert.False(t, res.Healthy)
		assert.InDelta(t, 0.5, res.ErrorRate.Value, 1e-9)
	})
}

func TestRunHealthCheck_FlagEnabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.engine.Start(ctx, "export_pdf", manualOptions())
	require.NoError(t, err)

	res := f.engine.RunHealthCheck(ctx, "export_pdf")
	assert.True(t, checkByName(t, res, rollout.CheckFlagEnabled).Passed, "a 0% stage expects a disabled flag")

	_, err = f.engine.Advance(ctx, "export_pdf")
	require.NoError(t, err)
	require.NoError(t, f.flags.DisableFlag("export_pdf"))

	res = f.engine.RunHealthCheck(ctx, "export_pdf")

	c := checkByName(t, res, rollout.CheckFlagEnabled)
	assert.False(t, c.Passed)
	assert.Equal(t, "flag is disabled", c.Message)

	res = f.engine.RunHealthCheck(ctx, "ghost")
	assert.Equal(t, "flag not found", checkByName(t, res, rollout.CheckFlagEnabled).Message)
}

func TestRunHealthCheck_ReasonIsFirstFailingCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.addIntegration(t, "pdf-renderer", "export_pdf", integration.Funcs{})
	f.audit.set("pdf-renderer", 0, 10)

	res := f.engine.RunHealthCheck(ctx, "export_pdf")

	require.False(t, res.Healthy)
	require.False(t, checkByName(t, res, "integration:pdf-renderer").Passed)
	require.False(t, checkByName(t, res, rollout.CheckErrorRate).Passed)
	assert.Equal(t, "integration:pdf-renderer: integration pdf-renderer is DISCONNECTED", res.Reason)
	assert.NotContains(t, res.Reason, rollout.CheckErrorRate)
}

func TestRunHealthCheck_AutoPause(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.engine.Start(ctx, "export_pdf", manualOptions())
	require.NoError(t, err)
	_, err = f.engine.Advance(ctx, "export_pdf")
	require.NoError(t, err)
	f.audit.set("export_pdf", 80, 20)

	res := f.engine.RunHealthCheck(ctx, "export_pdf")

	require.False(t, res.Healthy)
	p, _ := f.engine.GetPlan("export_pdf")
	assert.Equal(t, rollout.StatusPaused, p.Status)
	assert.Contains(t, p.Reason, "auto-paused")
	require.Len(t, p.HealthHistory, 2)
	assert.False(t, p.HealthHistory[1].Healthy)

	_, err = f.engine.Advance(ctx, "export_pdf")
	assert.ErrorIs(t, err, rollout.ErrRolloutPaused, "stage changes are blocked until resume")

	f.audit.set("export_pdf", 100, 0)
	_, err = f.engine.Resume(ctx, "export_pdf")
	require.NoError(t, err)
	p, err = f.engine.Advance(ctx, "export_pdf")
	require.NoError(t, err)
	assert.Equal(t, rollout.StageBeta, p.CurrentStage)
}

func TestRunHealthCheck_PauseOnErrorDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	opts := manualOptions()
	opts.PauseOnError = false
	_, err := f.engine.Start(ctx, "export_pdf", opts)
	require.NoError(t, err)
	f.audit.set("export_pdf", 0, 10)

	res := f.engine.RunHealthCheck(ctx, "export_pdf")

	assert.False(t, res.Healthy)
	p, _ := f.engine.GetPlan("export_pdf")
	assert.Equal(t, rollout.StatusInProgress, p.Status)
}

func TestHealthHistory_IsBounded(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.engine.Start(context.Background(), "export_pdf", manualOptions())
	require.NoError(t, err)

	for range 105 {
		f.engine.RunHealthCheck(context.Background(), "export_pdf")
	}

	p, _ := f.engine.GetPlan("export_pdf")
	assert.Len(t, p.HealthHistory, 100)
}

func TestTicker_AutoPausesUnhealthyPlan(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.audit.set("export_pdf", 50, 50)

	_, err := f.engine.Start(context.Background(), "export_pdf", tickingOptions())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p, _ := f.engine.GetPlan("export_pdf")
		return p.Status == rollout.StatusPaused
	}, 2*time.Second, 5*time.Millisecond)

	p, _ := f.engine.GetPlan("export_pdf")
	checks := len(p.HealthHistory)
	time.Sleep(60 * time.Millisecond)
	p, _ = f.engine.GetPlan("export_pdf")
	assert.Len(t, p.HealthHistory, checks, "a paused plan has no running ticker")
}

func TestRunHealthCheck_RollbackOnFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	opts := manualOptions()
	opts.RollbackOnFailure = true
	_, err := f.engine.Start(ctx, "export_pdf", opts)
	require.NoError(t, err)
	_, err = f.engine.Advance(ctx, "export_pdf")
	require.NoError(t, err)

	f.audit.set("export_pdf", 0, 5)
	f.engine.RunHealthCheck(ctx, "export_pdf")

	p, _ := f.engine.GetPlan("export_pdf")
	assert.Equal(t, rollout.StatusRolledBack, p.Status)
	assert.Contains(t, p.Reason, "automatic rollback")
	flag, _ := f.flags.GetFlag("export_pdf")
	assert.False(t, flag.Enabled)
}

func TestTicker_AutoAdvance(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	opts := tickingOptions()
	opts.AutoAdvance = true
	opts.TargetStage = rollout.StageBeta

	_, err := f.engine.Start(context.Background(), "export_pdf", opts)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p, _ := f.engine.GetPlan("export_pdf")
		return p.Status == rollout.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	p, _ := f.engine.GetPlan("export_pdf")
	assert.Equal(t, []string{"DISABLED", "INTERNAL", "BETA"}, stageNames(p))
	flag, _ := f.flags.GetFlag("export_pdf")
	assert.Equal(t, 5, flag.RolloutPercent)
	assert.Equal(t, []string{"internal", "beta"}, flag.AllowedCohorts)
}

func TestTicker_PauseDiscardsInFlightCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	it := f.addIntegration(t, "pdf-renderer", "export_pdf", integration.Funcs{
		HealthFn: func(ctx context.Context) error {
			select {
			case entered <- struct{}{}:
			default:
			}
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	})
	require.NoError(t, it.Connect(ctx))
	_, err := f.engine.Start(ctx, "export_pdf", tickingOptions())
	require.NoError(t, err)

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("health check never started")
	}

	paused := make(chan error, 1)
	go func() {
		_, err := f.engine.Pause(ctx, "export_pdf")
		paused <- err
	}()
	select {
	case err := <-paused:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pause waited on the in-flight health check")
	}
	close(release)

	time.Sleep(30 * time.Millisecond)
	p, _ := f.engine.GetPlan("export_pdf")
	assert.Equal(t, rollout.StatusPaused, p.Status)
	assert.Empty(t, p.HealthHistory, "the cancelled check is discarded")
}
