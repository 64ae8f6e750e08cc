package rollout

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/srab2001/featuregate/internal/audit"
	"github.com/srab2001/featuregate/internal/observability"
)

// Names of the checks that make up a HealthCheckResult.
const (
	CheckErrorRate   = "error_rate"
	CheckFlagEnabled = "flag_enabled"

	integrationCheckPrefix = "integration:"
)

// Check is a single pass/fail input of a health check.
type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// HealthCheckResult aggregates every check run for one flag at one instant.
// Healthy is true only when every check passed; Reason names the first check
// that did not.
type HealthCheckResult struct {
	Healthy   bool       `json:"healthy"`
	Checks    []Check    `json:"checks"`
	ErrorRate audit.Rate `json:"error_rate"`
	Reason    string     `json:"reason,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

func (r HealthCheckResult) clone() HealthCheckResult {
	r.Checks = slices.Clone(r.Checks)
	return r
}

// healthInput is what a check needs to know about the plan, if any.
type healthInput struct {
	flag         string
	opts         Options
	stagePercent int
}

// evaluateHealth runs every check for in.flag. It never fails: problems become
// failing checks, and audit read errors become a passing error-rate check at 0.
func (e *Engine) evaluateHealth(ctx context.Context, in healthInput) HealthCheckResult {
	var checks []Check

	var sources []string
	if e.integrations != nil {
		for _, it := range e.integrations.ForFlag(in.flag) {
			sources = append(sources, it.Name())
			res := it.HealthCheck(ctx)
			c := Check{Name: integrationCheckPrefix + it.Name(), Passed: res.Healthy}
			if !res.Healthy {
				c.Message = res.Error
			}
			checks = append(checks, c)
		}
	}
	if len(sources) == 0 {
		// Without an integration, events tagged with the flag name are the signal.
		sources = []string{in.flag}
	}

	rate, rateCheck := e.checkErrorRate(ctx, in, sources)
	checks = append(checks, rateCheck, e.checkFlagEnabled(in))

	res := HealthCheckResult{
		Healthy:   true,
		Checks:    checks,
		ErrorRate: rate,
		Timestamp: e.now(),
	}
	for _, c := range checks {
		if !c.Passed {
			res.Healthy = false
			res.Reason = fmt.Sprintf("%s: %s", c.Name, c.Message)
			break
		}
	}

	result := "healthy"
	if !res.Healthy {
		result = "unhealthy"
	}
	observability.RolloutHealthChecks.WithLabelValues(in.flag, result).Inc()
	observability.RolloutErrorRate.WithLabelValues(in.flag).Set(rate.Value)
	return res
}

func (e *Engine) checkErrorRate(ctx context.Context, in healthInput, sources []string) (audit.Rate, Check) {
	c := Check{Name: CheckErrorRate, Passed: true}
	if e.audit == nil {
		c.Message = "no audit source"
		return audit.Rate{}, c
	}

	counts := make(map[audit.Level]int)
	for _, src := range sources {
		byLevel, err := e.audit.CountByLevel(ctx, src, e.auditWindow)
		if err != nil {
			observability.AuditReadErrors.Inc()
			e.logger.Warn("audit read failed, assuming error rate 0",
				slog.String("flag", in.flag),
				slog.String("source", src),
				slog.String("error", err.Error()),
			)
			c.Message = "audit source unavailable"
			return audit.Rate{}, c
		}
		for lvl, n := range byLevel {
			counts[lvl] += n
		}
	}

	rate := audit.ErrorRate(counts)
	switch {
	case rate.Total < in.opts.MinSampleSize:
		c.Message = fmt.Sprintf("insufficient sample: %d of %d events", rate.Total, in.opts.MinSampleSize)
	case rate.Value > in.opts.ErrorThreshold:
		c.Passed = false
		c.Message = fmt.Sprintf("error rate %.4f exceeds threshold %.4f (%d/%d)",
			rate.Value, in.opts.ErrorThreshold, rate.Failures, rate.Total)
	}
	return rate, c
}

// checkFlagEnabled catches flags switched off behind the engine's back.
// A plan still at a 0% stage has nothing to enable yet.
func (e *Engine) checkFlagEnabled(in healthInput) Check {
	c := Check{Name: CheckFlagEnabled, Passed: true}
	f, ok := e.flags.GetFlag(in.flag)
	switch {
	case !ok:
		c.Passed = false
		c.Message = "flag not found"
	case in.stagePercent > 0 && !f.Enabled:
		c.Passed = false
		c.Message = "flag is disabled"
	}
	return c
}
