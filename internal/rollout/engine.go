package rollout

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/srab2001/featuregate/internal/audit"
	"github.com/srab2001/featuregate/internal/flags"
	"github.com/srab2001/featuregate/internal/integration"
	"github.com/srab2001/featuregate/internal/kvstore"
	"github.com/srab2001/featuregate/internal/observability"
	"github.com/srab2001/featuregate/internal/validation"
)

// FlagStore is the part of the flag evaluator the engine drives.
// *flags.Evaluator satisfies it.
type FlagStore interface {
	GetFlag(name string) (flags.FeatureFlag, bool)
	UpdateFlag(name string, u flags.Update) error
	Rollback(name string) error
}

// Integrations lists the integrations gated by a flag.
// *integration.Registry satisfies it.
type Integrations interface {
	ForFlag(flag string) []*integration.Integration
}

// Deps are the collaborators of an Engine. Only Flags is mandatory.
type Deps struct {
	Flags        FlagStore
	Integrations Integrations
	Audit        audit.Source
	Store        kvstore.Store
}

// Config tunes an Engine.
type Config struct {
	// Defaults are handed out by DefaultOptions. An empty TargetStage means the last stage.
	Defaults Options
	// Stages replaces DefaultStages when set.
	Stages []Stage
	// AuditWindow is the look-back period of the error rate. Zero means 1h.
	AuditWindow time.Duration
	// Clock replaces time.Now.
	Clock func() time.Time
}

// Engine runs at most one non-terminal Plan per flag.
type Engine struct {
	logger       *slog.Logger
	flags        FlagStore
	integrations Integrations
	audit        audit.Source
	store        kvstore.Store
	stages       stageList
	defaults     Options
	auditWindow  time.Duration
	now          func() time.Time

	mu      sync.Mutex
	plans   map[string]*planState
	history []HistoryEntry
	closed  bool

	// persistMu orders snapshot writes to the store.
	persistMu sync.Mutex
}

// planState holds one plan.
//
// opMu serializes health checks and stage changes of the plan; it may be held
// across slow integration probes. mu guards plan and ticker and is only held
// for in-memory work, so Pause, Rollback and readers never wait on a probe.
type planState struct {
	opMu sync.Mutex

	mu     sync.RWMutex
	plan   Plan
	ticker *ticker
}

func (ps *planState) snapshot() Plan {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.plan.clone()
}

// New builds an Engine. It fails if cfg.Stages or cfg.Defaults are invalid.
// If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger, deps Deps, cfg Config) (*Engine, error) {
	validation.AssertNotNilInterface(deps.Flags, "flag store")
	if logger == nil {
		logger = slog.Default()
	}

	stages := cfg.Stages
	if len(stages) == 0 {
		stages = DefaultStages()
	}
	if err := ValidateStages(stages); err != nil {
		return nil, err
	}
	list := stageList(slices.Clone(stages))

	defaults := cfg.Defaults
	if defaults.TargetStage == "" {
		defaults.TargetStage = list.last().Name
	}
	if err := defaults.validate(list); err != nil {
		return nil, fmt.Errorf("default options: %w", err)
	}

	e := &Engine{
		logger:       logger,
		flags:        deps.Flags,
		integrations: deps.Integrations,
		audit:        deps.Audit,
		store:        deps.Store,
		stages:       list,
		defaults:     defaults,
		auditWindow:  cfg.AuditWindow,
		now:          cfg.Clock,
		plans:        make(map[string]*planState),
	}
	if e.auditWindow <= 0 {
		e.auditWindow = time.Hour
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// DefaultOptions returns the options a plan gets when the caller has no opinion.
func (e *Engine) DefaultOptions() Options { return e.defaults }

// Stages returns a copy of the stage list.
func (e *Engine) Stages() []Stage {
	out := make([]Stage, len(e.stages))
	for i, s := range e.stages {
		s.Cohorts = slices.Clone(s.Cohorts)
		out[i] = s
	}
	return out
}

// Start creates an IN_PROGRESS plan at the first stage and starts its
// health-check ticker. The flag itself is not touched until the first Advance.
// A terminal plan for the same flag is replaced.
func (e *Engine) Start(ctx context.Context, flag string, opts Options) (Plan, error) {
	if opts.TargetStage == "" {
		opts.TargetStage = e.stages.last().Name
	}
	if err := opts.validate(e.stages); err != nil {
		return Plan{}, err
	}
	if _, ok := e.flags.GetFlag(flag); !ok {
		return Plan{}, fmt.Errorf("%w: %q", flags.ErrFlagNotFound, flag)
	}

	now := e.now()
	first := e.stages.first()
	ps := &planState{plan: Plan{
		ID:           uuid.NewString(),
		Flag:         flag,
		Status:       StatusInProgress,
		CurrentStage: first.Name,
		TargetStage:  opts.TargetStage,
		StageHistory: []StageEntry{{Stage: first.Name, Percent: first.Percent, Timestamp: now}},
		Options:      opts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Plan{}, ErrEngineClosed
	}
	if cur, ok := e.plans[flag]; ok {
		if st := cur.snapshot().Status; !st.Terminal() {
			e.mu.Unlock()
			return Plan{}, fmt.Errorf("%w: %s is %s", ErrRolloutActive, flag, st)
		}
	}
	e.plans[flag] = ps
	ps.mu.Lock()
	e.startTickerLocked(ps)
	snap := ps.plan.clone()
	ps.mu.Unlock()
	e.mu.Unlock()

	e.transitioned(ctx, snap, ActionStart, "")
	return snap, nil
}

// Advance runs a health check and, if it passes, applies the next stage.
// An unhealthy check returns *UnhealthyError and changes nothing. Once the next
// stage would exceed the target, the plan completes without applying it.
func (e *Engine) Advance(ctx context.Context, flag string) (Plan, error) {
	ps, err := e.state(flag)
	if err != nil {
		return Plan{}, err
	}
	ps.opMu.Lock()
	defer ps.opMu.Unlock()
	return e.advanceLocked(ctx, ps, nil)
}

// advanceLocked requires ps.opMu. pre, when set, is a health check the caller
// already ran and recorded.
func (e *Engine) advanceLocked(ctx context.Context, ps *planState, pre *HealthCheckResult) (Plan, error) {
	p := ps.snapshot()
	if err := canAdvance(p); err != nil {
		return p, err
	}

	res := pre
	if res == nil {
		r, ok := e.checkLocked(ctx, ps)
		if !ok {
			return ps.snapshot(), fmt.Errorf("rollout %s: health check cancelled: %w", p.Flag, context.Cause(ctx))
		}
		res = &r
	}
	if !res.Healthy {
		return ps.snapshot(), &UnhealthyError{Flag: p.Flag, Result: res.clone()}
	}

	ps.mu.Lock()
	// Pause or Rollback may have landed while the check ran.
	if err := canAdvance(ps.plan); err != nil {
		snap := ps.plan.clone()
		ps.mu.Unlock()
		return snap, err
	}

	now := e.now()
	target, err := e.stages.lookup(ps.plan.TargetStage)
	if err != nil {
		return e.failLocked(ctx, ps, err, now)
	}
	next, ok := e.stages.next(ps.plan.CurrentStage)
	if !ok || next.Percent > target.Percent {
		ps.plan.finish(StatusCompleted, "", now)
		stopTickerLocked(ps)
		snap := ps.plan.clone()
		ps.mu.Unlock()
		e.transitioned(ctx, snap, ActionComplete, "")
		return snap, nil
	}

	if err := e.applyStage(ps.plan.Flag, next); err != nil {
		return e.failLocked(ctx, ps, fmt.Errorf("apply stage %s: %w", next.Name, err), now)
	}
	ps.plan.CurrentStage = next.Name
	ps.plan.StageHistory = append(ps.plan.StageHistory, StageEntry{Stage: next.Name, Percent: next.Percent, Timestamp: now})
	ps.plan.UpdatedAt = now
	snap := ps.plan.clone()
	ps.mu.Unlock()

	e.transitioned(ctx, snap, ActionAdvance, "")
	return snap, nil
}

// failLocked marks the plan FAILED and releases ps.mu, which the caller holds.
func (e *Engine) failLocked(ctx context.Context, ps *planState, cause error, now time.Time) (Plan, error) {
	ps.plan.finish(StatusFailed, cause.Error(), now)
	stopTickerLocked(ps)
	snap := ps.plan.clone()
	ps.mu.Unlock()

	e.transitioned(ctx, snap, ActionFail, cause.Error())
	return snap, fmt.Errorf("rollout %s: %w", snap.Flag, cause)
}

func canAdvance(p Plan) error {
	switch {
	case p.Status == StatusPaused:
		return fmt.Errorf("%w: %s", ErrRolloutPaused, p.Flag)
	case p.Status.Terminal():
		return fmt.Errorf("%w: %s is %s", ErrRolloutTerminal, p.Flag, p.Status)
	}
	return nil
}

// applyStage sets enabled, percentage and allowlist in one flag update.
func (e *Engine) applyStage(flag string, s Stage) error {
	enabled := s.Percent > 0
	percent := s.Percent
	cohorts := slices.Clone(s.Cohorts)
	if cohorts == nil {
		cohorts = []string{}
	}
	return e.flags.UpdateFlag(flag, flags.Update{
		Enabled:        &enabled,
		RolloutPercent: &percent,
		AllowedCohorts: &cohorts,
	})
}

// Pause stops the plan's ticker without touching the flag. Pausing a paused plan is a no-op.
func (e *Engine) Pause(ctx context.Context, flag string) (Plan, error) {
	ps, err := e.state(flag)
	if err != nil {
		return Plan{}, err
	}
	return e.pause(ctx, ps, ActionPause, "")
}

func (e *Engine) pause(ctx context.Context, ps *planState, action Action, reason string) (Plan, error) {
	ps.mu.Lock()
	switch {
	case ps.plan.Status == StatusPaused:
		snap := ps.plan.clone()
		ps.mu.Unlock()
		return snap, nil
	case ps.plan.Status.Terminal():
		snap := ps.plan.clone()
		ps.mu.Unlock()
		return snap, fmt.Errorf("%w: %s is %s", ErrRolloutTerminal, snap.Flag, snap.Status)
	}
	stopTickerLocked(ps)
	ps.plan.Status = StatusPaused
	ps.plan.Reason = reason
	ps.plan.UpdatedAt = e.now()
	snap := ps.plan.clone()
	ps.mu.Unlock()

	e.transitioned(ctx, snap, action, reason)
	return snap, nil
}

// Resume restarts the ticker of a paused plan. Resuming a running plan is a no-op.
func (e *Engine) Resume(ctx context.Context, flag string) (Plan, error) {
	ps, err := e.state(flag)
	if err != nil {
		return Plan{}, err
	}

	// e.mu is held across the ticker start so Close cannot miss it.
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Plan{}, ErrEngineClosed
	}
	ps.mu.Lock()
	switch {
	case ps.plan.Status == StatusInProgress:
		snap := ps.plan.clone()
		ps.mu.Unlock()
		e.mu.Unlock()
		return snap, nil
	case ps.plan.Status.Terminal():
		snap := ps.plan.clone()
		ps.mu.Unlock()
		e.mu.Unlock()
		return snap, fmt.Errorf("%w: %s is %s", ErrRolloutTerminal, snap.Flag, snap.Status)
	}
	ps.plan.Status = StatusInProgress
	ps.plan.Reason = ""
	ps.plan.UpdatedAt = e.now()
	e.startTickerLocked(ps)
	snap := ps.plan.clone()
	ps.mu.Unlock()
	e.mu.Unlock()

	e.transitioned(ctx, snap, ActionResume, "")
	return snap, nil
}

// Rollback is the kill switch. It disables the flag, disconnects every
// integration gated by it and moves a non-terminal plan to ROLLED_BACK.
// It works without a plan and may be repeated; a COMPLETED or FAILED plan keeps
// its status. Disconnect failures are logged, never returned.
func (e *Engine) Rollback(ctx context.Context, flag, reason string) error {
	ps := e.lookup(flag)

	var (
		snap    Plan
		changed bool
	)
	if ps != nil {
		ps.mu.Lock()
	}
	if err := e.flags.Rollback(flag); err != nil {
		if ps != nil {
			ps.mu.Unlock()
		}
		return err
	}
	if ps != nil {
		stopTickerLocked(ps)
		if !ps.plan.Status.Terminal() {
			now := e.now()
			first := e.stages.first()
			ps.plan.CurrentStage = first.Name
			ps.plan.StageHistory = append(ps.plan.StageHistory, StageEntry{Stage: first.Name, Percent: first.Percent, Timestamp: now})
			ps.plan.finish(StatusRolledBack, reason, now)
			changed = true
		}
		snap = ps.plan.clone()
		ps.mu.Unlock()
	}

	e.disconnectAll(ctx, flag)

	if changed {
		e.transitioned(ctx, snap, ActionRollback, reason)
		return nil
	}
	e.logger.Warn("flag rolled back",
		slog.String("flag", flag),
		slog.String("plan_id", snap.ID),
		slog.String("reason", reason),
	)
	e.appendHistory(HistoryEntry{
		Flag:      flag,
		PlanID:    snap.ID,
		Action:    ActionRollback,
		Stage:     e.stages.first().Name,
		Reason:    reason,
		Timestamp: e.now(),
	})
	e.persist(ctx)
	return nil
}

func (e *Engine) disconnectAll(ctx context.Context, flag string) {
	if e.integrations == nil {
		return
	}
	for _, it := range e.integrations.ForFlag(flag) {
		if err := it.Disconnect(ctx); err != nil {
			e.logger.Error("rollback disconnect failed",
				slog.String("flag", flag),
				slog.String("integration", it.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// RunHealthCheck evaluates the flag's health now. With a plan, the result is
// recorded in its health history and an unhealthy IN_PROGRESS plan is paused or
// rolled back according to its options. Without a plan, the default options apply
// and nothing is recorded.
func (e *Engine) RunHealthCheck(ctx context.Context, flag string) HealthCheckResult {
	ps := e.lookup(flag)
	if ps == nil {
		return e.evaluateHealth(ctx, healthInput{flag: flag, opts: e.defaults})
	}

	ps.opMu.Lock()
	defer ps.opMu.Unlock()
	res, ok := e.checkLocked(ctx, ps)
	if ok && !res.Healthy {
		e.onUnhealthy(ctx, ps, res)
	}
	return res
}

// tick is one firing of a plan's ticker. A tick whose ticker was stopped while
// it ran discards its result.
func (e *Engine) tick(ctx context.Context, ps *planState) {
	ps.opMu.Lock()
	defer ps.opMu.Unlock()
	if ctx.Err() != nil {
		return
	}

	res, ok := e.checkLocked(ctx, ps)
	if !ok {
		return
	}
	if !res.Healthy {
		e.onUnhealthy(context.WithoutCancel(ctx), ps, res)
		return
	}
	if p := ps.snapshot(); p.Options.AutoAdvance && p.Status == StatusInProgress {
		if _, err := e.advanceLocked(context.WithoutCancel(ctx), ps, &res); err != nil {
			e.logger.Warn("auto advance failed",
				slog.String("flag", p.Flag),
				slog.String("error", err.Error()),
			)
		}
	}
}

// checkLocked requires ps.opMu. ok is false when ctx ended during the check;
// such a result is not recorded.
func (e *Engine) checkLocked(ctx context.Context, ps *planState) (HealthCheckResult, bool) {
	p := ps.snapshot()
	res := e.evaluateHealth(ctx, healthInput{
		flag:         p.Flag,
		opts:         p.Options,
		stagePercent: e.stagePercent(p.CurrentStage),
	})
	if ctx.Err() != nil {
		return res, false
	}

	ps.mu.Lock()
	ps.plan.recordHealth(res)
	ps.mu.Unlock()
	e.persist(ctx)
	return res, true
}

func (e *Engine) onUnhealthy(ctx context.Context, ps *planState, res HealthCheckResult) {
	p := ps.snapshot()
	if p.Status != StatusInProgress {
		return
	}
	switch {
	case p.Options.RollbackOnFailure:
		if err := e.Rollback(ctx, p.Flag, "automatic rollback: "+res.Reason); err != nil {
			e.logger.Error("automatic rollback failed",
				slog.String("flag", p.Flag),
				slog.String("error", err.Error()),
			)
		}
	case p.Options.PauseOnError:
		// The plan can only be PAUSED or terminal by now; both are fine.
		_, _ = e.pause(ctx, ps, ActionAutoPause, "auto-paused: "+res.Reason)
	}
}

// Validate is the pre-flight check for Start: the flag exists, no plan is
// active for it and every gated integration passes its mock initialization.
// All problems are joined into the returned error.
func (e *Engine) Validate(ctx context.Context, flag string) error {
	var errs []error
	if _, ok := e.flags.GetFlag(flag); !ok {
		errs = append(errs, fmt.Errorf("%w: %q", flags.ErrFlagNotFound, flag))
	}
	if p, ok := e.GetPlan(flag); ok && !p.Status.Terminal() {
		errs = append(errs, fmt.Errorf("%w: %s is %s", ErrRolloutActive, flag, p.Status))
	}
	if e.integrations != nil {
		for _, it := range e.integrations.ForFlag(flag) {
			if err := it.InitMock(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// GetPlan returns a copy of the flag's plan.
func (e *Engine) GetPlan(flag string) (Plan, bool) {
	ps := e.lookup(flag)
	if ps == nil {
		return Plan{}, false
	}
	return ps.snapshot(), true
}

// Plans returns copies of every plan, ordered by flag name.
func (e *Engine) Plans() []Plan {
	e.mu.Lock()
	states := make([]*planState, 0, len(e.plans))
	for _, ps := range e.plans {
		states = append(states, ps)
	}
	e.mu.Unlock()

	out := make([]Plan, 0, len(states))
	for _, ps := range states {
		out = append(out, ps.snapshot())
	}
	slices.SortFunc(out, func(a, b Plan) int { return cmp.Compare(a.Flag, b.Flag) })
	return out
}

// History returns the global transition history, oldest first.
func (e *Engine) History() []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.history)
}

// Close stops every ticker and waits for in-flight ticks until ctx ends.
// Plans keep their status, so a later Restore picks IN_PROGRESS plans up again.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	states := make([]*planState, 0, len(e.plans))
	for _, ps := range e.plans {
		states = append(states, ps)
	}
	e.mu.Unlock()

	var pending []<-chan struct{}
	for _, ps := range states {
		ps.mu.Lock()
		if ps.ticker != nil {
			pending = append(pending, ps.ticker.done)
		}
		stopTickerLocked(ps)
		ps.mu.Unlock()
	}

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *Engine) state(flag string) (*planState, error) {
	ps := e.lookup(flag)
	if ps == nil {
		return nil, fmt.Errorf("%w: %s", ErrRolloutNotFound, flag)
	}
	return ps, nil
}

func (e *Engine) lookup(flag string) *planState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plans[flag]
}

func (e *Engine) stagePercent(name string) int {
	s, err := e.stages.lookup(name)
	if err != nil {
		return 0
	}
	return s.Percent
}

// startTickerLocked requires ps.mu.
func (e *Engine) startTickerLocked(ps *planState) {
	stopTickerLocked(ps)
	ps.ticker = startTicker(ps.plan.Options.HealthCheckInterval, func(ctx context.Context) {
		e.tick(ctx, ps)
	})
}

// stopTickerLocked requires ps.mu.
func stopTickerLocked(ps *planState) {
	if ps.ticker != nil {
		ps.ticker.stop()
		ps.ticker = nil
	}
}

// transitioned publishes a status change: metrics, log line, history entry and a store write.
func (e *Engine) transitioned(ctx context.Context, p Plan, action Action, reason string) {
	observability.RolloutTransitions.WithLabelValues(p.Flag, string(p.Status)).Inc()

	level := slog.LevelInfo
	if action == ActionRollback || action == ActionAutoPause || action == ActionFail {
		level = slog.LevelWarn
	}
	e.logger.Log(ctx, level, "rollout transition",
		slog.String("flag", p.Flag),
		slog.String("plan_id", p.ID),
		slog.String("action", string(action)),
		slog.String("status", string(p.Status)),
		slog.String("stage", p.CurrentStage),
		slog.String("reason", reason),
	)

	e.appendHistory(HistoryEntry{
		Flag:      p.Flag,
		PlanID:    p.ID,
		Action:    action,
		Stage:     p.CurrentStage,
		Reason:    reason,
		Timestamp: p.UpdatedAt,
	})
	e.persist(ctx)
}

func (e *Engine) appendHistory(h HistoryEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, h)
	if n := len(e.history); n > maxGlobalHistory {
		e.history = slices.Clone(e.history[n-maxGlobalHistory:])
	}
}
