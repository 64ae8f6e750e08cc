package flags

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/srab2001/featuregate/internal/kvstore"
	"github.com/srab2001/featuregate/internal/observability"
)

// OverridesKey is the storage key holding the persisted override map.
const OverridesKey = "flags:overrides"

// unknownFlagLabel keeps metric cardinality bounded when callers ask for flags
// that were never registered.
const unknownFlagLabel = "_unknown"

// Evaluator holds the flag table, the override map and the session user.
//
// Flag records are immutable once stored: every mutation builds a new record
// and swaps the pointer under the write lock, so a reader always sees some
// complete prior write.
type Evaluator struct {
	logger *slog.Logger
	store  kvstore.Store
	now    func() time.Time

	mu        sync.RWMutex
	flags     map[string]*FeatureFlag
	overrides map[string]bool
	user      UserContext

	// persistMu orders override writes to the store.
	persistMu sync.Mutex
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithStore persists overrides to s. Without it overrides live in memory only.
func WithStore(s kvstore.Store) Option {
	return func(e *Evaluator) { e.store = s }
}

// WithClock replaces time.Now for validity window checks.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator builds an Evaluator seeded with initial. Every flag is validated
// and names must be unique.
// If logger is nil, it defaults to slog.Default().
func NewEvaluator(logger *slog.Logger, initial []FeatureFlag, opts ...Option) (*Evaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Evaluator{
		logger:    logger,
		now:       time.Now,
		flags:     make(map[string]*FeatureFlag, len(initial)),
		overrides: make(map[string]bool),
		user:      NewUserContext("", DefaultCohort),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, f := range initial {
		if err := e.RegisterFlag(f); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// SetUserContext sets the session user read by IsEnabled.
func (e *Evaluator) SetUserContext(userID, cohort string) {
	u := NewUserContext(userID, cohort)
	e.mu.Lock()
	e.user = u
	e.mu.Unlock()
}

// UserContext returns the session user.
func (e *Evaluator) UserContext() UserContext {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.user
}

// IsEnabled evaluates name for the session user.
func (e *Evaluator) IsEnabled(name string) bool {
	return e.Evaluate(e.UserContext(), name).Enabled
}

// IsEnabledFor evaluates name for an explicit user without touching the session.
func (e *Evaluator) IsEnabledFor(user UserContext, name string) bool {
	return e.Evaluate(user, name).Enabled
}

// Evaluate runs the full decision for one user and reports why.
//
// Order:
//  1. an override wins verbatim
//  2. unknown flags are off
//  3. disabled flags are off
//  4. outside the validity window is off
//  5. the percentage gate decides
//
// Cohort membership does not bypass step 5. A user outside the allowlist is
// still bucketed; the reason records the mismatch.
func (e *Evaluator) Evaluate(user UserContext, name string) Evaluation {
	if user.Cohort == "" {
		user.Cohort = DefaultCohort
	}

	e.mu.RLock()
	override, overridden := e.overrides[name]
	flag := e.flags[name]
	e.mu.RUnlock()

	ev := e.decide(user, name, flag, override, overridden)

	label := name
	if flag == nil {
		label = unknownFlagLabel
	}
	observability.FlagEvaluations.WithLabelValues(label, string(ev.Reason), strconv.FormatBool(ev.Enabled)).Inc()
	return ev
}

func (e *Evaluator) decide(user UserContext, name string, flag *FeatureFlag, override, overridden bool) Evaluation {
	ev := Evaluation{Flag: name, Bucket: -1}

	switch {
	case overridden:
		ev.Enabled, ev.Reason = override, ReasonOverride
		return ev
	case flag == nil:
		ev.Reason = ReasonUnknownFlag
		return ev
	case !flag.Enabled:
		ev.Reason = ReasonDisabled
		return ev
	case !flag.ActiveAt(e.now()):
		ev.Reason = ReasonOutsideWindow
		return ev
	}

	ev.Reason = ReasonPercentage
	if !flag.AllowsCohort(user.Cohort) {
		ev.Reason = ReasonCohortMismatch
	}
	ev.Bucket = Bucket(user.UserID, flag.Name)
	ev.Enabled = InRollout(ev.Bucket, flag.RolloutPercent)
	return ev
}

// GetFlag returns a copy of the named flag.
func (e *Evaluator) GetFlag(name string) (FeatureFlag, bool) {
	e.mu.RLock()
	f, ok := e.flags[name]
	e.mu.RUnlock()
	if !ok {
		return FeatureFlag{}, false
	}
	return f.clone(), true
}

// GetAllFlags returns copies of every flag sorted by name.
func (e *Evaluator) GetAllFlags() []FeatureFlag {
	return e.collect(func(FeatureFlag) bool { return true })
}

// GetFlagsByCategory returns the flags whose metadata category equals category, sorted by name.
func (e *Evaluator) GetFlagsByCategory(category string) []FeatureFlag {
	return e.collect(func(f FeatureFlag) bool { return f.Metadata.Category == category })
}

func (e *Evaluator) collect(keep func(FeatureFlag) bool) []FeatureFlag {
	e.mu.RLock()
	out := make([]FeatureFlag, 0, len(e.flags))
	for _, f := range e.flags {
		if keep(*f) {
			out = append(out, f.clone())
		}
	}
	e.mu.RUnlock()

	slices.SortFunc(out, func(a, b FeatureFlag) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// RegisterFlag adds a new flag. Names are unique for the life of the Evaluator.
func (e *Evaluator) RegisterFlag(f FeatureFlag) error {
	if err := Validate(f); err != nil {
		return err
	}
	rec := f.clone()

	e.mu.Lock()
	if _, exists := e.flags[rec.Name]; exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrFlagExists, rec.Name)
	}
	e.flags[rec.Name] = &rec
	e.mu.Unlock()

	observability.FlagRolloutPercent.WithLabelValues(rec.Name).Set(float64(effectivePercent(rec)))
	e.logger.Debug("flag registered",
		slog.String("flag", rec.Name),
		slog.Bool("enabled", rec.Enabled),
		slog.Int("rollout_percent", rec.RolloutPercent),
	)
	return nil
}

// UpdateFlag applies a partial update. The result is validated before it is
// stored; on error the flag is unchanged.
func (e *Evaluator) UpdateFlag(name string, u Update) error {
	_, err := e.mutate(name, "update", u.apply)
	return err
}

// EnableFlag turns the flag on without touching its percentage.
func (e *Evaluator) EnableFlag(name string) error {
	_, err := e.mutate(name, "enable", func(f FeatureFlag) FeatureFlag {
		f.Enabled = true
		return f
	})
	return err
}

// DisableFlag turns the flag off without touching its percentage.
func (e *Evaluator) DisableFlag(name string) error {
	_, err := e.mutate(name, "disable", func(f FeatureFlag) FeatureFlag {
		f.Enabled = false
		return f
	})
	return err
}

// IncrementRollout adds delta to the rollout percentage, clamped to [0,100],
// and returns the new value.
func (e *Evaluator) IncrementRollout(name string, delta int) (int, error) {
	f, err := e.mutate(name, "increment", func(f FeatureFlag) FeatureFlag {
		f.RolloutPercent = min(max(f.RolloutPercent+delta, 0), 100)
		return f
	})
	if err != nil {
		return 0, err
	}
	return f.RolloutPercent, nil
}

// Rollback disables the flag and resets its percentage to 0.
func (e *Evaluator) Rollback(name string) error {
	_, err := e.mutate(name, "rollback", func(f FeatureFlag) FeatureFlag {
		f.Enabled = false
		f.RolloutPercent = 0
		return f
	})
	return err
}

func (e *Evaluator) mutate(name, op string, fn func(FeatureFlag) FeatureFlag) (FeatureFlag, error) {
	e.mu.Lock()
	cur, ok := e.flags[name]
	if !ok {
		e.mu.Unlock()
		return FeatureFlag{}, fmt.Errorf("%w: %q", ErrFlagNotFound, name)
	}

	next := fn(cur.clone())
	next.Name = cur.Name
	if err := Validate(next); err != nil {
		e.mu.Unlock()
		return FeatureFlag{}, err
	}
	e.flags[name] = &next
	e.mu.Unlock()

	observability.FlagMutations.WithLabelValues(name, op).Inc()
	observability.FlagRolloutPercent.WithLabelValues(name).Set(float64(effectivePercent(next)))
	e.logger.Info("flag updated",
		slog.String("flag", name),
		slog.String("operation", op),
		slog.Bool("enabled", next.Enabled),
		slog.Int("rollout_percent", next.RolloutPercent),
	)
	return next.clone(), nil
}

// effectivePercent is what the rollout gauge reports: a disabled flag serves nobody.
func effectivePercent(f FeatureFlag) int {
	if !f.Enabled {
		return 0
	}
	return f.RolloutPercent
}

// SetOverride forces name to value until cleared. The flag does not need to be
// registered. A persistence failure is logged and the override still applies.
func (e *Evaluator) SetOverride(ctx context.Context, name string, value bool) {
	e.changeOverrides(ctx, func(m map[string]bool) { m[name] = value })
	e.logger.Info("override set", slog.String("flag", name), slog.Bool("value", value))
}

// ClearOverride removes the override for name, restoring the computed value.
func (e *Evaluator) ClearOverride(ctx context.Context, name string) {
	e.changeOverrides(ctx, func(m map[string]bool) { delete(m, name) })
	e.logger.Info("override cleared", slog.String("flag", name))
}

// ClearAllOverrides removes every override.
func (e *Evaluator) ClearAllOverrides(ctx context.Context) {
	e.changeOverrides(ctx, func(m map[string]bool) { clear(m) })
	e.logger.Info("all overrides cleared")
}

// Overrides returns a copy of the override map.
func (e *Evaluator) Overrides() map[string]bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.overrides)
}

func (e *Evaluator) changeOverrides(ctx context.Context, fn func(map[string]bool)) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	fn(e.overrides)
	snapshot := maps.Clone(e.overrides)
	e.mu.Unlock()

	if err := kvstore.SaveJSON(ctx, e.store, OverridesKey, snapshot); err != nil {
		e.logger.Warn("failed to persist overrides, keeping them in memory",
			slog.String("error", err.Error()),
		)
	}
}

// LoadOverrides replaces the in-memory overrides with the persisted ones and
// returns how many were loaded. Missing or corrupt data loads nothing.
func (e *Evaluator) LoadOverrides(ctx context.Context) int {
	stored, found := kvstore.LoadJSON[map[string]bool](ctx, e.store, OverridesKey, e.logger)
	if !found {
		return 0
	}

	e.persistMu.Lock()
	e.mu.Lock()
	e.overrides = maps.Clone(stored)
	if e.overrides == nil {
		e.overrides = make(map[string]bool)
	}
	e.mu.Unlock()
	e.persistMu.Unlock()

	e.logger.Info("overrides restored", slog.Int("count", len(stored)))
	return len(stored)
}
