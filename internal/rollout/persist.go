package rollout

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/srab2001/featuregate/internal/kvstore"
)

// Storage keys of the persisted engine state.
const (
	PlansKey   = "rollout:plans"
	HistoryKey = "rollout:history"
)

// persist writes every plan and the global history. Failures are logged; the
// in-memory state stays authoritative.
func (e *Engine) persist(ctx context.Context) {
	if e.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	plans := make(map[string]Plan)
	for _, p := range e.Plans() {
		plans[p.Flag] = p
	}
	if err := kvstore.SaveJSON(ctx, e.store, PlansKey, plans); err != nil {
		e.logger.Warn("failed to persist rollout plans", slog.String("error", err.Error()))
	}
	if err := kvstore.SaveJSON(ctx, e.store, HistoryKey, e.History()); err != nil {
		e.logger.Warn("failed to persist rollout history", slog.String("error", err.Error()))
	}
}

// Restore loads persisted plans and history. Flags that already have a plan in
// memory are skipped. IN_PROGRESS plans get their ticker back; a plan whose
// stages or options no longer resolve against the stage list is marked FAILED.
// Missing or corrupt entries are treated as empty. It returns the number of
// plans restored.
func (e *Engine) Restore(ctx context.Context) int {
	plans, _ := kvstore.LoadJSON[map[string]Plan](ctx, e.store, PlansKey, e.logger)
	history, _ := kvstore.LoadJSON[[]HistoryEntry](ctx, e.store, HistoryKey, e.logger)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0
	}

	merged := append(slices.Clone(history), e.history...)
	if n := len(merged); n > maxGlobalHistory {
		merged = merged[n-maxGlobalHistory:]
	}
	e.history = merged

	restored := 0
	for flag, p := range plans {
		if _, exists := e.plans[flag]; exists || flag == "" {
			continue
		}
		p.Flag = flag
		if !p.Status.Terminal() {
			if err := e.checkRestored(p); err != nil {
				p.finish(StatusFailed, err.Error(), e.now())
				e.logger.Warn("restored rollout is no longer valid",
					slog.String("flag", flag),
					slog.String("plan_id", p.ID),
					slog.String("error", err.Error()),
				)
			}
		}

		ps := &planState{plan: p.clone()}
		if p.Status == StatusInProgress {
			ps.mu.Lock()
			e.startTickerLocked(ps)
			ps.mu.Unlock()
		}
		e.plans[flag] = ps
		restored++
	}
	e.mu.Unlock()

	if restored > 0 {
		e.logger.Info("rollout plans restored", slog.Int("count", restored))
	}
	return restored
}

func (e *Engine) checkRestored(p Plan) error {
	if _, err := e.stages.lookup(p.CurrentStage); err != nil {
		return fmt.Errorf("current stage: %w", err)
	}
	if err := p.Options.validate(e.stages); err != nil {
		return err
	}
	if p.TargetStage != p.Options.TargetStage {
		if _, err := e.stages.lookup(p.TargetStage); err != nil {
			return fmt.Errorf("target stage: %w", err)
		}
	}
	if _, ok := e.flags.GetFlag(p.Flag); !ok {
		return fmt.Errorf("flag %q is no longer configured", p.Flag)
	}
	return nil
}
