package rollout

import (
	"fmt"
	"slices"
	"time"

	"github.com/srab2001/featuregate/internal/config"
)

// Status is the lifecycle state of a Plan.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusPaused     Status = "PAUSED"
	StatusCompleted  Status = "COMPLETED"
	StatusRolledBack Status = "ROLLED_BACK"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether s absorbs further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRolledBack || s == StatusFailed
}

const (
	// maxHealthHistory bounds Plan.HealthHistory.
	maxHealthHistory = 100
	// maxGlobalHistory bounds the engine-wide transition history.
	maxGlobalHistory = 50
)

// Options tune a single plan.
type Options struct {
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	// ErrorThreshold is the highest tolerated error rate, in [0,1].
	ErrorThreshold float64 `json:"error_threshold"`
	// MinSampleSize is the number of audit events needed before the error rate counts.
	MinSampleSize int  `json:"min_sample_size"`
	PauseOnError  bool `json:"pause_on_error"`
	// RollbackOnFailure rolls back instead of pausing when a tick is unhealthy.
	RollbackOnFailure bool `json:"rollback_on_failure"`
	// AutoAdvance moves one stage forward on every healthy tick.
	AutoAdvance bool   `json:"auto_advance"`
	TargetStage string `json:"target_stage"`
}

// OptionsFromConfig maps the ROLLOUT_* environment section to plan defaults.
func OptionsFromConfig(cfg *config.RolloutConfig) Options {
	return Options{
		HealthCheckInterval: cfg.HealthCheckInterval,
		ErrorThreshold:      cfg.ErrorThreshold,
		MinSampleSize:       cfg.MinSampleSize,
		PauseOnError:        cfg.PauseOnError,
		RollbackOnFailure:   cfg.RollbackOnFailure,
		AutoAdvance:         cfg.AutoAdvance,
		TargetStage:         cfg.TargetStage,
	}
}

func (o Options) validate(stages stageList) error {
	if o.HealthCheckInterval <= 0 {
		return fmt.Errorf("%w: health check interval must be positive, got %s", ErrInvalidOptions, o.HealthCheckInterval)
	}
	if o.ErrorThreshold < 0 || o.ErrorThreshold > 1 {
		return fmt.Errorf("%w: error threshold must be between 0 and 1, got %v", ErrInvalidOptions, o.ErrorThreshold)
	}
	if o.MinSampleSize < 0 {
		return fmt.Errorf("%w: min sample size must not be negative, got %d", ErrInvalidOptions, o.MinSampleSize)
	}
	if _, err := stages.lookup(o.TargetStage); err != nil {
		return err
	}
	return nil
}

// StageEntry records that a stage was applied.
type StageEntry struct {
	Stage     string    `json:"stage"`
	Percent   int       `json:"percent"`
	Timestamp time.Time `json:"timestamp"`
}

// Plan is the state of one flag's rollout. Values handed out by the Engine are copies.
type Plan struct {
	ID            string              `json:"id"`
	Flag          string              `json:"flag"`
	Status        Status              `json:"status"`
	CurrentStage  string              `json:"current_stage"`
	TargetStage   string              `json:"target_stage"`
	StageHistory  []StageEntry        `json:"stage_history"`
	HealthHistory []HealthCheckResult `json:"health_history"`
	Options       Options             `json:"options"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`

	// Reason explains the latest pause, rollback or failure.
	Reason string `json:"reason,omitempty"`
}

func (p Plan) clone() Plan {
	out := p
	out.StageHistory = slices.Clone(p.StageHistory)
	out.HealthHistory = make([]HealthCheckResult, len(p.HealthHistory))
	for i, r := range p.HealthHistory {
		out.HealthHistory[i] = r.clone()
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

func (p *Plan) recordHealth(r HealthCheckResult) {
	p.HealthHistory = append(p.HealthHistory, r)
	if n := len(p.HealthHistory); n > maxHealthHistory {
		p.HealthHistory = slices.Clone(p.HealthHistory[n-maxHealthHistory:])
	}
}

func (p *Plan) finish(s Status, reason string, at time.Time) {
	p.Status = s
	p.Reason = reason
	p.UpdatedAt = at
	p.CompletedAt = &at
}

// Action names a transition in the global history.
type Action string

const (
	ActionStart     Action = "start"
	ActionAdvance   Action = "advance"
	ActionPause     Action = "pause"
	ActionResume    Action = "resume"
	ActionComplete  Action = "complete"
	ActionFail      Action = "fail"
	ActionRollback  Action = "rollback"
	ActionAutoPause Action = "auto_pause"
)

// HistoryEntry is one line of the engine-wide rollout history.
type HistoryEntry struct {
	Flag      string    `json:"flag"`
	PlanID    string    `json:"plan_id,omitempty"`
	Action    Action    `json:"action"`
	Stage     string    `json:"stage,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
