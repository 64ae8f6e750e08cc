// Package flags implements the flag evaluator: a deterministic per-user decision
// over static flag configuration, local overrides and a session user context.
package flags

import (
	"slices"
	"time"
)

const (
	// CohortAll is the wildcard cohort. A flag listing it admits every user.
	CohortAll = "all"

	// DefaultCohort is assigned to users that do not declare one.
	DefaultCohort = "default"
)

// Metadata is informational only and never influences evaluation.
type Metadata struct {
	Category    string `json:"category,omitempty" yaml:"category"`
	Description string `json:"description,omitempty" yaml:"description"`
	Version     string `json:"version,omitempty" yaml:"version"`
}

// FeatureFlag is the configuration of a single capability gate.
// Values handed out by the Evaluator are copies; mutating them has no effect.
type FeatureFlag struct {
	Name           string     `json:"name" yaml:"name" validate:"required,max=128"`
	Enabled        bool       `json:"enabled" yaml:"enabled"`
	RolloutPercent int        `json:"rollout_percent" yaml:"rollout_percent" validate:"min=0,max=100"`
	AllowedCohorts []string   `json:"allowed_cohorts" yaml:"allowed_cohorts" validate:"dive,required"`
	StartDate      *time.Time `json:"start_date,omitempty" yaml:"start_date"`
	EndDate        *time.Time `json:"end_date,omitempty" yaml:"end_date"`
	Metadata       Metadata   `json:"metadata" yaml:"metadata"`
}

// AllowsCohort reports whether cohort is on the allowlist. An empty allowlist
// admits nobody; CohortAll admits everybody.
func (f FeatureFlag) AllowsCohort(cohort string) bool {
	return slices.Contains(f.AllowedCohorts, CohortAll) || slices.Contains(f.AllowedCohorts, cohort)
}

// ActiveAt reports whether t falls inside the optional [StartDate, EndDate] window.
// Both bounds are inclusive.
func (f FeatureFlag) ActiveAt(t time.Time) bool {
	if f.StartDate != nil && t.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && t.After(*f.EndDate) {
		return false
	}
	return true
}

func (f FeatureFlag) clone() FeatureFlag {
	out := f
	out.AllowedCohorts = slices.Clone(f.AllowedCohorts)
	if f.StartDate != nil {
		s := *f.StartDate
		out.StartDate = &s
	}
	if f.EndDate != nil {
		e := *f.EndDate
		out.EndDate = &e
	}
	return out
}

// UserContext identifies who is being evaluated.
type UserContext struct {
	UserID string `json:"user_id"`
	Cohort string `json:"cohort"`
}

// NewUserContext builds a UserContext, defaulting an empty cohort to DefaultCohort.
func NewUserContext(userID, cohort string) UserContext {
	if cohort == "" {
		cohort = DefaultCohort
	}
	return UserContext{UserID: userID, Cohort: cohort}
}

// Update is a partial flag mutation. Nil fields are left untouched.
type Update struct {
	Enabled        *bool      `json:"enabled,omitempty"`
	RolloutPercent *int       `json:"rollout_percent,omitempty"`
	AllowedCohorts *[]string  `json:"allowed_cohorts,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	Metadata       *Metadata  `json:"metadata,omitempty"`

	// ClearWindow removes both window bounds before StartDate/EndDate are applied.
	ClearWindow bool `json:"clear_window,omitempty"`
}

func (u Update) apply(f FeatureFlag) FeatureFlag {
	out := f.clone()
	if u.Enabled != nil {
		out.Enabled = *u.Enabled
	}
	if u.RolloutPercent != nil {
		out.RolloutPercent = *u.RolloutPercent
	}
	if u.AllowedCohorts != nil {
		out.AllowedCohorts = slices.Clone(*u.AllowedCohorts)
	}
	if u.ClearWindow {
		out.StartDate, out.EndDate = nil, nil
	}
	if u.StartDate != nil {
		s := *u.StartDate
		out.StartDate = &s
	}
	if u.EndDate != nil {
		e := *u.EndDate
		out.EndDate = &e
	}
	if u.Metadata != nil {
		out.Metadata = *u.Metadata
	}
	return out
}

// Reason explains which step of the evaluation produced the result.
type Reason string

const (
	ReasonOverride       Reason = "override"
	ReasonUnknownFlag    Reason = "unknown_flag"
	ReasonDisabled       Reason = "disabled"
	ReasonOutsideWindow  Reason = "outside_window"
	ReasonCohortMismatch Reason = "cohort_mismatch"
	ReasonPercentage     Reason = "percentage"
)

// Evaluation is the outcome of evaluating one flag for one user.
type Evaluation struct {
	Flag    string `json:"flag"`
	Enabled bool   `json:"enabled"`
	Reason  Reason `json:"reason"`

	// Bucket is the user's bucket in [0,99], or -1 when evaluation stopped before bucketing.
	Bucket int `json:"bucket"`
}
