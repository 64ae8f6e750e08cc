package controlapi

import (
	"strings"
	"time"

	"github.com/srab2001/featuregate/internal/flags"
	"github.com/srab2001/featuregate/internal/rollout"
)

// Flag is the flag resource: the stored configuration plus the local override, if any.
type Flag struct {
	flags.FeatureFlag

	// Override is set when a local override pins the result for every user.
	Override *bool `json:"override,omitempty"`
}

// ListResponse wraps collection endpoints.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

// UpdateFlagRequest defines the payload for partial updates (PATCH).
// Pointers are used to distinguish between "missing field" (do nothing)
// and "false value" (explicit update to false).
type UpdateFlagRequest struct {
	Enabled        *bool           `json:"enabled,omitempty"`
	RolloutPercent *int            `json:"rollout_percent,omitempty"`
	AllowedCohorts *[]string       `json:"allowed_cohorts,omitempty"`
	StartDate      *time.Time      `json:"start_date,omitempty"`
	EndDate        *time.Time      `json:"end_date,omitempty"`
	ClearWindow    bool            `json:"clear_window,omitempty"`
	Metadata       *flags.Metadata `json:"metadata,omitempty"`
}

// Validate checks the fields the evaluator would otherwise reject with a less
// specific error.
func (r *UpdateFlagRequest) Validate() *ErrorResponse {
	var details []ErrorDetail
	if r.RolloutPercent != nil && (*r.RolloutPercent < 0 || *r.RolloutPercent > 100) {
		details = append(details, ErrorDetail{Field: "rollout_percent", Issue: "must be between 0 and 100"})
	}
	if r.AllowedCohorts != nil {
		for _, c := range *r.AllowedCohorts {
			if strings.TrimSpace(c) == "" {
				details = append(details, ErrorDetail{Field: "allowed_cohorts", Issue: "cohort names must not be empty"})
				break
			}
		}
	}
	if r.StartDate != nil && r.EndDate != nil && r.EndDate.Before(*r.StartDate) {
		details = append(details, ErrorDetail{Field: "end_date", Issue: "must not be before start_date"})
	}
	if len(details) > 0 {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Invalid flag update", Details: details}
	}
	return nil
}

// ToUpdate maps the request onto the evaluator's partial update.
func (r *UpdateFlagRequest) ToUpdate() flags.Update {
	return flags.Update{
		Enabled:        r.Enabled,
		RolloutPercent: r.RolloutPercent,
		AllowedCohorts: r.AllowedCohorts,
		StartDate:      r.StartDate,
		EndDate:        r.EndDate,
		Metadata:       r.Metadata,
		ClearWindow:    r.ClearWindow,
	}
}

// IncrementRequest is the payload of POST /flags/{name}/increment.
type IncrementRequest struct {
	Delta int `json:"delta"`
}

// OverrideRequest is the payload of PUT /flags/{name}/override.
type OverrideRequest struct {
	Enabled *bool `json:"enabled"`
}

// SessionRequest sets the session user.
type SessionRequest struct {
	UserID string `json:"user_id"`
	Cohort string `json:"cohort,omitempty"`
}

// EvaluateRequest asks for decisions for one user. Empty Flags means every flag.
type EvaluateRequest struct {
	UserID string   `json:"user_id"`
	Cohort string   `json:"cohort,omitempty"`
	Flags  []string `json:"flags,omitempty"`
}

// EvaluateResponse carries one evaluation per requested flag.
type EvaluateResponse struct {
	User        flags.UserContext  `json:"user"`
	Evaluations []flags.Evaluation `json:"evaluations"`
}

// StartRolloutRequest overrides the engine's default plan options. Missing
// fields keep the default. HealthCheckInterval is a Go duration string ("30s").
type StartRolloutRequest struct {
	HealthCheckInterval *string  `json:"health_check_interval,omitempty"`
	ErrorThreshold      *float64 `json:"error_threshold,omitempty"`
	MinSampleSize       *int     `json:"min_sample_size,omitempty"`
	PauseOnError        *bool    `json:"pause_on_error,omitempty"`
	RollbackOnFailure   *bool    `json:"rollback_on_failure,omitempty"`
	AutoAdvance         *bool    `json:"auto_advance,omitempty"`
	TargetStage         *string  `json:"target_stage,omitempty"`
}

// Apply layers the request over defaults.
func (r *StartRolloutRequest) Apply(defaults rollout.Options) (rollout.Options, *ErrorResponse) {
	opts := defaults
	if r.HealthCheckInterval != nil {
		d, err := time.ParseDuration(*r.HealthCheckInterval)
		if err != nil || d <= 0 {
			return opts, &ErrorResponse{
				Code:    "ERR_INVALID_INPUT",
				Message: "Invalid rollout options",
				Details: []ErrorDetail{{Field: "health_check_interval", Issue: "must be a positive duration such as 30s"}},
			}
		}
		opts.HealthCheckInterval = d
	}
	if r.ErrorThreshold != nil {
		opts.ErrorThreshold = *r.ErrorThreshold
	}
	if r.MinSampleSize != nil {
		opts.MinSampleSize = *r.MinSampleSize
	}
	if r.PauseOnError != nil {
		opts.PauseOnError = *r.PauseOnError
	}
	if r.RollbackOnFailure != nil {
		opts.RollbackOnFailure = *r.RollbackOnFailure
	}
	if r.AutoAdvance != nil {
		opts.AutoAdvance = *r.AutoAdvance
	}
	if r.TargetStage != nil {
		opts.TargetStage = strings.ToUpper(strings.TrimSpace(*r.TargetStage))
	}
	return opts, nil
}

// RollbackRequest carries the operator's reason.
type RollbackRequest struct {
	Reason string `json:"reason"`
}

// RollbackResponse reports the flag rolled back and its plan, if it has one.
type RollbackResponse struct {
	Flag string        `json:"flag"`
	Plan *rollout.Plan `json:"plan,omitempty"`
}

// ValidationResponse is the body of GET /rollouts/{flag}/validate.
type ValidationResponse struct {
	Ready    bool     `json:"ready"`
	Problems []string `json:"problems,omitempty"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}
