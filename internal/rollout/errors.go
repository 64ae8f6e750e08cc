package rollout

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStages is returned for a malformed custom stage list.
	ErrInvalidStages = errors.New("invalid rollout stages")
	// ErrUnknownStage is returned when a stage name is not in the stage list.
	ErrUnknownStage = errors.New("unknown rollout stage")
	// ErrInvalidOptions is returned by Start for out-of-range plan options.
	ErrInvalidOptions = errors.New("invalid rollout options")

	// ErrRolloutActive means the flag already has a non-terminal plan.
	ErrRolloutActive = errors.New("rollout already active")
	// ErrRolloutNotFound means the flag has no plan.
	ErrRolloutNotFound = errors.New("rollout not found")
	// ErrRolloutPaused rejects stage changes on a paused plan.
	ErrRolloutPaused = errors.New("rollout is paused")
	// ErrRolloutTerminal rejects transitions out of COMPLETED, ROLLED_BACK or FAILED.
	ErrRolloutTerminal = errors.New("rollout already finished")

	// ErrUnhealthy is the sentinel behind UnhealthyError.
	ErrUnhealthy = errors.New("rollout health check failed")
	// ErrEngineClosed is returned once Close has been called.
	ErrEngineClosed = errors.New("rollout engine closed")
)

// UnhealthyError aborts an Advance. It carries the failing health check.
type UnhealthyError struct {
	Flag   string
	Result HealthCheckResult
}

func (e *UnhealthyError) Error() string {
	return fmt.Sprintf("rollout %s: unhealthy: %s", e.Flag, e.Result.Reason)
}

func (e *UnhealthyError) Unwrap() error { return ErrUnhealthy }
