package integration

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrIntegrationDisabled is returned when the gating flag is off.
	ErrIntegrationDisabled = errors.New("integration disabled")

	// ErrIntegrationNotConnected is returned by Execute outside the CONNECTED state.
	ErrIntegrationNotConnected = errors.New("integration not connected")

	// ErrIntegrationExists is returned when registering a duplicate name.
	ErrIntegrationExists = errors.New("integration already registered")

	// ErrIntegrationNotFound is returned by lookups on unknown names.
	ErrIntegrationNotFound = errors.New("integration not found")

	// ErrConnectAborted is returned by Connect when Disconnect or the caller's
	// context cancelled it before it finished.
	ErrConnectAborted = errors.New("connect aborted")

	// ErrConnectInProgress is returned by Connect while another Connect is running.
	ErrConnectInProgress = errors.New("connect already in progress")

	// ErrRateLimited marks operation failures caused by the remote throttling us.
	ErrRateLimited = errors.New("rate limited")
)

// ConnectionError is returned once every connect attempt has failed.
type ConnectionError struct {
	Integration string
	Attempts    int
	Err         error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("integration %s: connect failed after %d attempts: %v", e.Integration, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// OperationError wraps a failure returned by an operation passed to Execute.
type OperationError struct {
	Integration string
	Err         error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("integration %s: operation failed: %v", e.Integration, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// RateLimitError lets an operation report throttling. The integration moves
// to RATE_LIMITED until RetryAfter has elapsed.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
