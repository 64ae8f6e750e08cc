// Package observability exposes Prometheus metrics and the liveness/readiness
// probes for featuregate processes.
package observability

import "context"

// Checker defines the contract for any component that needs to report its health status.
// Implementations must be thread-safe and respect the context deadline.
type Checker interface {
	// Name returns the unique identifier of the component (e.g., "postgres", "redis").
	Name() string
	// Check performs the health verification. Returns nil if healthy, or an error if it fails.
	Check(ctx context.Context) error
}

// CheckerFunc adapts a plain function into a named Checker.
type CheckerFunc struct {
	ComponentName string
	Fn            func(ctx context.Context) error
}

// Name returns the component name.
func (c CheckerFunc) Name() string { return c.ComponentName }

// Check runs the wrapped function.
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
