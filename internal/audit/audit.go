// Package audit is the read side of the audit trail as the rollout engine sees
// it: per-integration event counts grouped by level, reduced to an error rate.
// It also carries the write side integrations use to feed that trail.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Level is the severity of an audit event.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelCritical:
		return true
	}
	return false
}

// IsFailure reports whether l counts towards the error rate.
func (l Level) IsFailure() bool {
	return l == LevelError || l == LevelCritical
}

// DetailIntegration is the Details key an event is tagged with.
const DetailIntegration = "integration"

var (
	// ErrInvalidEvent is returned when recording an event without action or with an unknown level.
	ErrInvalidEvent = errors.New("invalid audit event")

	// ErrSourceUnavailable wraps read failures of a Source.
	ErrSourceUnavailable = errors.New("audit source unavailable")
)

// Event is a single audit log entry.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Category  string         `json:"category"`
	Action    string         `json:"action"`
	Level     Level          `json:"level"`
	Details   map[string]any `json:"details,omitempty"`
}

// Integration returns the integration the event is tagged with, if any.
func (e Event) Integration() string {
	s, _ := e.Details[DetailIntegration].(string)
	return s
}

// Validate checks the fields a stored event must carry.
func (e Event) Validate() error {
	if e.Action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidEvent)
	}
	if !e.Level.Valid() {
		return fmt.Errorf("%w: unknown level %q", ErrInvalidEvent, e.Level)
	}
	return nil
}

// Source counts events tagged with an integration inside a trailing window.
type Source interface {
	CountByLevel(ctx context.Context, integration string, window time.Duration) (map[Level]int, error)
}

// Recorder appends events to the trail.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// Rate is an error rate together with the counts it was computed from.
type Rate struct {
	Failures int     `json:"failures"`
	Total    int     `json:"total"`
	Value    float64 `json:"value"`
}

// ErrorRate reduces level counts to (error+critical)/total. No events is a rate of 0.
func ErrorRate(counts map[Level]int) Rate {
	var r Rate
	for lvl, n := range counts {
		r.Total += n
		if lvl.IsFailure() {
			r.Failures += n
		}
	}
	if r.Total > 0 {
		r.Value = float64(r.Failures) / float64(r.Total)
	}
	return r
}
