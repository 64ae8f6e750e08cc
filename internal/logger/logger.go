// Package logger provides a configured structured logger for the application.
// It wraps the standard library "log/slog" package to ensure consistent formatting
// (JSON in production, Text in development) and level management across components.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/srab2001/featuregate/internal/config"
)

// New creates and returns a new *slog.Logger instance based on the provided config.
// Output is written to os.Stdout.
func New(cfg *config.AppConfig) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter creates a *slog.Logger writing to w. Useful for tests and CLIs
// that want log output on stderr.
func NewWithWriter(cfg *config.AppConfig, w io.Writer) *slog.Logger {
	if cfg == nil {
		panic("logger: config cannot be nil")
	}

	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.LogLevel),
		// AddSource adds the file:line to the log (useful for debugging, expensive in prod)
		AddSource: cfg.Environment != config.EnvironmentProduction,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		// JSON is the safe default for anything we don't recognise.
		handler = slog.NewJSONHandler(w, opts)
	}

	// These attributes appear in every log line emitted by this logger or its children.
	return slog.New(handler).With(
		slog.String("service", cfg.Name),
		slog.String("version", cfg.Version),
		slog.String("env", cfg.Environment),
	)
}

// Component derives a child logger tagged with the owning component name
// (e.g. "rollout", "integration"). A nil parent falls back to slog.Default().
func Component(parent *slog.Logger, name string) *slog.Logger {
	if parent == nil {
		parent = slog.Default()
	}
	return parent.With(slog.String("component", name))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel converts a string to slog.Level. Defaults to INFO.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	// UnmarshalText handles case insensitivity (INFO, info, Info)
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
