package logger

import (
	"context"
	"log/slog"
)

// contextKey is a private type to prevent key collisions in the context map.
type contextKey struct{}

// WithContext returns a new context carrying the provided logger.
// HTTP middleware and gRPC interceptors use it to attach request-scoped loggers.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext retrieves the logger from the context. It never returns nil:
// without an injected logger it falls back to slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	return FromContextOr(ctx, slog.Default())
}

// FromContextOr retrieves the logger from the context, or fallback when none was injected.
// Services holding their own logger use it so request attributes win over component ones.
func FromContextOr(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	if fallback == nil {
		return slog.Default()
	}
	return fallback
}
