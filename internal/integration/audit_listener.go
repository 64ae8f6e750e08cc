package integration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/srab2001/featuregate/internal/audit"
)

// auditCategory tags every event written by AuditListener.
const auditCategory = "integration"

// AuditListener writes integration events to rec so the rollout error rate
// reflects real traffic. Status changes are not recorded; they are implied by
// the connect/disconnect events.
func AuditListener(rec audit.Recorder, logger *slog.Logger) Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return func(e Event) {
		entry, ok := auditEntry(e)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rec.Record(ctx, entry); err != nil {
			logger.Warn("failed to record integration audit event",
				slog.String("integration", e.Integration),
				slog.String("event", string(e.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func auditEntry(e Event) (audit.Event, bool) {
	details := map[string]any{audit.DetailIntegration: e.Integration}
	entry := audit.Event{Timestamp: e.Time, Category: auditCategory, Details: details}

	switch e.Type {
	case EventOperation:
		entry.Action, entry.Level = "operation", audit.LevelInfo
		details["duration_ms"] = e.Duration.Milliseconds()
	case EventError:
		entry.Action, entry.Level = "operation_failed", audit.LevelError
		var connErr *ConnectionError
		if errors.As(e.Err, &connErr) {
			entry.Action, entry.Level = "connect_failed", audit.LevelCritical
		}
	case EventConnected:
		entry.Action, entry.Level = "connected", audit.LevelInfo
	case EventDisconnected:
		entry.Action, entry.Level = "disconnected", audit.LevelInfo
	case EventRetrying:
		entry.Action, entry.Level = "connect_retry", audit.LevelWarn
		details["attempt"] = e.Attempt
	default:
		return audit.Event{}, false
	}
	if e.Err != nil {
		details["error"] = e.Err.Error()
	}
	return entry, true
}
