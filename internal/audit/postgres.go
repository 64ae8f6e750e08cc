package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres reads and writes the audit_events table (migrations/002_audit_events.sql).
type Postgres struct {
	pool      *pgxpool.Pool
	insertSQL string
	countSQL  string
}

// NewPostgres binds to table. The name is interpolated into SQL and must be
// validated beforehand.
func NewPostgres(pool *pgxpool.Pool, table string) *Postgres {
	if pool == nil {
		panic("audit: postgres pool cannot be nil")
	}
	return &Postgres{
		pool: pool,
		insertSQL: fmt.Sprintf(`
			INSERT INTO %s (created_at, category, action, level, details)
			VALUES ($1, $2, $3, $4, $5)`, table),
		countSQL: fmt.Sprintf(`
			SELECT level, count(*)
			FROM %s
			WHERE details->>'integration' = $1 AND created_at >= $2
			GROUP BY level`, table),
	}
}

// Record implements Recorder.
func (p *Postgres) Record(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("%w: details: %w", ErrInvalidEvent, err)
	}

	if _, err := p.pool.Exec(ctx, p.insertSQL, e.Timestamp, e.Category, e.Action, string(e.Level), raw); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// CountByLevel implements Source.
func (p *Postgres) CountByLevel(ctx context.Context, integration string, window time.Duration) (map[Level]int, error) {
	rows, err := p.pool.Query(ctx, p.countSQL, integration, time.Now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer rows.Close()

	counts := make(map[Level]int)
	for rows.Next() {
		var (
			level string
			n     int64
		)
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrSourceUnavailable, err)
		}
		counts[Level(level)] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return counts, nil
}
