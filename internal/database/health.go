package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthChecker reports PostgreSQL as ready once it answers a ping and every
// table the configured backends write to exists.
type HealthChecker struct {
	pool   *pgxpool.Pool
	tables []string
}

// NewHealthChecker returns a readiness checker for pool. tables are the
// relations that must be present, typically the kv and audit tables.
func NewHealthChecker(pool *pgxpool.Pool, tables ...string) *HealthChecker {
	return &HealthChecker{pool: pool, tables: tables}
}

func (h *HealthChecker) Name() string {
	return "postgres"
}

// Check pings the pool, then looks every table up with to_regclass so a
// database that was never migrated is reported by name.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.pool == nil {
		return errors.New("postgres pool is nil")
	}
	if err := h.pool.Ping(ctx); err != nil {
		return err
	}
	for _, table := range h.tables {
		var present bool
		if err := h.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&present); err != nil {
			return fmt.Errorf("look up table %s: %w", table, err)
		}
		if !present {
			return fmt.Errorf("table %s does not exist, run the migrations", table)
		}
	}
	return nil
}
