// Package database provides the PostgreSQL connection factory.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/srab2001/featuregate/internal/config"
	"github.com/srab2001/featuregate/internal/logger"
)

// NewPostgresPool initializes a PostgreSQL connection pool.
// It returns the pool directly, allowing the caller to manage the lifecycle via Dependency Injection.
func NewPostgresPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config cannot be nil")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// MaxConns prevents the app from starving the DB (connection exhaustion).
	// MinConns keeps some connections warm to reduce latency for new requests.
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	poolCfg.ConnConfig.ConnectTimeout = connectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	log := logger.FromContext(ctx)
	maxRetries := max(cfg.PingMaxRetries, 1)
	backoff := cfg.PingBackoff

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		lastErr = pool.Ping(pingCtx)
		cancel()

		if lastErr == nil {
			log.Info("connected to postgres", slog.Int("attempt", attempt))
			return pool, nil
		}

		log.Warn("postgres ping failed", slog.Int("attempt", attempt), slog.Any("error", lastErr))
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, fmt.Errorf("postgres ping aborted: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	pool.Close()
	return nil, fmt.Errorf("failed to ping database after %d attempts: %w", maxRetries, lastErr)
}
