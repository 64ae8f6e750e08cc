// Package cache owns the Redis connection and the in-process L1 cache used
// in front of remote storage backends.
package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/srab2001/featuregate/internal/config"
	"github.com/srab2001/featuregate/internal/logger"
)

// NewRedisClient initializes a new Redis client connection using the provided configuration.
// It handles connection pooling, TLS, and initial connectivity checks with retries.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	opts := &redis.Options{
		Addr:            cfg.Address(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(opts)

	if err := pingWithBackoff(ctx, cfg.PingMaxRetries, cfg.PingBackoff, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// pingWithBackoff calls ping up to maxRetries times, doubling the wait between
// attempts. The wait is abandoned as soon as ctx is done.
func pingWithBackoff(ctx context.Context, maxRetries int, backoff time.Duration, ping func(context.Context) error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}
	log := logger.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		log.Info("redis ping attempt", slog.Int("attempt", attempt), slog.Int("max_retries", maxRetries))

		pingCtx, cancel := context.WithTimeout(ctx, backoff+5*time.Second)
		lastErr = ping(pingCtx)
		cancel()

		if lastErr == nil {
			log.Info("redis ping successful", slog.Int("attempt", attempt))
			return nil
		}

		log.Warn("redis ping failed", slog.Int("attempt", attempt), slog.Any("error", lastErr))
		if attempt == maxRetries {
			break
		}

		log.Info("redis waiting before next attempt", slog.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis ping aborted: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return fmt.Errorf("failed to connect to redis after %d retries: %w", maxRetries, lastErr)
}
