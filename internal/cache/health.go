package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// probeTTL keeps the readiness key from outliving the probe.
const probeTTL = 10 * time.Second

// HealthChecker reports Redis as ready when it accepts a write. A ping alone
// passes on a read-only replica, which would fail every override save.
type HealthChecker struct {
	client *redis.Client
	key    string
}

// NewHealthChecker returns a readiness checker that writes under keyPrefix.
func NewHealthChecker(client *redis.Client, keyPrefix string) *HealthChecker {
	return &HealthChecker{client: client, key: keyPrefix + ":readiness"}
}

func (h *HealthChecker) Name() string {
	return "redis"
}

func (h *HealthChecker) Check(ctx context.Context) error {
	if h.client == nil {
		return errors.New("redis client is nil")
	}
	return h.client.Set(ctx, h.key, time.Now().Unix(), probeTTL).Err()
}
