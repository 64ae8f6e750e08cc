package testsupport

import (
	"context"
	"net"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/srab2001/featuregate/internal/cache"
	"github.com/srab2001/featuregate/internal/config"
)

// StartRedis runs redis:7-alpine and returns a client built by
// cache.NewRedisClient. Both are released when the test ends.
func StartRedis(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	ctr, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	endpoint, err := ctr.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		t.Fatalf("unexpected redis endpoint %q: %v", endpoint, err)
	}

	client, err := cache.NewRedisClient(ctx, &config.RedisConfig{
		Host:           host,
		Port:           port,
		PoolSize:       5,
		PingMaxRetries: 5,
		PingBackoff:    500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create redis client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
