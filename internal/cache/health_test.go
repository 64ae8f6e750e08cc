package cache_test

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srab2001/featuregate/internal/cache"
)

func TestHealthChecker(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer client.Close()

	checker := cache.NewHealthChecker(client, "featuregate")
	assert.Equal(t, "redis", checker.Name())
	require.NoError(t, checker.Check(context.Background()))

	// The probe key is written with a TTL so it never accumulates.
	assert.True(t, m.Exists("featuregate:readiness"))
	assert.Positive(t, m.TTL("featuregate:readiness"))

	m.Close()
	assert.Error(t, checker.Check(context.Background()))

	assert.Error(t, cache.NewHealthChecker(nil, "featuregate").Check(context.Background()))
}
