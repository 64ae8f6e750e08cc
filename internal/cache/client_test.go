package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srab2001/featuregate/internal/config"
)

func TestNewRedisClient(t *testing.T) {
	m := miniredis.RunT(t)

	cfg := &config.RedisConfig{
		Host:           m.Host(),
		Port:           m.Port(),
		PoolSize:       2,
		PingMaxRetries: 1,
		PingBackoff:    time.Millisecond,
	}
	client, err := NewRedisClient(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	assert.Equal(t, "v", mustGet(t, m, "k"))
}

func mustGet(t *testing.T, m *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := m.Get(key)
	require.NoError(t, err)
	return v
}

func TestNewRedisClient_NilConfig(t *testing.T) {
	_, err := NewRedisClient(context.Background(), nil)
	assert.Error(t, err)
}

func TestPingWithBackoff(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := pingWithBackoff(context.Background(), 3, time.Millisecond, func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns last error when attempts are exhausted", func(t *testing.T) {
		calls := 0
		err := pingWithBackoff(context.Background(), 2, time.Millisecond, func(context.Context) error {
			calls++
			return errors.New("boom")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 2 retries")
		assert.Equal(t, 2, calls)
	})

	t.Run("stops waiting when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		start := time.Now()
		err := pingWithBackoff(ctx, 5, time.Hour, func(context.Context) error {
			calls++
			cancel()
			return errors.New("down")
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
		assert.Less(t, time.Since(start), time.Second)
	})
}
