package kvstore_test

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srab2001/featuregate/internal/kvstore"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return m, client
}

func TestRedis(t *testing.T) {
	ctx := context.Background()
	m, client := newMiniRedis(t)
	s := kvstore.NewRedis(client, "fg")

	_, found, err := s.Load(ctx, "rollout:plans")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Save(ctx, "rollout:plans", []byte(`{"a":1}`)))
	raw, err := m.Get("fg:rollout:plans")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, raw)

	got, found, err := s.Load(ctx, "rollout:plans")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"a":1}`, string(got))

	require.NoError(t, s.Delete(ctx, "rollout:plans"))
	assert.False(t, m.Exists("fg:rollout:plans"))
}

func TestRedis_BackendDown(t *testing.T) {
	ctx := context.Background()
	m, client := newMiniRedis(t)
	s := kvstore.NewRedis(client, "fg")
	m.Close()

	_, _, err := s.Load(ctx, "k")
	require.ErrorIs(t, err, kvstore.ErrStorage)

	err = s.Save(ctx, "k", []byte("v"))
	require.ErrorIs(t, err, kvstore.ErrStorage)

	// Typed reads degrade to defaults instead of failing.
	v, found := kvstore.LoadJSON[map[string]bool](ctx, s, "k", nil)
	assert.False(t, found)
	assert.Nil(t, v)
}
