package kvstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srab2001/featuregate/internal/cache"
	"github.com/srab2001/featuregate/internal/config"
	"github.com/srab2001/featuregate/internal/kvstore"
	"github.com/srab2001/featuregate/internal/logger"
	"github.com/srab2001/featuregate/internal/testsupport"
)

// failingStore returns err from every operation and counts calls.
type failingStore struct {
	err   error
	loads int
	saves int
}

func (f *failingStore) Save(context.Context, string, []byte) error {
	f.saves++
	return f.err
}

func (f *failingStore) Load(context.Context, string) ([]byte, bool, error) {
	f.loads++
	return nil, false, f.err
}

func (f *failingStore) Delete(context.Context, string) error { return f.err }

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := kvstore.NewMemory()

	_, found, err := m.Load(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	value := []byte("hello")
	require.NoError(t, m.Save(ctx, "k", value))
	value[0] = 'j'

	got, found, err := m.Load(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hello", string(got), "stored value must not alias the caller's slice")

	require.NoError(t, m.Delete(ctx, "k"))
	require.NoError(t, m.Delete(ctx, "k"))
	assert.Empty(t, m.Keys())
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	log := logger.Discard()

	t.Run("round trip", func(t *testing.T) {
		m := kvstore.NewMemory()
		require.NoError(t, kvstore.SaveJSON(ctx, m, "p", payload{Name: "a", Count: 2}))

		got, found := kvstore.LoadJSON[payload](ctx, m, "p", log)
		assert.True(t, found)
		assert.Equal(t, payload{Name: "a", Count: 2}, got)
	})

	t.Run("missing key yields zero value", func(t *testing.T) {
		got, found := kvstore.LoadJSON[map[string]bool](ctx, kvstore.NewMemory(), "absent", log)
		assert.False(t, found)
		assert.Nil(t, got)
	})

	t.Run("corrupt payload yields zero value", func(t *testing.T) {
		m := kvstore.NewMemory()
		require.NoError(t, m.Save(ctx, "bad", []byte("{not json")))

		testsupport.AssertMetricDelta(t, "featuregate_storage_errors_total", map[string]string{"operation": "decode"}, 1, func() {
			got, found := kvstore.LoadJSON[payload](ctx, m, "bad", log)
			assert.False(t, found)
			assert.Equal(t, payload{}, got)
		})
	})

	t.Run("backend failure yields zero value", func(t *testing.T) {
		f := &failingStore{err: errors.New("connection reset")}
		got, found := kvstore.LoadJSON[payload](ctx, f, "p", log)
		assert.False(t, found)
		assert.Equal(t, payload{}, got)
		assert.Equal(t, 1, f.loads)
	})

	t.Run("nil store is a no-op", func(t *testing.T) {
		require.NoError(t, kvstore.SaveJSON(ctx, nil, "p", payload{}))
		_, found := kvstore.LoadJSON[payload](ctx, nil, "p", log)
		assert.False(t, found)
	})
}

func TestLayered(t *testing.T) {
	ctx := context.Background()

	newL1 := func(t *testing.T) *cache.MemoryCache[[]byte] {
		l1, err := cache.NewMemoryCache[[]byte](16, time.Minute)
		require.NoError(t, err)
		t.Cleanup(l1.Close)
		return l1
	}

	t.Run("reads are served from L1 after the first load", func(t *testing.T) {
		l2 := kvstore.NewMemory()
		require.NoError(t, l2.Save(ctx, "k", []byte("v1")))
		s := kvstore.NewLayered(newL1(t), l2)

		got, found, err := s.Load(ctx, "k")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "v1", string(got))

		// Changing L2 behind the cache is invisible until the entry expires.
		require.NoError(t, l2.Save(ctx, "k", []byte("v2")))
		got, _, _ = s.Load(ctx, "k")
		assert.Equal(t, "v1", string(got))
	})

	t.Run("write-through updates both layers", func(t *testing.T) {
		l2 := kvstore.NewMemory()
		s := kvstore.NewLayered(newL1(t), l2)

		require.NoError(t, s.Save(ctx, "k", []byte("v")))
		raw, found, _ := l2.Load(ctx, "k")
		require.True(t, found)
		assert.Equal(t, "v", string(raw))

		require.NoError(t, s.Delete(ctx, "k"))
		_, found, _ = s.Load(ctx, "k")
		assert.False(t, found)
	})

	t.Run("failed write does not populate L1", func(t *testing.T) {
		f := &failingStore{err: errors.New("down")}
		s := kvstore.NewLayered(newL1(t), f)

		require.Error(t, s.Save(ctx, "k", []byte("v")))
		_, _, err := s.Load(ctx, "k")
		require.Error(t, err)
		assert.Equal(t, 1, f.loads)
	})
}

func TestWithTimeout(t *testing.T) {
	m := kvstore.NewMemory()
	assert.Same(t, kvstore.Store(m), kvstore.WithTimeout(m, 0))

	wrapped := kvstore.WithTimeout(m, time.Second)
	require.NoError(t, wrapped.Save(context.Background(), "k", []byte("v")))
	_, found, err := wrapped.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantErr string
	}{
		{name: "memory", cfg: config.StorageConfig{Backend: config.BackendMemory}},
		{name: "redis without client", cfg: config.StorageConfig{Backend: config.BackendRedis}, wantErr: "needs a redis client"},
		{name: "postgres without pool", cfg: config.StorageConfig{Backend: config.BackendPostgres}, wantErr: "needs a postgres pool"},
		{name: "unknown", cfg: config.StorageConfig{Backend: "etcd"}, wantErr: "unknown storage backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, closeFn, err := kvstore.Open(&tt.cfg, kvstore.Backends{})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, s)
			closeFn()
		})
	}
}
