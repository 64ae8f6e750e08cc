//go:build integration

package kvstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srab2001/featuregate/internal/kvstore"
	"github.com/srab2001/featuregate/internal/testsupport"
)

func exerciseStore(t *testing.T, s kvstore.Store) {
	t.Helper()
	ctx := context.Background()

	_, found, err := s.Load(ctx, "flags:overrides")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, kvstore.SaveJSON(ctx, s, "flags:overrides", map[string]bool{"export_pdf": true}))
	require.NoError(t, kvstore.SaveJSON(ctx, s, "flags:overrides", map[string]bool{"export_pdf": false}))

	got, found := kvstore.LoadJSON[map[string]bool](ctx, s, "flags:overrides", nil)
	require.True(t, found)
	assert.Equal(t, map[string]bool{"export_pdf": false}, got)

	require.NoError(t, s.Delete(ctx, "flags:overrides"))
	_, found, err = s.Load(ctx, "flags:overrides")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedis_Integration(t *testing.T) {
	ctx := context.Background()
	client := testsupport.StartRedis(t)

	s := kvstore.NewRedis(client, "featuregate_test")
	exerciseStore(t, s)

	require.NoError(t, s.Save(ctx, "raw", []byte("x")))
	raw, err := client.Get(ctx, "featuregate_test:raw").Result()
	require.NoError(t, err)
	assert.Equal(t, "x", raw, "keys must be namespaced by the prefix")
}

func TestPostgres_Integration(t *testing.T) {
	pgCtr := testsupport.StartPostgres(t)

	exerciseStore(t, kvstore.NewPostgres(pgCtr.DB, "kv_entries", "featuregate_test"))
}
