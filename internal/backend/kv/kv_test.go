package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/modelstore/internal/backend"
	"github.com/rzpsarthak13/modelstore/internal/backend/backendtest"
	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/kvstore"
	"github.com/rzpsarthak13/modelstore/internal/registry"
	"github.com/rzpsarthak13/modelstore/internal/testutil"
)

// plainStore hides the Counter implementation of the wrapped store.
type plainStore struct {
	core.KVStore
}

func TestConformance(t *testing.T) {
	t.Run("Compressed", func(t *testing.T) {
		backendtest.Run(t, func(t *testing.T) backend.Backend {
			return New(kvstore.NewMemoryKVStore(), "test", true, testutil.NewTestLogger(t))
		})
	})
	t.Run("Plain", func(t *testing.T) {
		backendtest.Run(t, func(t *testing.T) backend.Backend {
			return New(kvstore.NewMemoryKVStore(), "test", false, nil)
		})
	})
	t.Run("WithoutCounter", func(t *testing.T) {
		backendtest.Run(t, func(t *testing.T) backend.Backend {
			return New(plainStore{kvstore.NewMemoryKVStore()}, "test", true, nil)
		})
	})
}

func TestKeyLayout(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryKVStore()
	b := New(store, "ns", false, nil)
	s := backendtest.Seed(t, b)

	for _, key := range []string{"ns:people:1", "ns:people:2", "ns:people:3", "ns:people:ids", "ns:people:seq", "ns:people:schema"} {
		ok, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}
	ids, err := store.Get(ctx, "ns:people:ids")
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3]`, string(ids))

	require.NoError(t, b.Delete(ctx, s, 2))
	ids, err = store.Get(ctx, "ns:people:ids")
	require.NoError(t, err)
	assert.JSONEq(t, `[1,3]`, string(ids))

	require.NoError(t, b.Clear(ctx, s))
	assert.Equal(t, 1, store.Len(), "only the schema snapshot survives a clear")
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryKVStore()
	a := New(store, "a", true, nil)
	b := New(store, "b", true, nil)
	s := backendtest.Seed(t, a)

	live, err := b.CaptureLiveSchema(ctx, s)
	require.NoError(t, err)
	assert.Nil(t, live)
	_, err = b.Hydrate(ctx, s, 1)
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
}

func TestMissingRecordIsSkipped(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryKVStore()
	b := New(store, "ns", true, nil)
	s := backendtest.Seed(t, b)

	require.NoError(t, store.Delete(ctx, "ns:people:2"))
	rows, err := b.Fetch(ctx, s, backend.FetchRequest{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, int64(3), rows[1]["id"])
}

func TestStoreFailureIsBackendError(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryKVStore()
	b := New(store, "ns", true, nil)
	s := backendtest.Seed(t, b)
	require.NoError(t, store.Close())

	_, err := b.Hydrate(ctx, s, 1)
	var be *core.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, Type, be.Backend)
	assert.False(t, core.IsRetryable(err))
}

func TestFactoryAndValidator(t *testing.T) {
	cfg := registry.DefaultConfig()
	cfg.Backend.Type = Type
	cfg.Backend.KV.Type = "memory"
	require.NoError(t, validator{}.Validate(cfg))

	b, err := backend.Create(context.Background(), cfg.Backend, nil)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	assert.Equal(t, Type, b.Name())

	cfg.Backend.KV.Namespace = ""
	assert.ErrorContains(t, validator{}.Validate(cfg), "namespace")

	cfg.Backend.KV.Namespace = "ns"
	cfg.Backend.KV.Type = "cassandra"
	assert.ErrorContains(t, validator{}.Validate(cfg), "unsupported KV store type")

	cfg.Backend.KV.Type = "redis"
	cfg.Backend.KV.Redis.Endpoints = nil
	assert.ErrorContains(t, validator{}.Validate(cfg), "endpoint")
}
