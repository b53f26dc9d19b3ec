package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/registry"
)

func TestMemoryKVStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryKVStore()

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)

	require.NoError(t, m.Set(ctx, "a", []byte("1"), 0))
	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	got[0] = 'x'
	again, _ := m.Get(ctx, "a")
	assert.Equal(t, []byte("1"), again, "returned values are copies")

	require.NoError(t, m.BatchSet(ctx, map[string][]byte{"b": []byte("2"), "c": []byte("3")}, 0))
	assert.Equal(t, 3, m.Len())

	ok, err := m.Exists(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, m.Delete(ctx, "b"))
	require.NoError(t, m.Delete(ctx, "b"), "deleting a missing key is not an error")
	ok, _ = m.Exists(ctx, "b")
	assert.False(t, ok)
}

func TestMemoryKVStoreTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryKVStore()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	ok, _ := m.Exists(ctx, "k")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryKVStoreIncr(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryKVStore()

	for want := int64(1); want <= 3; want++ {
		n, err := m.Incr(ctx, "seq")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	got, err := m.Get(ctx, "seq")
	require.NoError(t, err)
	assert.Equal(t, "3", string(got))

	require.NoError(t, m.Set(ctx, "word", []byte("abc"), 0))
	_, err = m.Incr(ctx, "word")
	assert.ErrorContains(t, err, "not an integer")
}

func TestMemoryKVStoreClosed(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryKVStore()
	require.NoError(t, m.Close())

	_, err := m.Get(ctx, "a")
	assert.ErrorContains(t, err, "closed")
	assert.ErrorContains(t, m.Set(ctx, "a", nil, 0), "closed")
	_, err = m.Incr(ctx, "a")
	assert.ErrorContains(t, err, "closed")
}

func validKVConfig(storeType string) registry.KVConfig {
	cfg := registry.DefaultConfig().Backend.KV
	cfg.Type = storeType
	cfg.DynamoDB = registry.DynamoDBConfig{Region: "us-east-1", TableName: "records"}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*registry.KVConfig)
		wantErr string
	}{
		{"redis ok", func(c *registry.KVConfig) { c.Type = "redis" }, ""},
		{"dynamodb ok", func(c *registry.KVConfig) { c.Type = "dynamodb" }, ""},
		{"memory ok", func(c *registry.KVConfig) { c.Type = "memory"; c.DialTimeout = 0 }, ""},
		{"missing type", func(c *registry.KVConfig) { c.Type = "" }, "type is required"},
		{"unknown type", func(c *registry.KVConfig) { c.Type = "etcd" }, "unsupported KV store type"},
		{"redis no endpoints", func(c *registry.KVConfig) { c.Type = "redis"; c.Redis.Endpoints = nil }, "endpoint"},
		{"redis db range", func(c *registry.KVConfig) { c.Type = "redis"; c.Redis.DB = 16 }, "between 0 and 15"},
		{"redis cluster db", func(c *registry.KVConfig) {
			c.Type = "redis"
			c.Redis.ClusterMode = true
			c.Redis.DB = 1
		}, "cluster mode"},
		{"redis pool", func(c *registry.KVConfig) { c.Type = "redis"; c.Redis.PoolSize = 0 }, "pool_size"},
		{"redis timeout", func(c *registry.KVConfig) { c.Type = "redis"; c.ReadTimeout = 0 }, "read_timeout"},
		{"dynamodb region", func(c *registry.KVConfig) { c.Type = "dynamodb"; c.DynamoDB.Region = "" }, "region"},
		{"dynamodb table", func(c *registry.KVConfig) { c.Type = "dynamodb"; c.DynamoDB.TableName = "" }, "table_name"},
		{"dynamodb half credentials", func(c *registry.KVConfig) {
			c.Type = "dynamodb"
			c.DynamoDB.AccessKeyID = "AKIA"
		}, "must be set together"},
		{"negative retries", func(c *registry.KVConfig) { c.Type = "dynamodb"; c.MaxRetries = -1 }, "max_retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validKVConfig("memory")
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRegisteredTypes(t *testing.T) {
	assert.Equal(t, []string{"dynamodb", "memory", "redis"}, Types())
	assert.True(t, IsTypeRegistered("redis"))
	assert.False(t, IsTypeRegistered("etcd"))
	assert.Panics(t, func() { RegisterFactory(MemoryFactory{}) })
}

func TestCreateMemory(t *testing.T) {
	store, err := Create(context.Background(), validKVConfig("memory"), nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryKVStore{}, store)
	require.NoError(t, store.Close())
}
