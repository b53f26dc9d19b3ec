package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/registry"
)

// RedisKVStore implements core.KVStore on a single node or a cluster.
type RedisKVStore struct {
	client redis.UniversalClient
	logger *slog.Logger
	closed bool
}

var (
	_ core.KVStore = (*RedisKVStore)(nil)
	_ core.Counter = (*RedisKVStore)(nil)
)

// NewRedisKVStore wraps an existing client.
func NewRedisKVStore(client redis.UniversalClient, logger *slog.Logger) *RedisKVStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedisKVStore{client: client, logger: logger}
}

// DialRedis connects to the configured endpoints and pings them. Cluster
// mode or more than one endpoint yields a cluster client.
func DialRedis(ctx context.Context, config registry.KVConfig, logger *slog.Logger) (*RedisKVStore, error) {
	rc := config.Redis
	if len(rc.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}

	opts := &redis.UniversalOptions{
		Addrs:         rc.Endpoints,
		Password:      rc.Password,
		DB:            rc.DB,
		PoolSize:      rc.PoolSize,
		MinIdleConns:  rc.MinIdleConns,
		MaxRetries:    config.MaxRetries,
		DialTimeout:   config.DialTimeout,
		ReadTimeout:   config.ReadTimeout,
		WriteTimeout:  config.WriteTimeout,
		IsClusterMode: rc.ClusterMode,
	}
	client := redis.NewUniversalClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisKVStore(client, logger), nil
}

func (r *RedisKVStore) check() error {
	if r.closed {
		return fmt.Errorf("KV store is closed")
	}
	return nil
}

// Get retrieves a value by key from the store.
func (r *RedisKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, keyNotFound(key)
	}
	if err != nil {
		r.logger.Error("redis get failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	r.logger.Debug("redis get", "key", key, "bytes", len(val))
	return val, nil
}

// Set stores a key-value pair with an optional TTL.
func (r *RedisKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.check(); err != nil {
		return err
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logger.Error("redis set failed", "key", key, "error", err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	r.logger.Debug("redis set", "key", key, "bytes", len(value), "ttl", ttl)
	return nil
}

// Delete removes a key from the store.
func (r *RedisKVStore) Delete(ctx context.Context, key string) error {
	if err := r.check(); err != nil {
		return err
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Exists checks if a key exists in the store.
func (r *RedisKVStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := r.check(); err != nil {
		return false, err
	}
	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key %s: %w", key, err)
	}
	return count > 0, nil
}

// BatchSet stores multiple key-value pairs in one pipeline with a shared TTL.
func (r *RedisKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if err := r.check(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for key, value := range items {
		pipe.Set(ctx, key, value, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to batch set keys: %w", err)
	}
	return nil
}

// Incr implements core.Counter with INCR.
func (r *RedisKVStore) Incr(ctx context.Context, key string) (int64, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment key %s: %w", key, err)
	}
	return n, nil
}

// Close closes the connection to the KV store.
func (r *RedisKVStore) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

// Client returns the underlying Redis client for advanced operations.
func (r *RedisKVStore) Client() redis.UniversalClient {
	return r.client
}

// ListPush adds a value to the end of a list (RPUSH).
func (r *RedisKVStore) ListPush(ctx context.Context, key string, value []byte) error {
	if err := r.check(); err != nil {
		return err
	}
	return r.client.RPush(ctx, key, value).Err()
}

// ListPop removes and returns up to count elements from the head of a list.
func (r *RedisKVStore) ListPop(ctx context.Context, key string, count int) ([][]byte, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	vals, err := r.client.LPopCount(ctx, key, count).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// ListLength returns the length of a list (LLEN).
func (r *RedisKVStore) ListLength(ctx context.Context, key string) (int64, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	return r.client.LLen(ctx, key).Result()
}

// RedisFactory implements Factory for Redis.
type RedisFactory struct{}

// Type returns the type identifier for this factory.
func (RedisFactory) Type() string { return "redis" }

// Validate validates the Redis-specific configuration.
func (RedisFactory) Validate(config registry.KVConfig) error {
	rc := config.Redis
	if len(rc.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required for Redis")
	}
	if rc.DB < 0 || rc.DB > 15 {
		return fmt.Errorf("redis DB must be between 0 and 15, got: %d", rc.DB)
	}
	if rc.ClusterMode && rc.DB != 0 {
		return fmt.Errorf("redis cluster mode only supports DB 0, got: %d", rc.DB)
	}
	if rc.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be greater than 0, got: %d", rc.PoolSize)
	}
	if rc.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns must be non-negative, got: %d", rc.MinIdleConns)
	}
	return validateTimeouts(config)
}

// Create connects to Redis.
func (RedisFactory) Create(ctx context.Context, config registry.KVConfig, logger *slog.Logger) (core.KVStore, error) {
	store, err := DialRedis(ctx, config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis KV store: %w", err)
	}
	return store, nil
}

func init() {
	RegisterFactory(RedisFactory{})
}
