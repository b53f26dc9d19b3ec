package core

import (
	"context"
	"time"
)

// KVStore is the byte-level key-value store the kv backend persists rows in.
// Implementations exist for Redis, DynamoDB and an in-process map.
type KVStore interface {
	// Get retrieves a value by key. A missing key yields an error wrapping ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a key-value pair. A zero ttl never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in the store.
	Exists(ctx context.Context, key string) (bool, error)

	// BatchSet stores multiple key-value pairs with a shared TTL.
	BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// Close releases the store's resources.
	Close() error
}

// Counter is implemented by stores with an atomic increment.
type Counter interface {
	// Incr adds one to the integer at key, treating a missing key as zero,
	// and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
}
