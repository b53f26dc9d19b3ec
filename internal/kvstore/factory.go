// Package kvstore provides the byte-level key-value stores beneath the kv
// backend: Redis, DynamoDB and an in-process map.
package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/registry"
)

// Factory is the Strategy interface for creating KV store implementations.
// Each store (Redis, DynamoDB, etc.) implements this interface to provide
// its own factory method.
type Factory interface {
	// Type returns the type identifier for this factory (e.g., "redis", "dynamodb").
	Type() string

	// Validate validates the configuration specific to this KV store type.
	Validate(config registry.KVConfig) error

	// Create creates a new KV store instance based on the provided configuration.
	Create(ctx context.Context, config registry.KVConfig, logger *slog.Logger) (core.KVStore, error)
}

var (
	// factoryRegistry stores all registered KV store factories.
	factoryRegistry = make(map[string]Factory)

	// registryMutex protects the registry from concurrent access.
	registryMutex sync.RWMutex
)

// RegisterFactory registers a KV store factory.
// This is called automatically by each implementation's init() function.
func RegisterFactory(factory Factory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	if factory.Type() == "" {
		panic("factory type cannot be empty")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := factoryRegistry[factory.Type()]; exists {
		panic(fmt.Sprintf("factory for type %q is already registered", factory.Type()))
	}
	factoryRegistry[factory.Type()] = factory
}

func lookup(storeType string) (Factory, error) {
	if storeType == "" {
		return nil, fmt.Errorf("kvstore type is required")
	}
	registryMutex.RLock()
	factory, exists := factoryRegistry[storeType]
	registryMutex.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unsupported KV store type: %s (registered: %v)", storeType, Types())
	}
	return factory, nil
}

// Validate checks config against the factory registered for config.Type.
func Validate(config registry.KVConfig) error {
	factory, err := lookup(config.Type)
	if err != nil {
		return err
	}
	if err := factory.Validate(config); err != nil {
		return fmt.Errorf("invalid configuration for %s: %w", config.Type, err)
	}
	return nil
}

// Create validates config and builds a KV store with the matching factory.
func Create(ctx context.Context, config registry.KVConfig, logger *slog.Logger) (core.KVStore, error) {
	if err := Validate(config); err != nil {
		return nil, err
	}
	factory, _ := lookup(config.Type)
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return factory.Create(ctx, config, logger.With("kvstore", config.Type))
}

// Types returns the registered KV store types in sorted order.
func Types() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]string, 0, len(factoryRegistry))
	for t := range factoryRegistry {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// IsTypeRegistered checks if a KV store type is registered.
func IsTypeRegistered(storeType string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	_, exists := factoryRegistry[storeType]
	return exists
}

func keyNotFound(key string) error {
	return fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
}

func validateTimeouts(config registry.KVConfig) error {
	if config.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be greater than 0, got: %v", config.DialTimeout)
	}
	if config.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be greater than 0, got: %v", config.ReadTimeout)
	}
	if config.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be greater than 0, got: %v", config.WriteTimeout)
	}
	if config.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got: %d", config.MaxRetries)
	}
	return nil
}
