package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/registry"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryKVStore is an in-process core.KVStore for tests and single-process use.
type MemoryKVStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
	closed  bool
}

var (
	_ core.KVStore = (*MemoryKVStore)(nil)
	_ core.Counter = (*MemoryKVStore)(nil)
)

// NewMemoryKVStore creates an empty store.
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryKVStore) check() error {
	if m.closed {
		return fmt.Errorf("KV store is closed")
	}
	return nil
}

func (m *MemoryKVStore) live(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok || (!e.expires.IsZero() && !m.now().Before(e.expires)) {
		return memoryEntry{}, false
	}
	return e, true
}

func (m *MemoryKVStore) put(key string, value []byte, ttl time.Duration) {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
}

// Get implements core.KVStore.
func (m *MemoryKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	e, ok := m.live(key)
	if !ok {
		return nil, keyNotFound(key)
	}
	return append([]byte(nil), e.value...), nil
}

// Set implements core.KVStore.
func (m *MemoryKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.put(key, value, ttl)
	return nil
}

// Delete implements core.KVStore.
func (m *MemoryKVStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	delete(m.entries, key)
	return nil
}

// Exists implements core.KVStore.
func (m *MemoryKVStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return false, err
	}
	_, ok := m.live(key)
	return ok, nil
}

// BatchSet implements core.KVStore. All items land under one lock.
func (m *MemoryKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	for key, value := range items {
		m.put(key, value, ttl)
	}
	return nil
}

// Incr implements core.Counter.
func (m *MemoryKVStore) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	var n int64
	if e, ok := m.live(key); ok {
		parsed, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at key %s is not an integer: %w", key, err)
		}
		n = parsed
	}
	n++
	m.put(key, []byte(strconv.FormatInt(n, 10)), 0)
	return n, nil
}

// Len returns the number of live keys.
func (m *MemoryKVStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for key := range m.entries {
		if _, ok := m.live(key); ok {
			n++
		}
	}
	return n
}

// Close implements core.KVStore.
func (m *MemoryKVStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// MemoryFactory implements Factory for the in-process store.
type MemoryFactory struct{}

// Type returns the type identifier for this factory.
func (MemoryFactory) Type() string { return "memory" }

// Validate accepts any configuration.
func (MemoryFactory) Validate(registry.KVConfig) error { return nil }

// Create returns an empty store.
func (MemoryFactory) Create(context.Context, registry.KVConfig, *slog.Logger) (core.KVStore, error) {
	return NewMemoryKVStore(), nil
}

func init() {
	RegisterFactory(MemoryFactory{})
}
