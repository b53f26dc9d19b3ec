package registry

import (
	"context"
	"sync"

	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/reconcile"
)

// LifecycleHook observes structural changes applied during reconciliation.
// Hooks are called synchronously around ApplyStructuralChange.
type LifecycleHook interface {
	// BeforeApply is called before a statement is applied.
	// If this hook returns an error, the statement is not applied.
	BeforeApply(ctx context.Context, schema *core.ModelSchema, stmt *reconcile.Statement) error

	// AfterApply is called after a statement was applied successfully.
	AfterApply(ctx context.Context, schema *core.ModelSchema, stmt *reconcile.Statement) error
}

// LifecycleHookFunc adapts plain functions to LifecycleHook.
type LifecycleHookFunc struct {
	BeforeApplyFunc func(ctx context.Context, schema *core.ModelSchema, stmt *reconcile.Statement) error
	AfterApplyFunc  func(ctx context.Context, schema *core.ModelSchema, stmt *reconcile.Statement) error
}

// BeforeApply calls BeforeApplyFunc if it's not nil.
func (f LifecycleHookFunc) BeforeApply(ctx context.Context, schema *core.ModelSchema, stmt *reconcile.Statement) error {
	if f.BeforeApplyFunc != nil {
		return f.BeforeApplyFunc(ctx, schema, stmt)
	}
	return nil
}

// AfterApply calls AfterApplyFunc if it's not nil.
func (f LifecycleHookFunc) AfterApply(ctx context.Context, schema *core.ModelSchema, stmt *reconcile.Statement) error {
	if f.AfterApplyFunc != nil {
		return f.AfterApplyFunc(ctx, schema, stmt)
	}
	return nil
}

// LifecycleManager manages reconciliation hooks.
type LifecycleManager struct {
	mu    sync.RWMutex
	hooks []LifecycleHook
}

// NewLifecycleManager creates a new lifecycle manager.
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		hooks: make([]LifecycleHook, 0),
	}
}

// RegisterHook registers a hook. Hooks run in registration order.
func (lm *LifecycleManager) RegisterHook(hook LifecycleHook) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.hooks = append(lm.hooks, hook)
}

func (lm *LifecycleManager) snapshot() []LifecycleHook {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	hooks := make([]LifecycleHook, len(lm.hooks))
	copy(hooks, lm.hooks)
	return hooks
}

// ExecuteBeforeApply runs every BeforeApply hook, stopping at the first error.
func (lm *LifecycleManager) ExecuteBeforeApply(ctx context.Context, schema *core.ModelSchema, stmt *reconcile.Statement) error {
	for _, hook := range lm.snapshot() {
		if err := hook.BeforeApply(ctx, schema, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteAfterApply runs every AfterApply hook, stopping at the first error.
func (lm *LifecycleManager) ExecuteAfterApply(ctx context.Context, schema *core.ModelSchema, stmt *reconcile.Statement) error {
	for _, hook := range lm.snapshot() {
		if err := hook.AfterApply(ctx, schema, stmt); err != nil {
			return err
		}
	}
	return nil
}

// HookCount returns the number of registered hooks.
func (lm *LifecycleManager) HookCount() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.hooks)
}
