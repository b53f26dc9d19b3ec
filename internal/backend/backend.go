// Package backend defines the contract between repositories and the storage
// engines beneath them, plus the factory registry that builds engines from
// configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/query"
	"github.com/rzpsarthak13/modelstore/internal/reconcile"
	"github.com/rzpsarthak13/modelstore/internal/registry"
)

// FetchRequest describes a read. Filter holds only nodes the backend
// reported it can evaluate; Sort is empty unless CanSort returned true;
// Range is zero unless the whole query is native.
type FetchRequest struct {
	Filter query.Filter
	Sort   []query.Sort
	Range  query.Range
}

// Backend stores rows of registered schemas. Rows passed in and returned are
// storage rows in canonical form: composite columns appear as their parts and
// the unique identifier is an int64.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string

	// Hydrate loads one row. A missing row yields a *core.RecordNotFoundError.
	Hydrate(ctx context.Context, schema *core.ModelSchema, id int64) (core.Row, error)

	// Insert stores a new row and returns its assigned identifier.
	Insert(ctx context.Context, schema *core.ModelSchema, row core.Row) (int64, error)

	// Update writes the given columns of an existing row.
	Update(ctx context.Context, schema *core.ModelSchema, id int64, row core.Row) error

	// Delete removes a row. A missing row yields a *core.RecordNotFoundError.
	Delete(ctx context.Context, schema *core.ModelSchema, id int64) error

	// CanFilter reports whether a single filter node is evaluated natively.
	CanFilter(f query.Filter) bool

	// CanSort reports whether Fetch honours FetchRequest.Sort.
	CanSort() bool

	// Fetch returns the rows matching req, ordered by req.Sort then by the
	// unique identifier.
	Fetch(ctx context.Context, schema *core.ModelSchema, req FetchRequest) ([]core.Row, error)

	// CanAggregate reports whether an aggregate is computed natively.
	CanAggregate(agg query.Aggregate) bool

	// Aggregate computes aggs over the rows matching f, which is fully native.
	Aggregate(ctx context.Context, schema *core.ModelSchema, aggs []query.Aggregate, f query.Filter) ([]any, error)

	// DeclaredSchema renders the structure this backend would create for schema.
	DeclaredSchema(schema *core.ModelSchema) (*reconcile.ComparisonSchema, error)

	// CaptureLiveSchema reads the current structure. It returns nil, nil when
	// the structure does not exist.
	CaptureLiveSchema(ctx context.Context, schema *core.ModelSchema) (*reconcile.ComparisonSchema, error)

	// RenderStructuralChange renders stmt as the statements Apply would run.
	RenderStructuralChange(schema *core.ModelSchema, stmt *reconcile.Statement) ([]string, error)

	// ApplyStructuralChange executes stmt. stmt.Create creates the structure.
	ApplyStructuralChange(ctx context.Context, schema *core.ModelSchema, stmt *reconcile.Statement) error

	// Clear removes every row of schema and resets identifier assignment.
	Clear(ctx context.Context, schema *core.ModelSchema) error

	// Close releases resources held by the backend.
	Close() error
}

// BulkUpdater is implemented by backends that update every row matching a
// native filter in one operation.
type BulkUpdater interface {
	BulkUpdate(ctx context.Context, schema *core.ModelSchema, f query.Filter, values core.Row) (int64, error)
}

// Factory is the Strategy interface for building a backend from configuration.
type Factory interface {
	// Type returns the backend type this factory builds (e.g., "mysql").
	Type() string

	// Create builds a backend instance.
	Create(ctx context.Context, config registry.BackendConfig, logger *slog.Logger) (Backend, error)
}

var (
	factoryRegistry = make(map[string]Factory)
	registryMutex   sync.RWMutex
)

// RegisterFactory registers a backend factory.
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

// Create builds a backend using the factory registered for config.Type.
func Create(ctx context.Context, config registry.BackendConfig, logger *slog.Logger) (Backend, error) {
	if config.Type == "" {
		return nil, fmt.Errorf("backend type is required")
	}
	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Type]
	registryMutex.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unsupported backend type: %s (registered: %v)", config.Type, Types())
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return factory.Create(ctx, config, logger.With("backend", config.Type))
}

// Types lists the registered backend types in sorted order.
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

// NotFound builds the error returned for a missing row.
func NotFound(schema *core.ModelSchema, id int64) error {
	return &core.RecordNotFoundError{Entity: schema.Name, ID: id}
}
