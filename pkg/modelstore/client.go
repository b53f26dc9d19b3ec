// Package modelstore is an Active Record data-access layer: models declared
// as schemas, entities saved through repositories, and filtered collections
// evaluated by whichever backend holds the data.
package modelstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rzpsarthak13/modelstore/internal/client"
	"github.com/rzpsarthak13/modelstore/internal/model"
	"github.com/rzpsarthak13/modelstore/internal/reconcile"
	"github.com/rzpsarthak13/modelstore/internal/registry"
)

// Client is the main interface for working with a model store.
// It owns one backend and one repository per registered schema, and
// optionally a change feed that reports every committed write.
//
// Typical usage:
//
//	client, _ := modelstore.NewClient(ctx, config)
//	defer client.Close()
//
//	client.CheckSchemas(ctx, false) // create or widen tables
//	people, _ := client.Repository("people")
//
//	e := people.New()
//	e.Set("Name", "Ann")
//	e.Save(ctx)
//
//	n, _ := people.Collection().Filter(modelstore.Equals("Name", "Ann")).Count(ctx)
type Client interface {
	// Register adds a schema declared in code and returns its repository.
	// The schema is frozen on registration. Schemas declared in the
	// configuration are registered by NewClient.
	Register(schema *Schema) (*Repository, error)

	// Repository returns the repository of a registered schema.
	Repository(name string) (*Repository, error)

	// Schemas returns the registered schema names in sorted order.
	Schemas() []string

	// AlterSchema edits a copy of a registered schema with fn, for example
	// with AlterColumn or AddColumn, and rebinds its repository to the copy.
	// The backend changes on the next CheckSchemas.
	AlterSchema(name string, fn func(*Schema) error) (*Repository, error)

	// CheckSchemas reconciles every registered schema with the backend,
	// creating missing tables and adding or widening columns and indexes.
	// Changes that narrow an existing column are refused unless force is set.
	CheckSchemas(ctx context.Context, force bool) ([]SchemaReport, error)

	// PlanSchemas reports what CheckSchemas would do without changing anything.
	PlanSchemas(ctx context.Context) ([]SchemaReport, error)

	// AddLifecycleHook registers a hook that runs around every structural
	// change. A hook failing BeforeApply vetoes the change.
	AddLifecycleHook(hook LifecycleHook)

	// Start runs handler over the change feed in background goroutines.
	// The change feed must be enabled in the configuration.
	// This is non-blocking.
	Start(ctx context.Context, handler Handler) error

	// Stop gracefully stops the change feed dispatcher.
	// It waits for the event in flight to be handled before returning.
	Stop() error

	// IsRunning returns whether the change feed dispatcher is running.
	IsRunning() bool

	// Close releases the backend and the change feed.
	// It will also stop a running dispatcher.
	Close() error
}

// ClientOption configures optional client behaviour.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger *slog.Logger
}

// WithLogger sets the structured logger used by the client, its backend and
// its repositories. Logs are discarded by default.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// clientWrapper wraps the internal client implementation to provide the public Client interface.
type clientWrapper struct {
	mu   sync.Mutex
	impl *client.ClientImpl
}

// NewClient creates a model store client with the provided configuration.
// It validates the configuration, connects to the backend and the change
// feed, and registers the schemas the configuration declares.
//
// After creating the client:
// 1. Call Register() for schemas declared in code
// 2. Call CheckSchemas() to bring the backend structure in line
// 3. Optionally call Start() to consume change events
// 4. Call Close() when done
func NewClient(ctx context.Context, config *Config, opts ...ClientOption) (Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	impl, err := client.NewClientImpl(ctx, config, o.logger)
	if err != nil {
		return nil, err
	}
	return &clientWrapper{impl: impl}, nil
}

// Register adds a schema declared in code and returns its repository.
func (cw *clientWrapper) Register(schema *Schema) (*Repository, error) {
	return cw.impl.Register(schema)
}

// Repository returns the repository of a registered schema.
func (cw *clientWrapper) Repository(name string) (*Repository, error) {
	return cw.impl.Repository(name)
}

// Schemas returns the registered schema names in sorted order.
func (cw *clientWrapper) Schemas() []string {
	return cw.impl.Schemas().List()
}

// AlterSchema edits a copy of a registered schema and rebinds its repository.
func (cw *clientWrapper) AlterSchema(name string, fn func(*Schema) error) (*Repository, error) {
	if fn == nil {
		return nil, fmt.Errorf("alter function cannot be nil")
	}
	return cw.impl.Alter(name, fn)
}

// CheckSchemas reconciles every registered schema with the backend.
func (cw *clientWrapper) CheckSchemas(ctx context.Context, force bool) ([]SchemaReport, error) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.impl.Reconcile(ctx, true, force)
}

// PlanSchemas reports what CheckSchemas would do.
func (cw *clientWrapper) PlanSchemas(ctx context.Context) ([]SchemaReport, error) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.impl.Reconcile(ctx, false, false)
}

// AddLifecycleHook registers a hook that runs around every structural change.
func (cw *clientWrapper) AddLifecycleHook(hook LifecycleHook) {
	cw.impl.Lifecycle().RegisterHook(hook)
}

// Start runs handler over the change feed.
func (cw *clientWrapper) Start(ctx context.Context, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	return cw.impl.Start(ctx, handler)
}

// Stop gracefully stops the change feed dispatcher.
func (cw *clientWrapper) Stop() error {
	return cw.impl.Stop()
}

// IsRunning returns whether the change feed dispatcher is running.
func (cw *clientWrapper) IsRunning() bool {
	return cw.impl.IsRunning()
}

// Close releases the backend and the change feed.
func (cw *clientWrapper) Close() error {
	return cw.impl.Close()
}

// Repository persists entities of one schema. See the model package for
// the full set of operations.
type Repository = model.Repository

// Collection is a lazily evaluated, filtered and ordered set of entities.
type Collection = model.Collection

// Entity is one record of a schema.
type Entity = model.Entity

// Validator checks a column value before an entity is saved.
type Validator = model.Validator

// Rule is a Validator built from a function and a failure message.
type Rule = model.Rule

// Decorator renders a column value for display.
type Decorator = model.Decorator

// DecoratorFunc adapts a function to the Decorator interface.
type DecoratorFunc = model.DecoratorFunc

// Required fails for nil and empty string values.
func Required() Validator { return model.Required() }

// SchemaReport describes the reconciliation of one schema.
type SchemaReport = client.SchemaReport

// Statement is the structural change that reconciles one schema: a table
// creation or a list of column and index changes.
type Statement = reconcile.Statement

// LifecycleHook runs around structural changes.
type LifecycleHook = registry.LifecycleHook

// LifecycleHookFunc adapts functions to the LifecycleHook interface.
type LifecycleHookFunc = registry.LifecycleHookFunc
