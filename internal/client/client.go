// Package client wires configuration, a backend, the schema registry and the
// change feed into repositories.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rzpsarthak13/modelstore/internal/backend"
	"github.com/rzpsarthak13/modelstore/internal/changefeed"
	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/model"
	"github.com/rzpsarthak13/modelstore/internal/reconcile"
	"github.com/rzpsarthak13/modelstore/internal/registry"

	// Backends register their factories and config validators on import.
	_ "github.com/rzpsarthak13/modelstore/internal/backend/kv"
	_ "github.com/rzpsarthak13/modelstore/internal/backend/memory"
	_ "github.com/rzpsarthak13/modelstore/internal/backend/mysql"
	_ "github.com/rzpsarthak13/modelstore/internal/backend/sqlite"
)

// SchemaReport describes the reconciliation of one schema.
type SchemaReport struct {
	Schema string

	// Statement is nil when the backend already matched the schema.
	Statement *reconcile.Statement

	// Rendered is Statement in the backend's own syntax.
	Rendered []string

	// Applied reports whether Statement was executed.
	Applied bool
}

// buildRepository is swapped out by tests to simulate construction failures.
var buildRepository = model.NewRepository

// ClientImpl owns one backend and a repository per registered schema.
type ClientImpl struct {
	mu         sync.RWMutex
	configMgr  *registry.ConfigManager
	backend    backend.Backend
	schemas    *registry.SchemaRegistry
	lifecycle  *registry.LifecycleManager
	repos      map[string]*model.Repository
	feed       changefeed.Queue
	dispatcher *changefeed.Dispatcher
	logger     *slog.Logger
	closed     bool
}

// NewClientImpl validates config, opens its backend and change feed, and
// registers the schemas it declares.
func NewClientImpl(ctx context.Context, config *registry.Config, logger *slog.Logger) (*ClientImpl, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	configMgr := registry.NewConfigManager()
	if err := configMgr.Load(config); err != nil {
		return nil, err
	}
	declared, err := configMgr.Schemas()
	if err != nil {
		return nil, err
	}

	b, err := backend.Create(ctx, config.Backend, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}

	c := &ClientImpl{
		configMgr: configMgr,
		backend:   b,
		schemas:   registry.NewSchemaRegistry(),
		lifecycle: registry.NewLifecycleManager(),
		repos:     make(map[string]*model.Repository),
		logger:    logger,
	}

	if config.ChangeFeed.Enabled {
		feed, err := changefeed.Open(ctx, config.ChangeFeed, config.Backend.KV, logger)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to open change feed: %w", err)
		}
		c.feed = feed
	}

	for _, s := range declared {
		if _, err := c.Register(s); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	logger.Info("modelstore client initialized", "backend", b.Name(), "schemas", len(declared), "changefeed", c.feed != nil)
	return c, nil
}

// Config returns the active configuration.
func (c *ClientImpl) Config() *registry.Config {
	return c.configMgr.GetConfig()
}

// Backend returns the backend shared by every repository.
func (c *ClientImpl) Backend() backend.Backend {
	return c.backend
}

// Lifecycle returns the manager whose hooks run around structural changes.
func (c *ClientImpl) Lifecycle() *registry.LifecycleManager {
	return c.lifecycle
}

// Schemas returns the schema registry.
func (c *ClientImpl) Schemas() *registry.SchemaRegistry {
	return c.schemas
}

// Register freezes s, records it and creates its repository.
func (c *ClientImpl) Register(s *core.ModelSchema) (*model.Repository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}
	if err := c.schemas.Register(s); err != nil {
		return nil, fmt.Errorf("failed to register schema: %w", err)
	}
	repo, err := c.newRepository(s)
	if err != nil {
		_ = c.schemas.Unregister(s.Name)
		return nil, err
	}
	c.repos[s.Name] = repo
	return repo, nil
}

// Alter replaces a registered schema with an edited copy and rebinds its
// repository. Entities of the previous repository are not carried over.
// The backend is unchanged until the next Reconcile.
func (c *ClientImpl) Alter(name string, fn func(*core.ModelSchema) error) (*model.Repository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}
	if _, ok := c.repos[name]; !ok {
		return nil, fmt.Errorf("schema %q is not registered", name)
	}
	previous, err := c.schemas.Get(name)
	if err != nil {
		return nil, err
	}
	altered, err := registry.Derive(previous, fn)
	if err != nil {
		return nil, fmt.Errorf("failed to alter schema %q: %w", name, err)
	}
	repo, err := c.newRepository(altered)
	if err != nil {
		return nil, fmt.Errorf("failed to alter schema %q: %w", name, err)
	}
	if err := c.schemas.Swap(previous, altered); err != nil {
		return nil, err
	}
	c.repos[name] = repo
	c.logger.Info("schema altered", "schema", name)
	return repo, nil
}

func (c *ClientImpl) newRepository(s *core.ModelSchema) (*model.Repository, error) {
	return buildRepository(s, c.backend,
		model.WithLogger(c.logger),
		model.WithFeed(c.feed),
		model.WithLifecycle(c.lifecycle),
	)
}

// Repository returns the repository of a registered schema.
func (c *ClientImpl) Repository(name string) (*model.Repository, error) {
	if name == "" {
		return nil, fmt.Errorf("schema name cannot be empty")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}
	repo, ok := c.repos[name]
	if !ok {
		return nil, fmt.Errorf("schema %q is not registered", name)
	}
	return repo, nil
}

// Reconcile checks every registered schema in name order. With apply unset
// nothing is executed. Narrowing changes need force.
func (c *ClientImpl) Reconcile(ctx context.Context, apply, force bool) ([]SchemaReport, error) {
	var reports []SchemaReport
	for _, name := range c.schemas.List() {
		repo, err := c.Repository(name)
		if err != nil {
			return reports, err
		}
		report := SchemaReport{Schema: name}
		if apply {
			report.Statement, err = repo.CheckSchema(ctx, force)
			report.Applied = report.Statement != nil
		} else {
			report.Statement, err = repo.PlanSchema(ctx)
		}
		if err != nil {
			return reports, fmt.Errorf("failed to reconcile schema %q: %w", name, err)
		}
		if report.Rendered, err = repo.RenderSchemaChange(report.Statement); err != nil {
			return reports, err
		}
		if apply {
			if err := c.schemas.MarkReconciled(name, report.Statement); err != nil {
				return reports, err
			}
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Start runs handler over the change feed in the background.
func (c *ClientImpl) Start(ctx context.Context, handler changefeed.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("client is closed")
	}
	if c.feed == nil {
		return fmt.Errorf("change feed is not enabled")
	}
	if c.dispatcher != nil && c.dispatcher.IsRunning() {
		return nil
	}
	cfg := c.configMgr.GetConfig().ChangeFeed
	c.dispatcher = changefeed.NewDispatcher(c.feed, handler, changefeed.DispatcherConfig{
		Rate:      cfg.DispatchRate,
		BatchSize: cfg.BatchSize,
	}, c.logger)
	return c.dispatcher.Start(ctx)
}

// Stop halts the change feed dispatcher.
func (c *ClientImpl) Stop() error {
	c.mu.RLock()
	d := c.dispatcher
	c.mu.RUnlock()
	if d == nil {
		return nil
	}
	return d.Stop()
}

// IsRunning reports whether the dispatcher is active.
func (c *ClientImpl) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dispatcher != nil && c.dispatcher.IsRunning()
}

// Dispatcher returns the change feed dispatcher, nil before Start.
func (c *ClientImpl) Dispatcher() *changefeed.Dispatcher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dispatcher
}

// Close stops the dispatcher and closes the change feed and the backend.
func (c *ClientImpl) Close() error {
	if err := c.Stop(); err != nil {
		c.logger.Warn("error stopping dispatcher", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.feed != nil {
		if err := c.feed.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close change feed: %w", err))
		}
	}
	if err := c.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close backend: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}
