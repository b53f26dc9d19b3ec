// Package memory provides an in-process backend. It evaluates no filters
// natively; repositories filter its rows in memory.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/rzpsarthak13/modelstore/internal/backend"
	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/query"
	"github.com/rzpsarthak13/modelstore/internal/reconcile"
	"github.com/rzpsarthak13/modelstore/internal/registry"
)

// Type is the backend type name.
const Type = "memory"

type table struct {
	rows map[int64]core.Row
	next int64
	live *reconcile.ComparisonSchema
}

// Backend keeps rows in maps guarded by a single mutex.
type Backend struct {
	mu     sync.RWMutex
	tables map[string]*table
	logger *slog.Logger
	closed bool
}

// New creates an empty in-memory backend.
func New(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{
		tables: make(map[string]*table),
		logger: logger,
	}
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return Type }

func (b *Backend) table(name string) *table {
	t, ok := b.tables[name]
	if !ok {
		t = &table{rows: make(map[int64]core.Row), next: 1}
		b.tables[name] = t
	}
	return t
}

func (b *Backend) check() error {
	if b.closed {
		return fmt.Errorf("memory backend is closed")
	}
	return nil
}

func project(s *core.ModelSchema, row core.Row) core.Row {
	out := make(core.Row, len(row))
	for _, c := range s.StorageColumns() {
		out[c.Name] = row[c.Name]
	}
	return out
}

// Hydrate implements backend.Backend.
func (b *Backend) Hydrate(ctx context.Context, s *core.ModelSchema, id int64) (core.Row, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(); err != nil {
		return nil, err
	}
	t, ok := b.tables[s.Name]
	if !ok {
		return nil, backend.NotFound(s, id)
	}
	row, ok := t.rows[id]
	if !ok {
		return nil, backend.NotFound(s, id)
	}
	return project(s, row), nil
}

// Insert implements backend.Backend.
func (b *Backend) Insert(ctx context.Context, s *core.ModelSchema, row core.Row) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return 0, err
	}
	t := b.table(s.Name)
	id := t.next
	t.next++
	stored := project(s, row)
	stored[s.UniqueIdentifier] = id
	t.rows[id] = stored
	b.logger.Debug("inserted row", "table", s.Name, "id", id)
	return id, nil
}

// Update implements backend.Backend.
func (b *Backend) Update(ctx context.Context, s *core.ModelSchema, id int64, row core.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return err
	}
	stored, ok := b.table(s.Name).rows[id]
	if !ok {
		return backend.NotFound(s, id)
	}
	for k, v := range row {
		if k == s.UniqueIdentifier {
			continue
		}
		stored[k] = v
	}
	return nil
}

// Delete implements backend.Backend.
func (b *Backend) Delete(ctx context.Context, s *core.ModelSchema, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return err
	}
	t := b.table(s.Name)
	if _, ok := t.rows[id]; !ok {
		return backend.NotFound(s, id)
	}
	delete(t.rows, id)
	return nil
}

// CanFilter implements backend.Backend. No filter is native.
func (b *Backend) CanFilter(query.Filter) bool { return false }

// CanSort implements backend.Backend.
func (b *Backend) CanSort() bool { return true }

// Fetch implements backend.Backend. A non-nil filter is still honoured so
// the backend can be driven directly.
func (b *Backend) Fetch(ctx context.Context, s *core.ModelSchema, req backend.FetchRequest) ([]core.Row, error) {
	b.mu.RLock()
	if err := b.check(); err != nil {
		b.mu.RUnlock()
		return nil, err
	}
	var ids []int64
	t := b.tables[s.Name]
	if t != nil {
		for id := range t.rows {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	rows := make([]core.Row, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, project(s, t.rows[id]))
	}
	b.mu.RUnlock()

	if req.Filter != nil {
		ev := query.NewEvaluator(ctx)
		kept := rows[:0]
		for _, row := range rows {
			ok, err := ev.Match(req.Filter, row)
			if err != nil {
				return nil, err
			}
			if ok {
				kept = append(kept, row)
			}
		}
		rows = kept
	}
	query.SortRows(rows, req.Sort, s.UniqueIdentifier)
	return query.ApplyRange(rows, req.Range), nil
}

// CanAggregate implements backend.Backend. No aggregate is native.
func (b *Backend) CanAggregate(query.Aggregate) bool { return false }

// Aggregate implements backend.Backend by folding fetched rows.
func (b *Backend) Aggregate(ctx context.Context, s *core.ModelSchema, aggs []query.Aggregate, f query.Filter) ([]any, error) {
	rows, err := b.Fetch(ctx, s, backend.FetchRequest{Filter: f})
	if err != nil {
		return nil, err
	}
	acc := query.NewAccumulator(aggs)
	for _, row := range rows {
		acc.Add(row)
	}
	return acc.Results(), nil
}

// DeclaredSchema implements backend.Backend.
func (b *Backend) DeclaredSchema(s *core.ModelSchema) (*reconcile.ComparisonSchema, error) {
	return backend.Declare(s), nil
}

// CaptureLiveSchema implements backend.Backend.
func (b *Backend) CaptureLiveSchema(ctx context.Context, s *core.ModelSchema) (*reconcile.ComparisonSchema, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(); err != nil {
		return nil, err
	}
	t, ok := b.tables[s.Name]
	if !ok || t.live == nil {
		return nil, nil
	}
	return t.live.Clone(), nil
}

// RenderStructuralChange implements backend.Backend.
func (b *Backend) RenderStructuralChange(s *core.ModelSchema, stmt *reconcile.Statement) ([]string, error) {
	return []string{stmt.String()}, nil
}

// ApplyStructuralChange implements backend.Backend by recording the new
// structure. Existing rows gain added columns at their default.
func (b *Backend) ApplyStructuralChange(ctx context.Context, s *core.ModelSchema, stmt *reconcile.Statement) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return err
	}
	t := b.table(s.Name)
	t.live = reconcile.Apply(t.live, stmt)
	for _, c := range stmt.Changes {
		if c.Kind != reconcile.AddColumn {
			continue
		}
		col, _ := s.StorageColumn(c.Column)
		for _, row := range t.rows {
			if _, ok := row[c.Column]; !ok {
				row[c.Column] = core.DefaultValue(col)
			}
		}
	}
	b.logger.Info("applied structural change", "table", s.Name, "changes", len(stmt.Changes), "create", stmt.Create)
	return nil
}

// Clear implements backend.Backend. The identifier counter restarts at 1.
func (b *Backend) Clear(ctx context.Context, s *core.ModelSchema) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return err
	}
	t := b.table(s.Name)
	t.rows = make(map[int64]core.Row)
	t.next = 1
	return nil
}

// Close implements backend.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type factory struct{}

func (factory) Type() string { return Type }

func (factory) Create(ctx context.Context, config registry.BackendConfig, logger *slog.Logger) (backend.Backend, error) {
	return New(logger), nil
}

type validator struct{}

func (validator) Type() string                    { return Type }
func (validator) Validate(*registry.Config) error { return nil }

func init() {
	backend.RegisterFactory(factory{})
	registry.RegisterValidator(validator{})
}
