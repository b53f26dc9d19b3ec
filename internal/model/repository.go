// Package model is the object layer over a backend: repositories hand out
// entities, collections query them, and schema reconciliation keeps the
// backend structure in line with the declared schema.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"weak"

	"github.com/rzpsarthak13/modelstore/internal/backend"
	"github.com/rzpsarthak13/modelstore/internal/changefeed"
	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/query"
	"github.com/rzpsarthak13/modelstore/internal/reconcile"
	"github.com/rzpsarthak13/modelstore/internal/registry"
	"github.com/rzpsarthak13/modelstore/internal/schema"
)

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the repository logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithFeed publishes a change event for every successful write.
func WithFeed(feed changefeed.Queue) Option {
	return func(r *Repository) { r.feed = feed }
}

// WithLifecycle runs the manager's hooks around structural changes.
func WithLifecycle(lm *registry.LifecycleManager) Option {
	return func(r *Repository) { r.lifecycle = lm }
}

// Repository persists entities of one schema in one backend. It keeps an
// identity cache so that an identifier maps to at most one live entity.
//
// A Repository is not safe for concurrent use.
type Repository struct {
	schema    *core.ModelSchema
	backend   backend.Backend
	mapper    *schema.TypeMapper
	validator *schema.SchemaValidator
	logger    *slog.Logger
	feed      changefeed.Queue
	lifecycle *registry.LifecycleManager

	cache      map[int64]weak.Pointer[Entity]
	validators map[string][]Validator
	decorators map[string]Decorator
}

// NewRepository binds a frozen schema to a backend.
func NewRepository(s *core.ModelSchema, b backend.Backend, opts ...Option) (*Repository, error) {
	if s == nil || b == nil {
		return nil, fmt.Errorf("repository needs a schema and a backend")
	}
	if !s.Frozen() {
		if err := s.Freeze(); err != nil {
			return nil, err
		}
	}
	if s.UniqueIdentifier == "" {
		return nil, &core.SchemaError{Schema: s.Name, Message: "schema has no unique identifier"}
	}
	mapper := schema.NewTypeMapper()
	r := &Repository{
		schema:     s,
		backend:    b,
		mapper:     mapper,
		validator:  schema.NewSchemaValidator(s, mapper),
		logger:     slog.New(slog.DiscardHandler),
		cache:      make(map[int64]weak.Pointer[Entity]),
		validators: make(map[string][]Validator),
		decorators: make(map[string]Decorator),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("schema", s.Name, "backend", b.Name())
	return r, nil
}

// Schema returns the repository's schema.
func (r *Repository) Schema() *core.ModelSchema { return r.schema }

// Backend returns the repository's backend.
func (r *Repository) Backend() backend.Backend { return r.backend }

// AddValidator registers a rule checked against column on every save.
func (r *Repository) AddValidator(column string, v Validator) error {
	if _, ok := r.schema.Column(column); !ok {
		return &core.SchemaError{Schema: r.schema.Name, Column: column, Message: "unknown column"}
	}
	r.validators[column] = append(r.validators[column], v)
	return nil
}

// SetDecorator sets the display decorator of column.
func (r *Repository) SetDecorator(column string, d Decorator) error {
	if _, ok := r.schema.Column(column); !ok {
		return &core.SchemaError{Schema: r.schema.Name, Column: column, Message: "unknown column"}
	}
	r.decorators[column] = d
	return nil
}

// New returns an unsaved entity holding the schema defaults.
func (r *Repository) New() *Entity {
	return newEntity(r)
}

// Collection starts a query over the repository.
func (r *Repository) Collection() *Collection {
	return newCollection(r)
}

func (r *Repository) cached(id int64) *Entity {
	wp, ok := r.cache[id]
	if !ok {
		return nil
	}
	if e := wp.Value(); e != nil {
		return e
	}
	delete(r.cache, id)
	return nil
}

func (r *Repository) remember(e *Entity) {
	r.cache[e.id] = weak.Make(e)
	if len(r.cache)%256 == 0 {
		r.pruneCache()
	}
}

func (r *Repository) pruneCache() {
	for id, wp := range r.cache {
		if wp.Value() == nil {
			delete(r.cache, id)
		}
	}
}

// CachedCount returns the number of live entities in the identity cache.
func (r *Repository) CachedCount() int {
	r.pruneCache()
	return len(r.cache)
}

// ClearObjectCache forgets every cached entity. Entities already handed out
// stay valid but later loads create new instances.
func (r *Repository) ClearObjectCache() {
	clear(r.cache)
}

// Hydrate returns the entity with the given identifier, from the identity
// cache when one is alive.
func (r *Repository) Hydrate(ctx context.Context, id int64) (*Entity, error) {
	if e := r.cached(id); e != nil {
		return e, nil
	}
	row, err := r.backend.Hydrate(ctx, r.schema, id)
	if err != nil {
		return nil, err
	}
	e := newEntity(r)
	if err := r.fill(e, row); err != nil {
		return nil, err
	}
	r.remember(e)
	return e, nil
}

// resolve maps a fetched storage row to its entity, reusing and refreshing
// the cached instance unless it has unsaved changes.
func (r *Repository) resolve(row core.Row) (*Entity, error) {
	id, ok := row.ID(r.schema.UniqueIdentifier)
	if !ok {
		return nil, &core.SchemaError{Schema: r.schema.Name, Column: r.schema.UniqueIdentifier, Message: "fetched row has no identifier"}
	}
	if e := r.cached(id); e != nil {
		if len(e.dirty) == 0 {
			if err := r.fill(e, row); err != nil {
				return nil, err
			}
		}
		return e, nil
	}
	e := newEntity(r)
	if err := r.fill(e, row); err != nil {
		return nil, err
	}
	r.remember(e)
	return e, nil
}

func (r *Repository) fill(e *Entity, stored core.Row) error {
	values, err := schema.Assemble(r.schema, stored)
	if err != nil {
		return err
	}
	e.load(stored, values)
	return nil
}

// Reload discards e's unsaved changes and reads it again.
func (r *Repository) Reload(ctx context.Context, e *Entity) error {
	if err := r.owns(e); err != nil {
		return err
	}
	switch e.state {
	case StateDeleted:
		return core.ErrRecordDeleted
	case StateNew:
		e.values = r.schema.Defaults()
		clear(e.dirty)
		return nil
	}
	row, err := r.backend.Hydrate(ctx, r.schema, e.id)
	if err != nil {
		return err
	}
	return r.fill(e, row)
}

func (r *Repository) owns(e *Entity) error {
	if e == nil || e.repo != r {
		return fmt.Errorf("entity does not belong to repository %q", r.schema.Name)
	}
	return nil
}

func (r *Repository) runValidators(e *Entity) []core.ValidationFailure {
	var failures []core.ValidationFailure
	for _, c := range r.schema.Columns() {
		rules := r.validators[c.Name]
		if len(rules) == 0 {
			continue
		}
		v, err := e.Get(c.Name)
		if err != nil {
			v = e.values[c.Name]
		}
		for _, rule := range rules {
			if !rule.Test(v, e) {
				failures = append(failures, core.ValidationFailure{Column: c.Name, Message: rule.DefaultFailureMessage()})
			}
		}
	}
	return failures
}

// Save writes e: an insert for a new entity, otherwise an update of its
// dirty columns. It returns the entity's identifier. Registered validators
// run first; any failure aborts the save with a
// *core.ConsistencyValidationError and leaves e unchanged.
func (r *Repository) Save(ctx context.Context, e *Entity) (int64, error) {
	if err := r.owns(e); err != nil {
		return 0, err
	}
	if e.state == StateDeleted {
		return 0, core.ErrRecordDeleted
	}
	if failures := r.runValidators(e); len(failures) > 0 {
		return 0, &core.ConsistencyValidationError{Entity: r.schema.Name, Failures: failures}
	}

	pending := e.pendingColumns()
	if e.state == StatePersisted && len(pending) == 0 {
		return e.id, nil
	}
	values := make(core.Row, len(pending))
	for _, name := range pending {
		values[name] = e.values[name]
	}
	stored, err := schema.Flatten(r.schema, r.mapper, values)
	if err != nil {
		return 0, err
	}

	if e.state == StateNew {
		return r.insert(ctx, e, stored)
	}
	return r.update(ctx, e, stored)
}

func (r *Repository) insert(ctx context.Context, e *Entity, stored core.Row) (int64, error) {
	if failures := r.validator.ValidateRecord(stored); len(failures) > 0 {
		return 0, &core.ConsistencyValidationError{Entity: r.schema.Name, Failures: failures}
	}
	id, err := r.backend.Insert(ctx, r.schema, stored)
	if err != nil {
		r.logger.Error("insert failed", "error", err)
		return 0, err
	}
	stored[r.schema.UniqueIdentifier] = id
	if err := r.fill(e, stored); err != nil {
		return 0, err
	}
	r.remember(e)
	r.logger.Debug("inserted entity", "id", id)
	r.publish(ctx, changefeed.OperationInsert, id, stored)
	return id, nil
}

func (r *Repository) update(ctx context.Context, e *Entity, stored core.Row) (int64, error) {
	if failures := r.validator.ValidatePartialRecord(stored); len(failures) > 0 {
		return 0, &core.ConsistencyValidationError{Entity: r.schema.Name, Failures: failures}
	}
	if err := r.backend.Update(ctx, r.schema, e.id, stored); err != nil {
		r.logger.Error("update failed", "id", e.id, "error", err)
		return 0, err
	}
	merged := e.loaded.Clone()
	if merged == nil {
		merged = make(core.Row, len(stored)+1)
	}
	for k, v := range stored {
		merged[k] = v
	}
	merged[r.schema.UniqueIdentifier] = e.id
	if err := r.fill(e, merged); err != nil {
		return 0, err
	}
	r.logger.Debug("updated entity", "id", e.id, "columns", len(stored))
	r.publish(ctx, changefeed.OperationUpdate, e.id, stored)
	return e.id, nil
}

// Delete removes e from the backend and evicts it. e becomes unusable.
// Deleting a new entity only marks it deleted.
func (r *Repository) Delete(ctx context.Context, e *Entity) error {
	if err := r.owns(e); err != nil {
		return err
	}
	switch e.state {
	case StateDeleted:
		return core.ErrRecordDeleted
	case StatePersisted:
		if err := r.backend.Delete(ctx, r.schema, e.id); err != nil {
			return err
		}
		delete(r.cache, e.id)
		r.publish(ctx, changefeed.OperationDelete, e.id, nil)
	}
	e.state = StateDeleted
	clear(e.dirty)
	return nil
}

func (r *Repository) publish(ctx context.Context, op changefeed.Operation, id int64, data core.Row) {
	if r.feed == nil {
		return
	}
	if err := r.feed.Publish(ctx, changefeed.NewEvent(r.schema.Name, op, id, data.Clone())); err != nil {
		r.logger.Warn("failed to publish change event", "operation", op, "id", id, "error", err)
	}
}

// FetchResult is the outcome of a fetch: the rows the backend returned and
// which parts of the query are still to be applied in memory.
type FetchResult struct {
	Rows []core.Row

	// Residual is the part of the filter the backend could not evaluate.
	Residual query.Filter

	// Sorted reports whether Rows are already in the requested order.
	Sorted bool

	// Ranged reports whether the range was applied by the backend.
	Ranged bool
}

// FilterAndFetch runs a query against the backend, pushing down whatever the
// backend supports. The caller applies the residual filter, sort and range
// reported in the result.
func (r *Repository) FilterAndFetch(ctx context.Context, f query.Filter, sorts []query.Sort, rng query.Range) (*FetchResult, error) {
	return r.fetch(ctx, f, sorts, rng, nil)
}

func (r *Repository) fetch(ctx context.Context, f query.Filter, sorts []query.Sort, rng query.Range, self query.Subquery) (*FetchResult, error) {
	if err := query.Validate(f, r.schema, self); err != nil {
		return nil, err
	}
	f = r.normalizeFilter(f)
	for _, s := range sorts {
		if _, ok := r.schema.StorageColumn(s.Column); !ok {
			return nil, &core.SchemaError{Schema: r.schema.Name, Column: s.Column, Message: "sort references unknown column"}
		}
	}

	native, residual := query.Split(f, r.backend.CanFilter)
	req := backend.FetchRequest{Filter: native}
	res := &FetchResult{Residual: residual}
	if r.backend.CanSort() {
		req.Sort = sorts
		res.Sorted = true
		if residual == nil {
			req.Range = rng
			res.Ranged = true
		}
	}

	rows, err := r.backend.Fetch(ctx, r.schema, req)
	if err != nil {
		return nil, err
	}
	res.Rows = rows
	r.logger.Debug("fetched rows", "rows", len(rows), "residual", residual != nil, "sorted", res.Sorted, "ranged", res.Ranged)
	return res, nil
}

// normalizeFilter puts filter operands in the canonical form of their
// columns so in-memory evaluation compares what a SQL backend would.
func (r *Repository) normalizeFilter(f query.Filter) query.Filter {
	if f == nil {
		return nil
	}
	return query.NormalizeOperands(f, func(column string, v any) (any, error) {
		col, ok := r.schema.StorageColumn(column)
		if !ok {
			return nil, &core.SchemaError{Schema: r.schema.Name, Column: column, Message: "filter references unknown column"}
		}
		return r.mapper.Normalize(col, v)
	})
}

// CalculateAggregates computes aggs over the records matching f. The backend
// computes them when it can evaluate the whole filter and every aggregate;
// otherwise matching rows are folded in memory.
func (r *Repository) CalculateAggregates(ctx context.Context, f query.Filter, aggs []query.Aggregate) ([]any, error) {
	return r.aggregate(ctx, f, aggs, nil)
}

func (r *Repository) aggregate(ctx context.Context, f query.Filter, aggs []query.Aggregate, self query.Subquery) ([]any, error) {
	if len(aggs) == 0 {
		return nil, nil
	}
	for _, a := range aggs {
		if a.Column == "" {
			continue
		}
		if _, ok := r.schema.StorageColumn(a.Column); !ok {
			return nil, &core.SchemaError{Schema: r.schema.Name, Column: a.Column, Message: "aggregate references unknown column"}
		}
	}
	if err := query.Validate(f, r.schema, self); err != nil {
		return nil, err
	}
	f = r.normalizeFilter(f)

	native, residual := query.Split(f, r.backend.CanFilter)
	if residual == nil && !slices.ContainsFunc(aggs, func(a query.Aggregate) bool { return !r.backend.CanAggregate(a) }) {
		return r.backend.Aggregate(ctx, r.schema, aggs, native)
	}

	rows, err := r.backend.Fetch(ctx, r.schema, backend.FetchRequest{Filter: native})
	if err != nil {
		return nil, err
	}
	ev := query.NewEvaluator(ctx)
	acc := query.NewAccumulator(aggs)
	for _, row := range rows {
		ok, err := ev.Match(residual, row)
		if err != nil {
			return nil, err
		}
		if ok {
			acc.Add(row)
		}
	}
	return acc.Results(), nil
}

// PlanSchema compares the declared structure with the live one and returns
// the statement that would reconcile them, or nil when nothing is missing.
func (r *Repository) PlanSchema(ctx context.Context) (*reconcile.Statement, error) {
	declared, err := r.backend.DeclaredSchema(r.schema)
	if err != nil {
		return nil, err
	}
	live, err := r.backend.CaptureLiveSchema(ctx, r.schema)
	if err != nil {
		return nil, err
	}
	if live == nil {
		return reconcile.CreateStatementFor(declared), nil
	}
	stmt, changed := reconcile.CreateAlterStatementFor(declared, live)
	if !changed {
		return nil, nil
	}
	return stmt, nil
}

// CheckSchema brings the backend structure in line with the schema and
// returns the statement applied, or nil when it already matched. Changes
// that narrow an existing column are refused unless force is set.
func (r *Repository) CheckSchema(ctx context.Context, force bool) (*reconcile.Statement, error) {
	stmt, err := r.PlanSchema(ctx)
	if err != nil || stmt == nil {
		return nil, err
	}
	if narrowing := stmt.Narrowing(); len(narrowing) > 0 && !force {
		return nil, &core.SchemaError{
			Schema:  r.schema.Name,
			Column:  narrowing[0].Column,
			Message: fmt.Sprintf("refusing %d narrowing change(s) without force: %s", len(narrowing), narrowing[0]),
		}
	}

	if r.lifecycle != nil {
		if err := r.lifecycle.ExecuteBeforeApply(ctx, r.schema, stmt); err != nil {
			return nil, err
		}
	}
	if err := r.backend.ApplyStructuralChange(ctx, r.schema, stmt); err != nil {
		r.logger.Error("structural change failed", "statement", stmt.String(), "error", err)
		return nil, err
	}
	r.logger.Info("applied structural change", "create", stmt.Create, "changes", len(stmt.Changes))
	if r.lifecycle != nil {
		if err := r.lifecycle.ExecuteAfterApply(ctx, r.schema, stmt); err != nil {
			return stmt, err
		}
	}
	return stmt, nil
}

// RenderSchemaChange renders stmt in the backend's own syntax.
func (r *Repository) RenderSchemaChange(stmt *reconcile.Statement) ([]string, error) {
	if stmt == nil {
		return nil, nil
	}
	return r.backend.RenderStructuralChange(r.schema, stmt)
}

// ClearRepositoryData removes every record and empties the identity cache.
func (r *Repository) ClearRepositoryData(ctx context.Context) error {
	if err := r.backend.Clear(ctx, r.schema); err != nil {
		return err
	}
	r.ClearObjectCache()
	return nil
}

// IsNotFound reports whether err means a record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, core.ErrRecordNotFound)
}
