package model

import (
	"context"
	"iter"
	"slices"

	"github.com/rzpsarthak13/modelstore/internal/backend"
	"github.com/rzpsarthak13/modelstore/internal/changefeed"
	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/query"
	"github.com/rzpsarthak13/modelstore/internal/schema"
)

// Collection is a lazily evaluated query over a repository. Filtering is
// split between the backend and memory; results are the same either way.
//
// The builder methods modify and return the receiver. A Collection is not
// safe for concurrent use.
type Collection struct {
	repo   *Repository
	filter query.Filter
	sorts  []query.Sort
	rng    query.Range

	evaluated bool
	byBackend bool
}

func newCollection(repo *Repository) *Collection {
	return &Collection{repo: repo}
}

// Repository returns the repository queried.
func (c *Collection) Repository() *Repository { return c.repo }

// Filter narrows the collection: f is ANDed with the current filter.
func (c *Collection) Filter(f query.Filter) *Collection {
	c.filter = query.And(c.filter, f)
	return c
}

// ReplaceFilter discards the current filter in favour of f.
func (c *Collection) ReplaceFilter(f query.Filter) *Collection {
	c.filter = f
	return c
}

// Sort replaces the sort order.
func (c *Collection) Sort(sorts ...query.Sort) *Collection {
	c.sorts = slices.Clone(sorts)
	return c
}

// SetRange selects limit results after skipping offset. A zero limit is unbounded.
func (c *Collection) SetRange(offset, limit int) *Collection {
	c.rng = query.Range{Offset: max(offset, 0), Limit: max(limit, 0)}
	return c
}

// Clone returns an independent copy of the query.
func (c *Collection) Clone() *Collection {
	return &Collection{repo: c.repo, filter: c.filter, sorts: slices.Clone(c.sorts), rng: c.rng}
}

// QueryFilter implements query.Subquery.
func (c *Collection) QueryFilter() query.Filter { return c.filter }

// Values implements query.Subquery with the distinct stored values of column
// over the collection's results.
func (c *Collection) Values(ctx context.Context, column string) ([]any, error) {
	if _, ok := c.repo.schema.StorageColumn(column); !ok {
		return nil, &core.SchemaError{Schema: c.repo.schema.Name, Column: column, Message: "subquery references unknown column"}
	}
	rows, err := c.rows(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(rows))
	var out []any
	for _, row := range rows {
		v := row[column]
		if v == nil {
			continue
		}
		key := query.Stringify(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

// WasFilteredByRepository reports whether the last evaluation was filtered
// entirely by the backend, with no predicate left for memory.
func (c *Collection) WasFilteredByRepository() bool {
	return c.evaluated && c.byBackend
}

func (c *Collection) note(residual query.Filter) {
	c.evaluated = true
	c.byBackend = residual == nil
}

// rows evaluates the query to storage rows: fetch with pushdown, then the
// residual filter, sort and range in memory as needed.
func (c *Collection) rows(ctx context.Context) ([]core.Row, error) {
	res, err := c.repo.fetch(ctx, c.filter, c.sorts, c.rng, c)
	if err != nil {
		return nil, err
	}
	c.note(res.Residual)
	rows := res.Rows
	if res.Residual != nil {
		ev := query.NewEvaluator(ctx)
		kept := make([]core.Row, 0, len(rows))
		for _, row := range rows {
			ok, err := ev.Match(res.Residual, row)
			if err != nil {
				return nil, err
			}
			if ok {
				kept = append(kept, row)
			}
		}
		rows = kept
	}
	if !res.Sorted {
		query.SortRows(rows, c.sorts, c.repo.schema.UniqueIdentifier)
	}
	if !res.Ranged {
		rows = query.ApplyRange(rows, c.rng)
	}
	return rows, nil
}

// All evaluates the collection and yields its entities in order. Each call
// evaluates the query again. Evaluation failures are yielded once with a nil
// entity.
func (c *Collection) All(ctx context.Context) iter.Seq2[*Entity, error] {
	return func(yield func(*Entity, error) bool) {
		rows, err := c.rows(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, row := range rows {
			e, err := c.repo.resolve(row)
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// Entities evaluates the collection into a slice.
func (c *Collection) Entities(ctx context.Context) ([]*Entity, error) {
	var out []*Entity
	for e, err := range c.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// First returns the first entity, or nil when the collection is empty.
func (c *Collection) First(ctx context.Context) (*Entity, error) {
	for e, err := range c.All(ctx) {
		return e, err
	}
	return nil, nil
}

// IDs returns the identifiers of the collection's entities in order.
func (c *Collection) IDs(ctx context.Context) ([]int64, error) {
	rows, err := c.rows(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		id, _ := row.ID(c.repo.schema.UniqueIdentifier)
		ids = append(ids, id)
	}
	return ids, nil
}

// Count returns the number of entities in the collection.
func (c *Collection) Count(ctx context.Context) (int64, error) {
	if !c.rng.IsZero() {
		rows, err := c.rows(ctx)
		if err != nil {
			return 0, err
		}
		return int64(len(rows)), nil
	}
	res, err := c.CalculateAggregates(ctx, query.Count(""))
	if err != nil {
		return 0, err
	}
	return res[0].(int64), nil
}

// CalculateAggregates computes aggs over the collection. A range forces the
// rows to be folded in memory.
func (c *Collection) CalculateAggregates(ctx context.Context, aggs ...query.Aggregate) ([]any, error) {
	if c.rng.IsZero() {
		res, err := c.repo.aggregate(ctx, c.filter, aggs, c)
		if err != nil {
			return nil, err
		}
		_, residual := query.Split(c.filter, c.repo.backend.CanFilter)
		c.note(residual)
		return res, nil
	}
	rows, err := c.rows(ctx)
	if err != nil {
		return nil, err
	}
	acc := query.NewAccumulator(aggs)
	for _, row := range rows {
		acc.Add(row)
	}
	return acc.Results(), nil
}

// BatchUpdate sets values on every entity in the collection and returns how
// many were updated. Backends with a native bulk update apply it in one
// operation when the whole query is native. Otherwise each entity is saved
// in turn, which is refused with core.ErrBatchUpdateNotPossible when the
// collection is unbounded.
func (c *Collection) BatchUpdate(ctx context.Context, values map[string]any) (int64, error) {
	r := c.repo
	attrs := make(core.Row, len(values))
	for name, v := range values {
		col, ok := r.schema.Column(name)
		if !ok {
			return 0, &core.SchemaError{Schema: r.schema.Name, Column: name, Message: "unknown column"}
		}
		if name == r.schema.UniqueIdentifier {
			return 0, &core.SchemaError{Schema: r.schema.Name, Column: name, Message: "unique identifier cannot be updated"}
		}
		stored, err := toStorage(col, v)
		if err != nil {
			return 0, &core.SchemaError{Schema: r.schema.Name, Column: name, Message: "transform failed", Cause: err}
		}
		attrs[name] = stored
	}
	stored, err := schema.Flatten(r.schema, r.mapper, attrs)
	if err != nil {
		return 0, err
	}
	if failures := r.validator.ValidatePartialRecord(stored); len(failures) > 0 {
		return 0, &core.ConsistencyValidationError{Entity: r.schema.Name, Failures: failures}
	}
	if err := query.Validate(c.filter, r.schema, c); err != nil {
		return 0, err
	}
	if len(stored) == 0 {
		return 0, nil
	}

	native, residual := query.Split(r.normalizeFilter(c.filter), r.backend.CanFilter)
	if bulk, ok := r.backend.(backend.BulkUpdater); ok && residual == nil && c.rng.IsZero() {
		c.note(nil)
		return c.bulkUpdate(ctx, bulk, native, stored)
	}
	if c.filter == nil && c.rng.IsZero() {
		return 0, core.ErrBatchUpdateNotPossible
	}

	entities, err := c.Entities(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, e := range entities {
		for name, v := range attrs {
			e.values[name] = v
			e.dirty[name] = struct{}{}
		}
		if _, err := r.Save(ctx, e); err != nil {
			return n, err
		}
		n++
	}
	r.logger.Debug("batch update applied per entity", "rows", n)
	return n, nil
}

func (c *Collection) bulkUpdate(ctx context.Context, bulk backend.BulkUpdater, native query.Filter, stored core.Row) (int64, error) {
	r := c.repo
	matched, err := r.backend.Fetch(ctx, r.schema, backend.FetchRequest{Filter: native})
	if err != nil {
		return 0, err
	}
	n, err := bulk.BulkUpdate(ctx, r.schema, native, stored)
	if err != nil {
		return 0, err
	}
	for _, row := range matched {
		id, _ := row.ID(r.schema.UniqueIdentifier)
		e := r.cached(id)
		if e == nil || len(e.dirty) > 0 {
			continue
		}
		merged := e.loaded.Clone()
		for k, v := range stored {
			merged[k] = v
		}
		if err := r.fill(e, merged); err != nil {
			return n, err
		}
	}
	r.logger.Debug("batch update applied natively", "rows", n)
	r.publish(ctx, changefeed.OperationBulkUpdate, 0, stored)
	return n, nil
}
