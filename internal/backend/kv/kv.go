// Package kv stores rows in a byte-level key-value store. Each row is one
// record; an identifier index, a sequence and the structure snapshot live
// under reserved keys next to the records of each table.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/rzpsarthak13/modelstore/internal/backend"
	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/kvstore"
	"github.com/rzpsarthak13/modelstore/internal/query"
	"github.com/rzpsarthak13/modelstore/internal/reconcile"
	"github.com/rzpsarthak13/modelstore/internal/registry"
	"github.com/rzpsarthak13/modelstore/internal/schema"
)

// Type is the backend type name.
const Type = "kv"

// Backend implements backend.Backend over a core.KVStore. Writes that touch
// the identifier index are serialised by mu; the store itself may be shared
// with other processes only if they do not write the same namespace.
type Backend struct {
	mu         sync.Mutex
	store      core.KVStore
	translator *schema.Translator
	namespace  string
	logger     *slog.Logger
}

// New wraps store. Records are snappy-compressed when compress is set.
func New(store core.KVStore, namespace string, compress bool, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{
		store:      store,
		translator: schema.NewTranslator(compress),
		namespace:  namespace,
		logger:     logger,
	}
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return Type }

// Store returns the underlying key-value store.
func (b *Backend) Store() core.KVStore { return b.store }

func (b *Backend) reserved(s *core.ModelSchema, suffix string) string {
	return b.namespace + ":" + s.Name + ":" + suffix
}

func (b *Backend) recordKey(s *core.ModelSchema, id int64) string {
	return b.translator.Key(b.namespace, s, id)
}

func (b *Backend) loadIDs(ctx context.Context, s *core.ModelSchema) ([]int64, error) {
	raw, err := b.store.Get(ctx, b.reserved(s, "ids"))
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identifier index: %w", err)
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode identifier index: %w", err)
	}
	return ids, nil
}

func encodeIDs(ids []int64) ([]byte, error) {
	if ids == nil {
		ids = []int64{}
	}
	return json.Marshal(ids)
}

// nextID assigns an identifier from the table sequence. Stores without an
// atomic counter fall back to read-modify-write under mu, which callers hold.
func (b *Backend) nextID(ctx context.Context, s *core.ModelSchema) (int64, error) {
	key := b.reserved(s, "seq")
	if counter, ok := b.store.(core.Counter); ok {
		return counter.Incr(ctx, key)
	}
	var n int64
	raw, err := b.store.Get(ctx, key)
	switch {
	case errors.Is(err, core.ErrKeyNotFound):
	case err != nil:
		return 0, err
	default:
		if n, err = strconv.ParseInt(string(raw), 10, 64); err != nil {
			return 0, fmt.Errorf("corrupt sequence at %s: %w", key, err)
		}
	}
	n++
	if err := b.store.Set(ctx, key, []byte(strconv.FormatInt(n, 10)), 0); err != nil {
		return 0, err
	}
	return n, nil
}

func (b *Backend) load(ctx context.Context, s *core.ModelSchema, id int64) (core.Row, error) {
	raw, err := b.store.Get(ctx, b.recordKey(s, id))
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil, backend.NotFound(s, id)
	}
	if err != nil {
		return nil, err
	}
	return b.translator.FromKV(s, raw)
}

// Hydrate implements backend.Backend.
func (b *Backend) Hydrate(ctx context.Context, s *core.ModelSchema, id int64) (core.Row, error) {
	row, err := b.load(ctx, s, id)
	if err != nil {
		return nil, core.WrapBackend(Type, "hydrate", err)
	}
	return row, nil
}

// Insert implements backend.Backend. The record and the grown index are
// written in one batch.
func (b *Backend) Insert(ctx context.Context, s *core.ModelSchema, row core.Row) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids, err := b.loadIDs(ctx, s)
	if err != nil {
		return 0, core.WrapBackend(Type, "insert", err)
	}
	id, err := b.nextID(ctx, s)
	if err != nil {
		return 0, core.WrapBackend(Type, "insert", err)
	}
	stored := row.Clone()
	if stored == nil {
		stored = core.Row{}
	}
	stored[s.UniqueIdentifier] = id
	record, err := b.translator.ToKV(s, stored)
	if err != nil {
		return 0, core.WrapBackend(Type, "insert", err)
	}
	index, err := encodeIDs(append(ids, id))
	if err != nil {
		return 0, core.WrapBackend(Type, "insert", err)
	}
	err = b.store.BatchSet(ctx, map[string][]byte{
		b.recordKey(s, id):    record,
		b.reserved(s, "ids"): index,
	}, 0)
	if err != nil {
		return 0, core.WrapBackend(Type, "insert", err)
	}
	b.logger.Debug("inserted row", "table", s.Name, "id", id)
	return id, nil
}

// Update implements backend.Backend by merging row into the stored record.
func (b *Backend) Update(ctx context.Context, s *core.ModelSchema, id int64, row core.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, err := b.load(ctx, s, id)
	if err != nil {
		return core.WrapBackend(Type, "update", err)
	}
	for k, v := range row {
		if k == s.UniqueIdentifier {
			continue
		}
		stored[k] = v
	}
	record, err := b.translator.ToKV(s, stored)
	if err != nil {
		return core.WrapBackend(Type, "update", err)
	}
	if err := b.store.Set(ctx, b.recordKey(s, id), record, 0); err != nil {
		return core.WrapBackend(Type, "update", err)
	}
	return nil
}

// Delete implements backend.Backend.
func (b *Backend) Delete(ctx context.Context, s *core.ModelSchema, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids, err := b.loadIDs(ctx, s)
	if err != nil {
		return core.WrapBackend(Type, "delete", err)
	}
	i := slices.Index(ids, id)
	if i < 0 {
		return backend.NotFound(s, id)
	}
	index, err := encodeIDs(slices.Delete(ids, i, i+1))
	if err != nil {
		return core.WrapBackend(Type, "delete", err)
	}
	if err := b.store.Set(ctx, b.reserved(s, "ids"), index, 0); err != nil {
		return core.WrapBackend(Type, "delete", err)
	}
	if err := b.store.Delete(ctx, b.recordKey(s, id)); err != nil {
		return core.WrapBackend(Type, "delete", err)
	}
	return nil
}

// CanFilter implements backend.Backend. No filter is native.
func (b *Backend) CanFilter(query.Filter) bool { return false }

// CanSort implements backend.Backend.
func (b *Backend) CanSort() bool { return true }

// Fetch implements backend.Backend. Every record of the table is read; a
// non-nil filter is evaluated in memory.
func (b *Backend) Fetch(ctx context.Context, s *core.ModelSchema, req backend.FetchRequest) ([]core.Row, error) {
	ids, err := b.loadIDs(ctx, s)
	if err != nil {
		return nil, core.WrapBackend(Type, "fetch", err)
	}
	slices.Sort(ids)

	ev := query.NewEvaluator(ctx)
	rows := make([]core.Row, 0, len(ids))
	for _, id := range ids {
		row, err := b.load(ctx, s, id)
		if errors.Is(err, core.ErrRecordNotFound) {
			b.logger.Warn("identifier index references a missing record", "table", s.Name, "id", id)
			continue
		}
		if err != nil {
			return nil, core.WrapBackend(Type, "fetch", err)
		}
		if req.Filter != nil {
			ok, err := ev.Match(req.Filter, row)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		rows = append(rows, row)
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

// CaptureLiveSchema implements backend.Backend from the stored snapshot.
func (b *Backend) CaptureLiveSchema(ctx context.Context, s *core.ModelSchema) (*reconcile.ComparisonSchema, error) {
	raw, err := b.store.Get(ctx, b.reserved(s, "schema"))
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, core.WrapBackend(Type, "capture schema", err)
	}
	var live reconcile.ComparisonSchema
	if err := json.Unmarshal(raw, &live); err != nil {
		return nil, fmt.Errorf("failed to decode schema snapshot for %s: %w", s.Name, err)
	}
	return &live, nil
}

// RenderStructuralChange implements backend.Backend.
func (b *Backend) RenderStructuralChange(s *core.ModelSchema, stmt *reconcile.Statement) ([]string, error) {
	return []string{stmt.String()}, nil
}

// ApplyStructuralChange implements backend.Backend. The snapshot is updated
// and existing records gain added columns at their default.
func (b *Backend) ApplyStructuralChange(ctx context.Context, s *core.ModelSchema, stmt *reconcile.Statement) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	live, err := b.CaptureLiveSchema(ctx, s)
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(reconcile.Apply(live, stmt))
	if err != nil {
		return fmt.Errorf("failed to encode schema snapshot for %s: %w", s.Name, err)
	}

	added := make(core.Row)
	for _, c := range stmt.Changes {
		if c.Kind != reconcile.AddColumn {
			continue
		}
		if col, ok := s.StorageColumn(c.Column); ok {
			added[col.Name] = core.DefaultValue(col)
		}
	}
	if len(added) > 0 && !stmt.Create {
		if err := b.backfill(ctx, s, added); err != nil {
			return core.WrapBackend(Type, "apply structural change", err)
		}
	}

	if err := b.store.Set(ctx, b.reserved(s, "schema"), snapshot, 0); err != nil {
		return core.WrapBackend(Type, "apply structural change", err)
	}
	b.logger.Info("applied structural change", "table", s.Name, "changes", len(stmt.Changes), "create", stmt.Create)
	return nil
}

func (b *Backend) backfill(ctx context.Context, s *core.ModelSchema, added core.Row) error {
	ids, err := b.loadIDs(ctx, s)
	if err != nil {
		return err
	}
	batch := make(map[string][]byte, len(ids))
	for _, id := range ids {
		row, err := b.load(ctx, s, id)
		if errors.Is(err, core.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		for name, v := range added {
			if row[name] == nil {
				row[name] = v
			}
		}
		record, err := b.translator.ToKV(s, row)
		if err != nil {
			return err
		}
		batch[b.recordKey(s, id)] = record
	}
	return b.store.BatchSet(ctx, batch, 0)
}

// Clear implements backend.Backend. The sequence restarts at 1.
func (b *Backend) Clear(ctx context.Context, s *core.ModelSchema) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids, err := b.loadIDs(ctx, s)
	if err != nil {
		return core.WrapBackend(Type, "clear", err)
	}
	keys := make([]string, 0, len(ids)+2)
	for _, id := range ids {
		keys = append(keys, b.recordKey(s, id))
	}
	keys = append(keys, b.reserved(s, "ids"), b.reserved(s, "seq"))
	for _, key := range keys {
		if err := b.store.Delete(ctx, key); err != nil {
			return core.WrapBackend(Type, "clear", err)
		}
	}
	b.logger.Info("cleared table", "table", s.Name, "rows", len(ids))
	return nil
}

// Close implements backend.Backend and closes the store.
func (b *Backend) Close() error {
	return b.store.Close()
}

type factory struct{}

func (factory) Type() string { return Type }

func (factory) Create(ctx context.Context, config registry.BackendConfig, logger *slog.Logger) (backend.Backend, error) {
	store, err := kvstore.Create(ctx, config.KV, logger)
	if err != nil {
		return nil, err
	}
	return New(store, config.KV.Namespace, config.KV.Compress, logger), nil
}

type validator struct{}

func (validator) Type() string { return Type }

func (validator) Validate(config *registry.Config) error {
	if config.Backend.KV.Namespace == "" {
		return fmt.Errorf("kv.namespace is required")
	}
	return kvstore.Validate(config.Backend.KV)
}

func init() {
	backend.RegisterFactory(factory{})
	registry.RegisterValidator(validator{})
}
