package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rzpsarthak13/modelstore/internal/backend"
	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/query"
	"github.com/rzpsarthak13/modelstore/internal/reconcile"
	"github.com/rzpsarthak13/modelstore/internal/schema"
)

// Options configures a SQL backend.
type Options struct {
	// Replica, when set, serves reads outside the sticky window.
	Replica *sql.DB

	// StickyWindow keeps reads on the primary for this long after a write.
	StickyWindow time.Duration

	Logger *slog.Logger
}

// Backend implements backend.Backend and backend.BulkUpdater over database/sql.
type Backend struct {
	db        *sql.DB
	replica   *sql.DB
	dialect   Dialect
	mapper    *schema.TypeMapper
	sticky    time.Duration
	lastWrite atomic.Int64
	logger    *slog.Logger
	closed    atomic.Bool
	now       func() time.Time
}

// New wraps db with dialect.
func New(db *sql.DB, dialect Dialect, opts Options) *Backend {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{
		db:      db,
		replica: opts.Replica,
		dialect: dialect,
		mapper:  schema.NewTypeMapper(),
		sticky:  opts.StickyWindow,
		logger:  logger,
		now:     time.Now,
	}
}

// DB returns the primary connection pool.
func (b *Backend) DB() *sql.DB { return b.db }

// Name implements backend.Backend.
func (b *Backend) Name() string { return b.dialect.Name() }

func (b *Backend) check() error {
	if b.closed.Load() {
		return fmt.Errorf("%s backend is closed", b.dialect.Name())
	}
	return nil
}

func (b *Backend) wrap(op string, err error) error {
	return core.WrapBackend(b.dialect.Name(), op, err)
}

// reader picks the pool for a read: the replica unless a write happened
// within the sticky window.
func (b *Backend) reader() Querier {
	if b.replica == nil {
		return b.db
	}
	last := b.lastWrite.Load()
	if last != 0 && b.now().Sub(time.Unix(0, last)) < b.sticky {
		return b.db
	}
	return b.replica
}

func (b *Backend) exec(ctx context.Context, op, stmt string, args ...any) (sql.Result, error) {
	b.logger.Debug("executing statement", "op", op, "sql", stmt, "args", len(args))
	res, err := b.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		b.logger.Error("statement failed", "op", op, "error", err)
		return nil, b.wrap(op, err)
	}
	b.lastWrite.Store(b.now().UnixNano())
	return res, nil
}

func (b *Backend) selectList(s *core.ModelSchema) ([]core.Column, string) {
	cols := s.StorageColumns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = b.dialect.Quote(c.Name)
	}
	return cols, strings.Join(names, ", ")
}

func (b *Backend) scan(rows *sql.Rows, cols []core.Column) (core.Row, error) {
	raw := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	row := make(core.Row, len(cols))
	for i, c := range cols {
		v, err := b.mapper.FromDriver(c, raw[i])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		row[c.Name] = v
	}
	return row, nil
}

func (b *Backend) args(s *core.ModelSchema, row core.Row) ([]string, []any, error) {
	var names []string
	var args []any
	for _, c := range s.StorageColumns() {
		if c.Name == s.UniqueIdentifier {
			continue
		}
		v, ok := row[c.Name]
		if !ok {
			continue
		}
		a, err := b.mapper.ToDriver(c, v)
		if err != nil {
			return nil, nil, &core.SchemaError{Schema: s.Name, Column: c.Name, Message: "value does not fit column", Cause: err}
		}
		names = append(names, c.Name)
		args = append(args, a)
	}
	return names, args, nil
}

// Hydrate implements backend.Backend.
func (b *Backend) Hydrate(ctx context.Context, s *core.ModelSchema, id int64) (core.Row, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	cols, list := b.selectList(s)
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", list, b.dialect.Quote(s.Name), b.dialect.Quote(s.UniqueIdentifier))
	rows, err := b.reader().QueryContext(ctx, q, id)
	if err != nil {
		return nil, b.wrap("hydrate", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, b.wrap("hydrate", err)
		}
		return nil, backend.NotFound(s, id)
	}
	row, err := b.scan(rows, cols)
	if err != nil {
		return nil, b.wrap("hydrate", err)
	}
	return row, nil
}

// Insert implements backend.Backend.
func (b *Backend) Insert(ctx context.Context, s *core.ModelSchema, row core.Row) (int64, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	names, args, err := b.args(s, row)
	if err != nil {
		return 0, err
	}
	table := b.dialect.Quote(s.Name)
	var stmt string
	if len(names) == 0 {
		stmt = b.dialect.EmptyInsert(table)
	} else {
		quoted := make([]string, len(names))
		for i, n := range names {
			quoted[i] = b.dialect.Quote(n)
		}
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(quoted, ", "), placeholders(len(names)))
	}
	res, err := b.exec(ctx, "insert", stmt, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, b.wrap("insert", err)
	}
	return id, nil
}

// Update implements backend.Backend.
func (b *Backend) Update(ctx context.Context, s *core.ModelSchema, id int64, row core.Row) error {
	if err := b.check(); err != nil {
		return err
	}
	names, args, err := b.args(s, row)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	sets := make([]string, len(names))
	for i, n := range names {
		sets[i] = b.dialect.Quote(n) + " = ?"
	}
	uid := b.dialect.Quote(s.UniqueIdentifier)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", b.dialect.Quote(s.Name), strings.Join(sets, ", "), uid)
	res, err := b.exec(ctx, "update", stmt, append(args, id)...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL reports unchanged rows as unaffected.
		var one int
		check := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ?", b.dialect.Quote(s.Name), uid)
		if err := b.db.QueryRowContext(ctx, check, id).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return backend.NotFound(s, id)
			}
			return b.wrap("update", err)
		}
	}
	return nil
}

// Delete implements backend.Backend.
func (b *Backend) Delete(ctx context.Context, s *core.ModelSchema, id int64) error {
	if err := b.check(); err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", b.dialect.Quote(s.Name), b.dialect.Quote(s.UniqueIdentifier))
	res, err := b.exec(ctx, "delete", stmt, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return b.wrap("delete", err)
	}
	if n == 0 {
		return backend.NotFound(s, id)
	}
	return nil
}

// CanFilter implements backend.Backend.
func (b *Backend) CanFilter(f query.Filter) bool { return canFilter(b.dialect, f) }

// CanSort implements backend.Backend.
func (b *Backend) CanSort() bool { return true }

// Fetch implements backend.Backend.
func (b *Backend) Fetch(ctx context.Context, s *core.ModelSchema, req backend.FetchRequest) ([]core.Row, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	where, args, err := compileWhere(ctx, b.dialect, s, b.mapper, req.Filter)
	if err != nil {
		return nil, err
	}
	cols, list := b.selectList(s)
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s%s ORDER BY ", list, b.dialect.Quote(s.Name), where)
	for _, o := range req.Sort {
		if _, ok := s.StorageColumn(o.Column); !ok {
			return nil, &core.SchemaError{Schema: s.Name, Column: o.Column, Message: "sort references unknown column"}
		}
		sb.WriteString(b.dialect.Quote(o.Column))
		if o.Descending {
			sb.WriteString(" DESC")
		}
		sb.WriteString(", ")
	}
	sb.WriteString(b.dialect.Quote(s.UniqueIdentifier))
	if !req.Range.IsZero() {
		sb.WriteString(b.dialect.Limit(req.Range))
	}

	q := sb.String()
	b.logger.Debug("executing query", "sql", q, "args", len(args))
	rows, err := b.reader().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, b.wrap("fetch", err)
	}
	defer rows.Close()

	var out []core.Row
	for rows.Next() {
		row, err := b.scan(rows, cols)
		if err != nil {
			return nil, b.wrap("fetch", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, b.wrap("fetch", err)
	}
	return out, nil
}

// CanAggregate implements backend.Backend.
func (b *Backend) CanAggregate(agg query.Aggregate) bool {
	switch agg.Kind {
	case query.AggSum, query.AggCount, query.AggCountDistinct:
		return true
	}
	return false
}

// Aggregate implements backend.Backend.
func (b *Backend) Aggregate(ctx context.Context, s *core.ModelSchema, aggs []query.Aggregate, f query.Filter) ([]any, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	if len(aggs) == 0 {
		return nil, nil
	}
	where, args, err := compileWhere(ctx, b.dialect, s, b.mapper, f)
	if err != nil {
		return nil, err
	}
	exprs := make([]string, len(aggs))
	for i, a := range aggs {
		col := ""
		if a.Column != "" {
			if _, ok := s.StorageColumn(a.Column); !ok {
				return nil, &core.SchemaError{Schema: s.Name, Column: a.Column, Message: "aggregate references unknown column"}
			}
			col = b.dialect.Quote(a.Column)
		}
		switch a.Kind {
		case query.AggSum:
			exprs[i] = "COALESCE(SUM(" + col + "), 0)"
		case query.AggCount:
			if col == "" {
				col = "*"
			}
			exprs[i] = "COUNT(" + col + ")"
		case query.AggCountDistinct:
			exprs[i] = "COUNT(DISTINCT " + col + ")"
		default:
			return nil, fmt.Errorf("unsupported aggregate %q", a.Kind)
		}
	}
	q := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(exprs, ", "), b.dialect.Quote(s.Name), where)
	b.logger.Debug("executing aggregate", "sql", q, "args", len(args))

	sums := make([]sql.NullFloat64, len(aggs))
	counts := make([]int64, len(aggs))
	dest := make([]any, len(aggs))
	for i, a := range aggs {
		if a.Kind == query.AggSum {
			dest[i] = &sums[i]
		} else {
			dest[i] = &counts[i]
		}
	}
	if err := b.reader().QueryRowContext(ctx, q, args...).Scan(dest...); err != nil {
		return nil, b.wrap("aggregate", err)
	}
	out := make([]any, len(aggs))
	for i, a := range aggs {
		if a.Kind == query.AggSum {
			out[i] = sums[i].Float64
		} else {
			out[i] = counts[i]
		}
	}
	return out, nil
}

// BulkUpdate implements backend.BulkUpdater. f must be fully native.
func (b *Backend) BulkUpdate(ctx context.Context, s *core.ModelSchema, f query.Filter, values core.Row) (int64, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	names, args, err := b.args(s, values)
	if err != nil {
		return 0, err
	}
	if len(names) == 0 {
		return 0, nil
	}
	where, whereArgs, err := compileWhere(ctx, b.dialect, s, b.mapper, f)
	if err != nil {
		return 0, err
	}
	sets := make([]string, len(names))
	for i, n := range names {
		sets[i] = b.dialect.Quote(n) + " = ?"
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s%s", b.dialect.Quote(s.Name), strings.Join(sets, ", "), where)
	res, err := b.exec(ctx, "bulk_update", stmt, append(args, whereArgs...)...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, b.wrap("bulk_update", err)
	}
	return n, nil
}

// DeclaredSchema implements backend.Backend.
func (b *Backend) DeclaredSchema(s *core.ModelSchema) (*reconcile.ComparisonSchema, error) {
	return b.dialect.DeclaredSchema(s), nil
}

// CaptureLiveSchema implements backend.Backend. It always reads the primary.
func (b *Backend) CaptureLiveSchema(ctx context.Context, s *core.ModelSchema) (*reconcile.ComparisonSchema, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	live, err := b.dialect.CaptureLiveSchema(ctx, b.db, s)
	if err != nil {
		return nil, b.wrap("capture_schema", err)
	}
	return live, nil
}

// RenderStructuralChange implements backend.Backend.
func (b *Backend) RenderStructuralChange(s *core.ModelSchema, stmt *reconcile.Statement) ([]string, error) {
	return b.dialect.RenderStructuralChange(s, stmt)
}

// ApplyStructuralChange implements backend.Backend.
func (b *Backend) ApplyStructuralChange(ctx context.Context, s *core.ModelSchema, stmt *reconcile.Statement) error {
	if err := b.check(); err != nil {
		return err
	}
	stmts, err := b.dialect.RenderStructuralChange(s, stmt)
	if err != nil {
		return err
	}
	for _, q := range stmts {
		if _, err := b.exec(ctx, "apply_schema", q); err != nil {
			return err
		}
	}
	b.logger.Info("applied structural change", "table", s.Name, "statements", len(stmts), "create", stmt.Create)
	return nil
}

// Clear implements backend.Backend.
func (b *Backend) Clear(ctx context.Context, s *core.ModelSchema) error {
	if err := b.check(); err != nil {
		return err
	}
	for _, q := range b.dialect.ClearStatements(s.Name) {
		if _, err := b.exec(ctx, "clear", q); err != nil {
			return err
		}
	}
	return nil
}

// Close implements backend.Backend.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	var errs []error
	if b.replica != nil {
		errs = append(errs, b.replica.Close())
	}
	errs = append(errs, b.db.Close())
	return errors.Join(errs...)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
