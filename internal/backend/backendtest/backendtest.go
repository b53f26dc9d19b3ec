// Package backendtest is a behavioural test suite every backend must pass.
package backendtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/modelstore/internal/backend"
	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/query"
	"github.com/rzpsarthak13/modelstore/internal/reconcile"
	"github.com/rzpsarthak13/modelstore/internal/testutil"
)

// Opener returns a fresh, empty backend. The suite closes it.
type Opener func(t *testing.T) backend.Backend

// PeopleRows is the dataset the suite stores, in canonical storage form.
func PeopleRows() []core.Row {
	return []core.Row{
		{
			"Name": "Ann", "Active": true, "Age": int64(30), "Balance": 10.5,
			"Tags": []string{"21", "24", "15", "43", "12"}, "Meta": map[string]any{"k": "v"},
			"Status": "new", "AddressCity": "Pune", "AddressZip": "411001",
		},
		{
			"Name": "Bob", "Active": false, "Age": nil, "Balance": 0.0,
			"Tags": []string{"21", "31"}, "Meta": nil,
			"Status": "old", "AddressCity": nil, "AddressZip": nil,
		},
		{
			"Name": "Cy", "Active": true, "Age": int64(41), "Balance": 99.99,
			"Tags": []string{"21", "31", "7"}, "Meta": map[string]any{"k": "w", "n": float64(1)},
			"Status": "new", "AddressCity": "Goa", "AddressZip": nil,
		},
	}
}

// Create brings the structure of s into existence on b.
func Create(t *testing.T, b backend.Backend, s *core.ModelSchema) {
	t.Helper()
	ctx := context.Background()
	declared, err := b.DeclaredSchema(s)
	require.NoError(t, err)
	live, err := b.CaptureLiveSchema(ctx, s)
	require.NoError(t, err)
	if live != nil {
		stmt, changed := reconcile.CreateAlterStatementFor(declared, live)
		if changed {
			require.NoError(t, b.ApplyStructuralChange(ctx, s, stmt))
		}
		return
	}
	require.NoError(t, b.ApplyStructuralChange(ctx, s, reconcile.CreateStatementFor(declared)))
}

// Seed creates the people structure on b and inserts PeopleRows.
func Seed(t *testing.T, b backend.Backend) *core.ModelSchema {
	t.Helper()
	s := testutil.PeopleSchema(t)
	Create(t, b, s)
	for i, row := range PeopleRows() {
		id, err := b.Insert(context.Background(), s, row)
		require.NoError(t, err)
		require.Equal(t, int64(i+1), id)
	}
	return s
}

// Select evaluates f the way a repository does: the native part on the
// backend, the residual in memory over its results.
func Select(t *testing.T, b backend.Backend, s *core.ModelSchema, f query.Filter, sorts ...query.Sort) []int64 {
	t.Helper()
	ctx := context.Background()
	native, residual := query.Split(f, b.CanFilter)
	req := backend.FetchRequest{Filter: native}
	if b.CanSort() {
		req.Sort = sorts
	}
	rows, err := b.Fetch(ctx, s, req)
	require.NoError(t, err)
	if !b.CanSort() {
		query.SortRows(rows, sorts, s.UniqueIdentifier)
	}

	ev := query.NewEvaluator(ctx)
	var ids []int64
	for _, row := range rows {
		if residual != nil {
			ok, err := ev.Match(residual, row)
			require.NoError(t, err)
			if !ok {
				continue
			}
		}
		id, ok := row.ID(s.UniqueIdentifier)
		require.True(t, ok)
		ids = append(ids, id)
	}
	return ids
}

type staticSubquery struct {
	values []any
}

func (q *staticSubquery) Values(context.Context, string) ([]any, error) { return q.values, nil }
func (q *staticSubquery) QueryFilter() query.Filter                    { return nil }

// Run executes the suite against backends produced by open.
func Run(t *testing.T, open Opener) {
	t.Run("Structure", func(t *testing.T) { testStructure(t, open(t)) })
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, open(t)) })
	t.Run("Filters", func(t *testing.T) { testFilters(t, open(t)) })
	t.Run("SortAndRange", func(t *testing.T) { testSortAndRange(t, open(t)) })
	t.Run("Aggregate", func(t *testing.T) { testAggregate(t, open(t)) })
	t.Run("Clear", func(t *testing.T) { testClear(t, open(t)) })
	t.Run("AddColumn", func(t *testing.T) { testAddColumn(t, open(t)) })
	t.Run("BulkUpdate", func(t *testing.T) { testBulkUpdate(t, open(t)) })
}

func closeAfter(t *testing.T, b backend.Backend) {
	t.Cleanup(func() { _ = b.Close() })
}

func testStructure(t *testing.T, b backend.Backend) {
	closeAfter(t, b)
	ctx := context.Background()
	s := testutil.PeopleSchema(t)

	live, err := b.CaptureLiveSchema(ctx, s)
	require.NoError(t, err)
	assert.Nil(t, live)

	Create(t, b, s)
	declared, err := b.DeclaredSchema(s)
	require.NoError(t, err)
	live, err = b.CaptureLiveSchema(ctx, s)
	require.NoError(t, err)
	require.NotNil(t, live)
	assert.True(t, reconcile.Equivalent(declared, live), "declared %+v\nlive %+v", declared, live)

	_, changed := reconcile.CreateAlterStatementFor(declared, live)
	assert.False(t, changed)
}

func testCRUD(t *testing.T, b backend.Backend) {
	closeAfter(t, b)
	ctx := context.Background()
	s := Seed(t, b)

	row, err := b.Hydrate(ctx, s, 1)
	require.NoError(t, err)
	want := PeopleRows()[0]
	want["id"] = int64(1)
	assert.Equal(t, want, row)

	row, err = b.Hydrate(ctx, s, 2)
	require.NoError(t, err)
	assert.Nil(t, row["Age"])
	assert.Nil(t, row["Meta"])
	assert.Equal(t, false, row["Active"])

	_, err = b.Hydrate(ctx, s, 10)
	var nf *core.RecordNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, int64(10), nf.ID)
	assert.Equal(t, s.Name, nf.Entity)

	require.NoError(t, b.Update(ctx, s, 2, core.Row{"Age": int64(52), "AddressCity": "Delhi"}))
	row, err = b.Hydrate(ctx, s, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(52), row["Age"])
	assert.Equal(t, "Delhi", row["AddressCity"])
	assert.Equal(t, "Bob", row["Name"])

	assert.ErrorIs(t, b.Update(ctx, s, 10, core.Row{"Name": "Zed"}), core.ErrRecordNotFound)

	require.NoError(t, b.Delete(ctx, s, 2))
	_, err = b.Hydrate(ctx, s, 2)
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
	assert.ErrorIs(t, b.Delete(ctx, s, 2), core.ErrRecordNotFound)

	id, err := b.Insert(ctx, s, PeopleRows()[1])
	require.NoError(t, err)
	assert.Equal(t, int64(4), id, "identifiers are not reused")
}

func testFilters(t *testing.T, b backend.Backend) {
	closeAfter(t, b)
	s := Seed(t, b)

	tests := []struct {
		name   string
		filter query.Filter
		want   []int64
	}{
		{"nil filter", nil, []int64{1, 2, 3}},
		{"list contains all", query.ListContains("Tags", 21, 31), []int64{2, 3}},
		{"list contains nothing", query.ListContains("Tags"), []int64{1, 2, 3}},
		{"and", query.And(query.GreaterThan("Age", 25), query.Equals("Status", "new")), []int64{1, 3}},
		{"or with null", query.Or(query.IsNull("Age"), query.Contains("Name", "an")), []int64{1, 2}},
		{"contains ignores case", query.Contains("Name", "AN"), []int64{1}},
		{"not skips null", query.Not(query.Equals("AddressCity", "Pune")), []int64{3}},
		{"json contains", query.JSONContains("Meta", "k", "w"), []int64{3}},
		{"one of", query.OneOf("Name", "Ann", "Cy"), []int64{1, 3}},
		{"one of empty", query.OneOf("Name"), nil},
		{"one of only nil", query.OneOf("Age", nil), nil},
		{"equals nil", query.Equals("Age", nil), []int64{2}},
		{"compare nil", query.GreaterThan("Age", nil), nil},
		{"less or equal", query.LessOrEqual("Balance", 10.5), []int64{1, 2}},
		{"boolean", query.Equals("Active", false), []int64{2}},
		{"empty or", query.Or(), nil},
		{"intersects", query.Intersects("id", &staticSubquery{values: []any{int64(1), int64(3), nil}}, "id"), []int64{1, 3}},
		{"intersects empty", query.Intersects("id", &staticSubquery{}, "id"), nil},
		{"mixed native and residual", query.And(query.JSONContains("Meta", "k", "v"), query.Equals("Active", true)), []int64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Select(t, b, s, tt.filter))
		})
	}
}

func testSortAndRange(t *testing.T, b backend.Backend) {
	closeAfter(t, b)
	ctx := context.Background()
	s := Seed(t, b)

	assert.Equal(t, []int64{3, 1, 2}, Select(t, b, s, nil, query.Desc("Age")), "NULL sorts last descending")
	assert.Equal(t, []int64{2, 1, 3}, Select(t, b, s, nil, query.Asc("Age")), "NULL sorts first ascending")
	assert.Equal(t, []int64{1, 3, 2}, Select(t, b, s, nil, query.Asc("Status")), "ties break on the identifier")

	if !b.CanSort() {
		return
	}
	rows, err := b.Fetch(ctx, s, backend.FetchRequest{Sort: []query.Sort{query.Desc("Name")}, Range: query.Range{Offset: 1, Limit: 1}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Bob", rows[0]["Name"])

	rows, err = b.Fetch(ctx, s, backend.FetchRequest{Range: query.Range{Offset: 2}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0]["id"])
}

func testAggregate(t *testing.T, b backend.Backend) {
	closeAfter(t, b)
	ctx := context.Background()
	s := Seed(t, b)

	aggs := []query.Aggregate{query.Sum("Age"), query.Count(""), query.Count("Age"), query.CountDistinct("Status"), query.Sum("Balance")}
	out, err := b.Aggregate(ctx, s, aggs, nil)
	require.NoError(t, err)
	require.Len(t, out, len(aggs))
	assert.Equal(t, 71.0, out[0])
	assert.Equal(t, int64(3), out[1])
	assert.Equal(t, int64(2), out[2])
	assert.Equal(t, int64(2), out[3])
	assert.InDelta(t, 110.49, out[4], 1e-9)

	f := query.Equals("Status", "old")
	if native, residual := query.Split(f, b.CanFilter); residual == nil {
		out, err = b.Aggregate(ctx, s, []query.Aggregate{query.Sum("Age"), query.Count("")}, native)
		require.NoError(t, err)
		assert.Equal(t, []any{0.0, int64(1)}, out, "SUM over only NULLs is zero")
	}
}

func testClear(t *testing.T, b backend.Backend) {
	closeAfter(t, b)
	ctx := context.Background()
	s := Seed(t, b)

	require.NoError(t, b.Clear(ctx, s))
	rows, err := b.Fetch(ctx, s, backend.FetchRequest{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	id, err := b.Insert(ctx, s, PeopleRows()[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func testAddColumn(t *testing.T, b backend.Backend) {
	closeAfter(t, b)
	ctx := context.Background()
	s := Seed(t, b)

	grown := s.Clone()
	require.NoError(t, grown.AddColumn(core.Column{Name: "Nick", Kind: core.KindString, Length: 20, Nullable: true}))
	require.NoError(t, grown.AddColumn(core.Column{Name: "Score", Kind: core.KindInteger}))
	require.NoError(t, grown.Freeze())

	declared, err := b.DeclaredSchema(grown)
	require.NoError(t, err)
	live, err := b.CaptureLiveSchema(ctx, grown)
	require.NoError(t, err)
	stmt, changed := reconcile.CreateAlterStatementFor(declared, live)
	require.True(t, changed)
	require.Len(t, stmt.Changes, 2)
	assert.Empty(t, stmt.Narrowing())
	require.NoError(t, b.ApplyStructuralChange(ctx, grown, stmt))

	live, err = b.CaptureLiveSchema(ctx, grown)
	require.NoError(t, err)
	_, changed = reconcile.CreateAlterStatementFor(declared, live)
	assert.False(t, changed)

	row, err := b.Hydrate(ctx, grown, 1)
	require.NoError(t, err)
	assert.Nil(t, row["Nick"])
	assert.Equal(t, int64(0), row["Score"])
	assert.Equal(t, "Ann", row["Name"])

	// The narrower schema still reads the wider structure.
	row, err = b.Hydrate(ctx, s, 1)
	require.NoError(t, err)
	assert.NotContains(t, row, "Nick")
}

func testBulkUpdate(t *testing.T, b backend.Backend) {
	closeAfter(t, b)
	ctx := context.Background()
	s := Seed(t, b)

	bu, ok := b.(backend.BulkUpdater)
	if !ok {
		t.Skip("backend has no bulk update")
	}
	f := query.Equals("Status", "new")
	require.True(t, b.CanFilter(f))
	n, err := bu.BulkUpdate(ctx, s, f, core.Row{"Active": false})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []int64{1, 2, 3}, Select(t, b, s, query.Equals("Active", false)))
}
