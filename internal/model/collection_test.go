package model

import (
	"context"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/modelstore/internal/backend/memory"
	"github.com/rzpsarthak13/modelstore/internal/changefeed"
	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/query"
	"github.com/rzpsarthak13/modelstore/internal/testutil"
)

func names(t *testing.T, c *Collection) []string {
	t.Helper()
	var out []string
	for e, err := range c.All(context.Background()) {
		require.NoError(t, err)
		v, err := e.Get("Name")
		require.NoError(t, err)
		out = append(out, v.(string))
	}
	return out
}

func TestListContains(t *testing.T) {
	for _, o := range openers() {
		t.Run(o.name, func(t *testing.T) {
			repo := newPeople(t, o.open(t))
			seed(t, repo)

			assert.Equal(t, []string{"Ann"}, names(t, repo.Collection().Filter(query.ListContains("Tags", 15))))
			assert.Equal(t, []string{"Bob", "Cy"}, names(t, repo.Collection().Filter(query.ListContains("Tags", 21, 31))))
			assert.Equal(t, []string{"Cy", "Dee"}, names(t, repo.Collection().Filter(query.ListContains("Tags", "7"))))
		})
	}
}

func TestSortAndRange(t *testing.T) {
	for _, o := range openers() {
		t.Run(o.name, func(t *testing.T) {
			ctx := context.Background()
			repo := newPeople(t, o.open(t))
			seed(t, repo)

			c := repo.Collection().
				Filter(query.Not(query.Equals("Name", "Bob"))).
				Sort(query.Desc("Balance")).
				SetRange(0, 2)
			ids, err := c.IDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int64{3, 1}, ids, "ties fall back to the identifier")

			ids, err = c.SetRange(2, 0).IDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int64{4}, ids)

			ids, err = repo.Collection().Sort(query.Asc("Age")).IDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int64{2, 4, 1, 3}, ids, "NULL sorts first")

			_, err = repo.Collection().Sort(query.Asc("Address")).IDs(ctx)
			assert.ErrorIs(t, err, core.ErrSchema)
		})
	}
}

func TestAllIsRestartable(t *testing.T) {
	ctx := context.Background()
	repo := newPeople(t, memory.New(nil))
	seed(t, repo)

	c := repo.Collection().Filter(query.Equals("Active", true))
	first := names(t, c)
	assert.Equal(t, first, names(t, c))

	create(t, repo, map[string]any{"Name": "Eve", "Active": true})
	assert.Equal(t, []string{"Ann", "Cy", "Eve"}, names(t, c), "each iteration evaluates again")

	var seen int
	for range c.All(ctx) {
		seen++
		break
	}
	assert.Equal(t, 1, seen)

	empty, err := repo.Collection().Filter(query.Equals("Name", "Zed")).First(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestCountAndAggregates(t *testing.T) {
	for _, o := range openers() {
		t.Run(o.name, func(t *testing.T) {
			ctx := context.Background()
			repo := newPeople(t, o.open(t))
			seed(t, repo)

			res, err := repo.Collection().CalculateAggregates(ctx,
				query.Sum("Balance"), query.Count(""), query.Count("Age"), query.CountDistinct("Status"))
			require.NoError(t, err)
			require.Len(t, res, 4)
			assert.InDelta(t, 120.99, res[0], 1e-9)
			assert.Equal(t, []any{int64(4), int64(3), int64(2)}, res[1:])

			n, err := repo.Collection().Filter(query.Equals("Active", true)).Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			n, err = repo.Collection().Filter(query.JSONContains("Meta", "k", "v")).Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			n, err = repo.Collection().SetRange(1, 2).Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			res, err = repo.Collection().Sort(query.Desc("Balance")).SetRange(0, 2).
				CalculateAggregates(ctx, query.Sum("Balance"))
			require.NoError(t, err)
			assert.InDelta(t, 110.49, res[0], 1e-9)

			direct, err := repo.CalculateAggregates(ctx, query.Equals("Status", "old"), []query.Aggregate{query.Sum("Age")})
			require.NoError(t, err)
			assert.InDelta(t, 25.0, direct[0], 1e-9)

			_, err = repo.CalculateAggregates(ctx, nil, []query.Aggregate{query.Sum("Nope")})
			assert.ErrorIs(t, err, core.ErrSchema)
		})
	}
}

func TestWasFilteredByRepository(t *testing.T) {
	ctx := context.Background()

	sql := newPeople(t, openSQLite(t))
	seed(t, sql)
	c := sql.Collection().Filter(query.Equals("Name", "Ann"))
	assert.False(t, c.WasFilteredByRepository(), "not evaluated yet")
	_, err := c.IDs(ctx)
	require.NoError(t, err)
	assert.True(t, c.WasFilteredByRepository())

	c.Filter(query.JSONContains("Meta", "k", "v"))
	ids, err := c.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
	assert.False(t, c.WasFilteredByRepository())

	mem := newPeople(t, memory.New(nil))
	seed(t, mem)
	mc := mem.Collection().Filter(query.Equals("Name", "Ann"))
	ids, err = mc.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
	assert.False(t, mc.WasFilteredByRepository())

	res, err := sql.FilterAndFetch(ctx, query.Equals("Active", true), []query.Sort{query.Desc("Age")}, query.Range{Limit: 1})
	require.NoError(t, err)
	assert.Nil(t, res.Residual)
	assert.True(t, res.Sorted)
	assert.True(t, res.Ranged)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "Cy", res.Rows[0]["Name"])

	res, err = mem.FilterAndFetch(ctx, query.Equals("Active", true), nil, query.Range{Limit: 1})
	require.NoError(t, err)
	assert.NotNil(t, res.Residual)
	assert.False(t, res.Ranged, "the range waits for the residual filter")
	assert.Len(t, res.Rows, 4)
}

func TestFilterRejectsUnknownColumn(t *testing.T) {
	repo := newPeople(t, memory.New(nil))
	_, err := repo.Collection().Filter(query.Equals("Address", "x")).IDs(context.Background())
	assert.ErrorIs(t, err, core.ErrSchema, "composite columns are filtered by their parts")
}

func TestIntersects(t *testing.T) {
	for _, o := range openers() {
		t.Run(o.name, func(t *testing.T) {
			ctx := context.Background()
			b := o.open(t)
			peopleRepo := newPeople(t, b)
			seed(t, peopleRepo)

			pets, err := NewRepository(testutil.PetsSchema(t), b)
			require.NoError(t, err)
			_, err = pets.CheckSchema(ctx, false)
			require.NoError(t, err)
			for i, owner := range []any{1, 2, 3, nil} {
				create(t, pets, map[string]any{"Name": []string{"Rex", "Tom", "Kit", "Stray"}[i], "Owner": owner})
			}

			active := peopleRepo.Collection().Filter(query.Equals("Active", true))
			got := names(t, pets.Collection().Filter(query.Intersects("Owner", active, "id")))
			assert.Equal(t, []string{"Rex", "Kit"}, got)

			got = names(t, pets.Collection().Filter(query.Not(query.Intersects("Owner", active, "id"))))
			assert.Equal(t, []string{"Tom"}, got)

			vals, err := active.Values(ctx, "Status")
			require.NoError(t, err)
			assert.Equal(t, []any{"new"}, vals)
		})
	}
}

func TestSubqueryCycle(t *testing.T) {
	repo := newPeople(t, memory.New(nil))
	c := repo.Collection()
	c.Filter(query.Intersects("id", c, "id"))
	_, err := c.IDs(context.Background())
	assert.ErrorContains(t, err, "cycle")

	other := repo.Collection()
	c.ReplaceFilter(query.Intersects("id", other, "id"))
	other.Filter(query.Intersects("id", c, "id"))
	_, err = c.Count(context.Background())
	assert.ErrorContains(t, err, "cycle")
}

func TestBatchUpdateUnfilteredWithoutBulkPath(t *testing.T) {
	ctx := context.Background()
	repo := newPeople(t, memory.New(nil))
	for _, n := range []string{"a", "b", "c"} {
		create(t, repo, map[string]any{"Name": n, "Active": true})
	}

	_, err := repo.Collection().BatchUpdate(ctx, map[string]any{"Name": "d"})
	require.ErrorIs(t, err, core.ErrBatchUpdateNotPossible)

	repo.ClearObjectCache()
	assert.Equal(t, []string{"a", "b", "c"}, names(t, repo.Collection()))
}

func TestBatchUpdatePerEntity(t *testing.T) {
	ctx := context.Background()
	repo := newPeople(t, memory.New(nil))
	seed(t, repo)

	n, err := repo.Collection().Filter(query.Equals("Active", true)).BatchUpdate(ctx, map[string]any{"Name": "d"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"d", "Bob", "d", "Dee"}, names(t, repo.Collection()))

	n, err = repo.Collection().SetRange(0, 1).BatchUpdate(ctx, map[string]any{"Status": "old"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "a range bounds the update")

	_, err = repo.Collection().Filter(query.Equals("Active", true)).BatchUpdate(ctx, map[string]any{"id": 9})
	assert.ErrorIs(t, err, core.ErrSchema)
	_, err = repo.Collection().Filter(query.Equals("Active", true)).BatchUpdate(ctx, map[string]any{"Name": nil})
	assert.ErrorIs(t, err, core.ErrConsistencyValidation)
}

func TestBatchUpdateNative(t *testing.T) {
	ctx := context.Background()
	q := changefeed.NewMemoryQueue(10)
	repo := newPeople(t, openSQLite(t))
	entities := seed(t, repo)
	repo.feed = q

	require.NoError(t, entities[2].Set("Age", 42))

	n, err := repo.Collection().BatchUpdate(ctx, map[string]any{"Address": map[string]any{"City": "Delhi"}})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	city, err := entities[0].Get("Address")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"City": "Delhi"}, city, "cached clean entities see the update")
	assert.True(t, entities[2].IsDirty("Age"), "dirty entities keep their edits")

	ids, err := repo.Collection().Filter(query.Equals("AddressCity", "Delhi")).IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)
	ids, err = repo.Collection().Filter(query.IsNull("AddressZip")).IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)

	events, err := q.Consume(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, changefeed.OperationBulkUpdate, events[0].Operation)
}

// The rows a collection yields must not depend on how much of the query the
// backend evaluates natively.
func TestCollectionsAgreeAcrossBackends(t *testing.T) {
	leaves := []query.Filter{
		query.Equals("Name", "Ann"),
		query.Equals("Age", nil),
		query.GreaterThan("Age", 26),
		query.LessOrEqual("Balance", 10.5),
		query.OneOf("Status", "old"),
		query.Contains("Name", "e"),
		query.IsNull("AddressCity"),
		query.ListContains("Tags", 21),
		query.ListContains("Tags", 21, 31),
		query.Equals("Active", true),
		query.JSONContains("Meta", "k", "v"),
		query.GreaterThan("Age", "9"),
		query.Equals("Balance", "10.50"),
		query.Equals("Tags", "21,31"),
		query.Contains("Tags", "31,7"),
		query.LessThan("Age", "old"),
	}
	sortable := []string{"Name", "Age", "Balance", "Status", "AddressCity"}

	mem := newPeople(t, memory.New(nil))
	sql := newPeople(t, openSQLite(t))
	seed(t, mem)
	seed(t, sql)

	build := func(picks []int, ops []int) query.Filter {
		f := leaves[picks[0]]
		for i, op := range ops {
			next := leaves[picks[i+1]]
			switch op {
			case 0:
				f = query.And(f, next)
			case 1:
				f = query.Or(f, next)
			default:
				f = query.And(query.Not(f), next)
			}
		}
		return f
	}
	run := func(repo *Repository, f query.Filter, sort query.Sort, offset, limit int) []int64 {
		ids, err := repo.Collection().Filter(f).Sort(sort).SetRange(offset, limit).IDs(context.Background())
		require.NoError(t, err)
		return ids
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("memory and sqlite collections yield the same entities", prop.ForAll(
		func(picks []int, ops []int, sortPick int, desc bool, offset, limit int) bool {
			f := build(picks, ops)
			sort := query.Sort{Column: sortable[sortPick], Descending: desc}
			return slices.Equal(run(mem, f, sort, offset, limit), run(sql, f, sort, offset, limit))
		},
		gen.SliceOfN(3, gen.IntRange(0, len(leaves)-1)),
		gen.SliceOfN(2, gen.IntRange(0, 2)),
		gen.IntRange(0, len(sortable)-1),
		gen.Bool(),
		gen.IntRange(0, 3),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}

func TestNonCanonicalOperandsAgreeAcrossBackends(t *testing.T) {
	ctx := context.Background()
	visits := testutil.BuildSchema(t, "visits",
		core.Column{Name: "id", Kind: core.KindAutoIncrement, Unsigned: true},
		core.Column{Name: "On", Kind: core.KindDate},
		core.Column{Name: "At", Kind: core.KindDateTime, Nullable: true},
	)

	tests := []struct {
		name   string
		people bool
		f      query.Filter
		want   []int64
	}{
		{"integer as string", true, query.GreaterThan("Age", "9"), []int64{1, 3, 4}},
		{"decimal as string", true, query.Equals("Balance", "10.50"), []int64{1, 4}},
		{"list as joined string", true, query.Equals("Tags", "21,31"), []int64{2}},
		{"substring across list members", true, query.Contains("Tags", "4,1"), []int64{1}},
		{"one of with strings", true, query.OneOf("Age", "25", "41"), []int64{3, 4}},
		{"unparsable operand", true, query.Equals("Age", "old"), []int64{}},
		{"negated unparsable skips null", true, query.Not(query.Equals("Age", "old")), []int64{1, 3, 4}},
		{"date as string", false, query.Equals("On", "2024-01-02"), []int64{1}},
		{"datetime as string", false, query.GreaterThan("At", "2024-01-01T12:00:00Z"), []int64{2}},
	}
	for _, o := range openers() {
		t.Run(o.name, func(t *testing.T) {
			peopleRepo := newPeople(t, o.open(t))
			seed(t, peopleRepo)

			b := o.open(t)
			t.Cleanup(func() { _ = b.Close() })
			visitRepo, err := NewRepository(visits, b, WithLogger(testutil.NewTestLogger(t)))
			require.NoError(t, err)
			_, err = visitRepo.CheckSchema(ctx, false)
			require.NoError(t, err)
			create(t, visitRepo, map[string]any{"On": "2024-01-02", "At": "2024-01-01 09:30:00"})
			create(t, visitRepo, map[string]any{"On": "2024-01-03", "At": "2024-01-02 18:00:00"})
			create(t, visitRepo, map[string]any{"On": "2024-01-04"})

			for _, tt := range tests {
				repo := visitRepo
				if tt.people {
					repo = peopleRepo
				}
				ids, err := repo.Collection().Filter(tt.f).IDs(ctx)
				require.NoError(t, err, tt.name)
				assert.Equal(t, tt.want, ids, tt.name)

				n, err := repo.Collection().Filter(tt.f).Count(ctx)
				require.NoError(t, err, tt.name)
				assert.Equal(t, int64(len(tt.want)), n, tt.name)
			}
		})
	}
}
