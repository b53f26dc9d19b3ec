package model

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/modelstore/internal/backend/memory"
	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/query"
	"github.com/rzpsarthak13/modelstore/internal/testutil"
)

// cents stores dollar amounts as integer cents.
type cents struct{}

func (cents) ToStorage(v any) (any, error) {
	f, ok := v.(float64)
	if !ok {
		return nil, fmt.Errorf("want float64, got %T", v)
	}
	return int64(math.Round(f * 100)), nil
}

func (cents) FromStorage(v any) (any, error) {
	n, ok := v.(int64)
	if !ok {
		return nil, fmt.Errorf("want int64, got %T", v)
	}
	return float64(n) / 100, nil
}

func TestEntityDefaults(t *testing.T) {
	repo := newPeople(t, memory.New(nil))
	e := repo.New()
	assert.True(t, e.IsNew())
	assert.Equal(t, StateNew, e.State())
	assert.Same(t, repo, e.Repository())

	status, err := e.Get("Status")
	require.NoError(t, err)
	assert.Equal(t, "new", status)
	name, err := e.Get("Name")
	require.NoError(t, err)
	assert.Equal(t, "", name)
	age, err := e.Get("Age")
	require.NoError(t, err)
	assert.Nil(t, age)
	assert.Empty(t, e.DirtyColumns())
}

func TestEntitySetRejections(t *testing.T) {
	repo := newPeople(t, memory.New(nil))
	e := repo.New()

	assert.ErrorIs(t, e.Set("Nope", 1), core.ErrSchema)
	assert.ErrorIs(t, e.Set("id", 5), core.ErrSchema)
	_, err := e.Get("AddressCity")
	assert.ErrorIs(t, err, core.ErrSchema, "parts are reached through their composite")
	assert.Empty(t, e.DirtyColumns())
}

func TestEntityTransform(t *testing.T) {
	ctx := context.Background()
	s := testutil.BuildSchema(t, "orders",
		core.Column{Name: "id", Kind: core.KindAutoIncrement, Unsigned: true},
		core.Column{Name: "Price", Kind: core.KindInteger, Transform: cents{}},
	)
	for _, o := range openers() {
		t.Run(o.name, func(t *testing.T) {
			b := o.open(t)
			t.Cleanup(func() { _ = b.Close() })
			repo, err := NewRepository(s, b)
			require.NoError(t, err)
			_, err = repo.CheckSchema(ctx, false)
			require.NoError(t, err)

			e := repo.New()
			require.NoError(t, e.Set("Price", 12.5))
			assert.ErrorIs(t, e.Set("Price", "free"), core.ErrSchema)
			require.NoError(t, e.Save(ctx))

			price, err := e.Get("Price")
			require.NoError(t, err)
			assert.Equal(t, 12.5, price)

			ids, err := repo.Collection().Filter(query.Equals("Price", 1250)).IDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int64{e.ID()}, ids, "filters see the stored form")

			repo.ClearObjectCache()
			got, err := repo.Hydrate(ctx, e.ID())
			require.NoError(t, err)
			price, err = got.Get("Price")
			require.NoError(t, err)
			assert.Equal(t, 12.5, price)
		})
	}
}

func TestEntityReload(t *testing.T) {
	ctx := context.Background()
	repo := newPeople(t, openSQLite(t))
	ann := create(t, repo, people()[0])

	require.NoError(t, ann.Set("Name", "Changed"))
	require.NoError(t, ann.Reload(ctx))
	name, err := ann.Get("Name")
	require.NoError(t, err)
	assert.Equal(t, "Ann", name)
	assert.Empty(t, ann.DirtyColumns())

	fresh := repo.New()
	require.NoError(t, fresh.Set("Name", "Tmp"))
	require.NoError(t, fresh.Reload(ctx))
	name, err = fresh.Get("Name")
	require.NoError(t, err)
	assert.Equal(t, "", name)
}

func TestEntityDelete(t *testing.T) {
	ctx := context.Background()
	repo := newPeople(t, memory.New(nil))
	ann := create(t, repo, people()[0])
	id := ann.ID()

	require.NoError(t, ann.Delete(ctx))
	assert.True(t, ann.IsDeleted())
	_, err := ann.Get("Name")
	assert.ErrorIs(t, err, core.ErrRecordDeleted)
	assert.ErrorIs(t, ann.Set("Name", "x"), core.ErrRecordDeleted)
	_, err = ann.Values()
	assert.ErrorIs(t, err, core.ErrRecordDeleted)
	assert.ErrorIs(t, ann.Save(ctx), core.ErrRecordDeleted)
	assert.ErrorIs(t, ann.Reload(ctx), core.ErrRecordDeleted)
	assert.ErrorIs(t, ann.Delete(ctx), core.ErrRecordDeleted)

	_, err = repo.Hydrate(ctx, id)
	assert.ErrorIs(t, err, core.ErrRecordNotFound)

	draft := repo.New()
	require.NoError(t, draft.Delete(ctx))
	assert.True(t, draft.IsDeleted())
}

func TestEntityBelongsToRepository(t *testing.T) {
	a := newPeople(t, memory.New(nil))
	b := newPeople(t, memory.New(nil))
	_, err := b.Save(context.Background(), a.New())
	assert.ErrorContains(t, err, "does not belong")
}

func TestDisplay(t *testing.T) {
	repo := newPeople(t, memory.New(nil))
	require.NoError(t, repo.SetDecorator("Balance", DecoratorFunc(func(_ *Entity, v any) string {
		return fmt.Sprintf("$%.2f", v)
	})))
	assert.ErrorIs(t, repo.SetDecorator("Nope", DecoratorFunc(nil)), core.ErrSchema)

	ann := create(t, repo, people()[0])
	got, err := ann.Display("Balance")
	require.NoError(t, err)
	assert.Equal(t, "$10.50", got)

	got, err = ann.Display("Name")
	require.NoError(t, err)
	assert.Equal(t, "Ann", got)

	bob := create(t, repo, people()[1])
	got, err = bob.Display("Age")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}
