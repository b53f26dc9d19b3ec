package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/modelstore/internal/backend"
	"github.com/rzpsarthak13/modelstore/internal/changefeed"
	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/model"
	"github.com/rzpsarthak13/modelstore/internal/query"
	"github.com/rzpsarthak13/modelstore/internal/reconcile"
	"github.com/rzpsarthak13/modelstore/internal/registry"
	"github.com/rzpsarthak13/modelstore/internal/testutil"
)

func accountsConfig(backendType string) *registry.Config {
	cfg := registry.DefaultConfig()
	cfg.Backend.Type = backendType
	cfg.Schemas = []registry.SchemaConfig{{
		Name: "accounts",
		Columns: []registry.ColumnConfig{
			{Name: "id", Kind: "autoincrement", Unsigned: true},
			{Name: "Owner", Kind: "string", Length: 40},
			{Name: "Balance", Kind: "decimal", Precision: 10, Scale: 2},
			{Name: "Home", Kind: "composite", Parts: []registry.ColumnConfig{
				{Name: "City", Kind: "string", Length: 40, Nullable: true},
			}},
		},
		Indexes: []registry.IndexConfig{{Name: "owner_idx", Columns: []string{"Owner"}}},
	}}
	return cfg
}

func newTestClient(t *testing.T, cfg *registry.Config) *ClientImpl {
	t.Helper()
	c, err := NewClientImpl(context.Background(), cfg, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClientImpl(t *testing.T) {
	c := newTestClient(t, accountsConfig("memory"))
	assert.Equal(t, "memory", c.Backend().Name())
	assert.Equal(t, []string{"accounts"}, c.Schemas().List())

	repo, err := c.Repository("accounts")
	require.NoError(t, err)
	_, ok := repo.Schema().Column("HomeCity")
	assert.True(t, ok, "composite parts carry the prefix")

	_, err = c.Repository("")
	assert.Error(t, err)
	_, err = c.Repository("missing")
	assert.ErrorContains(t, err, "not registered")
}

func TestNewClientImplRejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	_, err := NewClientImpl(ctx, nil, nil)
	assert.Error(t, err)

	_, err = NewClientImpl(ctx, accountsConfig("cassandra"), nil)
	assert.ErrorContains(t, err, "unsupported backend type")

	cfg := accountsConfig("memory")
	cfg.Schemas[0].Columns[1].Kind = "blob"
	_, err = NewClientImpl(ctx, cfg, nil)
	assert.ErrorContains(t, err, "unknown kind")
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, accountsConfig("sqlite"))

	plan, err := c.Reconcile(ctx, false, false)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.NotNil(t, plan[0].Statement)
	assert.True(t, plan[0].Statement.Create)
	assert.False(t, plan[0].Applied)
	assert.NotEmpty(t, plan[0].Rendered)

	meta, err := c.Schemas().GetMetadata("accounts")
	require.NoError(t, err)
	assert.Nil(t, meta.ReconciledAt, "a plan does not reconcile")

	applied, err := c.Reconcile(ctx, true, false)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.True(t, applied[0].Applied)

	meta, err = c.Schemas().GetMetadata("accounts")
	require.NoError(t, err)
	assert.NotNil(t, meta.ReconciledAt)
	assert.Same(t, applied[0].Statement, meta.LastStatement)

	again, err := c.Reconcile(ctx, true, false)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Nil(t, again[0].Statement)
	assert.False(t, again[0].Applied)
	assert.Empty(t, again[0].Rendered)
}

func TestReconcileRunsHooks(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, accountsConfig("memory"))

	veto := errors.New("maintenance window closed")
	c.Lifecycle().RegisterHook(registry.LifecycleHookFunc{
		BeforeApplyFunc: func(context.Context, *core.ModelSchema, *reconcile.Statement) error { return veto },
	})
	_, err := c.Reconcile(ctx, true, false)
	assert.ErrorIs(t, err, veto)
	meta, err := c.Schemas().GetMetadata("accounts")
	require.NoError(t, err)
	assert.Nil(t, meta.ReconciledAt)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, accountsConfig("memory"))

	repo, err := c.Register(testutil.PeopleSchema(t))
	require.NoError(t, err)
	_, err = repo.CheckSchema(ctx, false)
	require.NoError(t, err)

	got, err := c.Repository("people")
	require.NoError(t, err)
	assert.Same(t, repo, got)

	_, err = c.Register(testutil.BuildSchema(t, "people",
		core.Column{Name: "id", Kind: core.KindAutoIncrement}))
	assert.ErrorContains(t, err, "already registered")

	keyless := core.NewModelSchema("keyless")
	require.NoError(t, keyless.AddColumn(core.Column{Name: "Name", Kind: core.KindString, Length: 10}))
	_, err = c.Register(keyless)
	assert.ErrorIs(t, err, core.ErrSchema)
	_, err = c.Schemas().Get("keyless")
	assert.Error(t, err, "a rejected schema is not left registered")
}

func TestAlter(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, accountsConfig("sqlite"))
	_, err := c.Reconcile(ctx, true, false)
	require.NoError(t, err)
	before, err := c.Repository("accounts")
	require.NoError(t, err)

	repo, err := c.Alter("accounts", func(s *core.ModelSchema) error {
		return s.AlterColumn(core.Column{Name: "Owner", Kind: core.KindString, Length: 80})
	})
	require.NoError(t, err)
	assert.NotSame(t, before, repo)
	got, err := c.Repository("accounts")
	require.NoError(t, err)
	assert.Same(t, repo, got)

	plan, err := c.Reconcile(ctx, false, false)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.NotNil(t, plan[0].Statement)
	require.Len(t, plan[0].Statement.Changes, 1)
	assert.Equal(t, reconcile.ModifyColumn, plan[0].Statement.Changes[0].Kind)

	_, err = c.Alter("accounts", func(s *core.ModelSchema) error {
		return s.AlterColumn(core.Column{Name: "Missing", Kind: core.KindString})
	})
	assert.ErrorIs(t, err, core.ErrSchema)
	_, err = c.Alter("nope", func(*core.ModelSchema) error { return nil })
	assert.ErrorContains(t, err, "not registered")
}

func TestAlterLeavesSchemaOnRepositoryFailure(t *testing.T) {
	c := newTestClient(t, accountsConfig("memory"))
	before, err := c.Repository("accounts")
	require.NoError(t, err)
	registered, err := c.Schemas().Get("accounts")
	require.NoError(t, err)

	boom := errors.New("backend rejected schema")
	orig := buildRepository
	buildRepository = func(*core.ModelSchema, backend.Backend, ...model.Option) (*model.Repository, error) {
		return nil, boom
	}
	t.Cleanup(func() { buildRepository = orig })

	_, err = c.Alter("accounts", func(s *core.ModelSchema) error {
		return s.AlterColumn(core.Column{Name: "Owner", Kind: core.KindString, Length: 80})
	})
	assert.ErrorIs(t, err, boom)

	got, err := c.Schemas().Get("accounts")
	require.NoError(t, err)
	assert.Same(t, registered, got)
	repo, err := c.Repository("accounts")
	require.NoError(t, err)
	assert.Same(t, before, repo)
	assert.Same(t, registered, repo.Schema())
}

// recorder collects the events a dispatcher hands it.
type recorder struct {
	mu     sync.Mutex
	events []*changefeed.ChangeEvent
}

func (r *recorder) Handle(_ context.Context, event *changefeed.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) operations() []changefeed.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]changefeed.Operation, len(r.events))
	for i, e := range r.events {
		ops[i] = e.Operation
	}
	return ops
}

func TestChangeFeed(t *testing.T) {
	ctx := context.Background()
	cfg := accountsConfig("memory")
	cfg.ChangeFeed.Enabled = true
	cfg.ChangeFeed.DispatchRate = 1000
	c := newTestClient(t, cfg)

	_, err := c.Reconcile(ctx, true, false)
	require.NoError(t, err)
	repo, err := c.Repository("accounts")
	require.NoError(t, err)

	rec := &recorder{}
	require.NoError(t, c.Start(ctx, rec))
	require.NoError(t, c.Start(ctx, rec))
	assert.True(t, c.IsRunning())

	e := repo.New()
	require.NoError(t, e.Set("Owner", "Ann"))
	require.NoError(t, e.Set("Balance", 12.5))
	require.NoError(t, e.Save(ctx))
	require.NoError(t, e.Set("Balance", 20.0))
	require.NoError(t, e.Save(ctx))
	n, err := repo.Collection().Filter(query.Equals("Owner", "Ann")).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, e.Delete(ctx))

	want := []changefeed.Operation{changefeed.OperationInsert, changefeed.OperationUpdate, changefeed.OperationDelete}
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, rec.operations())
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Stop())
	assert.False(t, c.IsRunning())
	assert.Equal(t, int64(3), c.Dispatcher().Handled())
}

func TestStartWithoutChangeFeed(t *testing.T) {
	c := newTestClient(t, accountsConfig("memory"))
	err := c.Start(context.Background(), changefeed.HandlerFunc(func(context.Context, *changefeed.ChangeEvent) error { return nil }))
	assert.ErrorContains(t, err, "not enabled")
	assert.False(t, c.IsRunning())
	assert.NoError(t, c.Stop())
}

func TestClose(t *testing.T) {
	c, err := NewClientImpl(context.Background(), accountsConfig("memory"), nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Repository("accounts")
	assert.ErrorContains(t, err, "client is closed")
	_, err = c.Register(testutil.PeopleSchema(t))
	assert.ErrorContains(t, err, "client is closed")
}
