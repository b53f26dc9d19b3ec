package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/reconcile"
)

type stubValidator struct {
	kind string
	err  error
}

func (v stubValidator) Validate(*Config) error { return v.err }
func (v stubValidator) Type() string           { return v.kind }

func init() {
	RegisterValidator(stubValidator{kind: "memory"})
	RegisterValidator(stubValidator{kind: "broken", err: errors.New("missing dsn")})
}

const peopleYAML = `
backend:
  type: memory
  sticky_window: 500ms
changefeed:
  enabled: true
  type: memory
  dispatch_rate: 20
schemas:
  - name: people
    columns:
      - {name: id, kind: autoincrement, unsigned: true}
      - {name: Name, kind: string, length: 60}
      - {name: Status, kind: enum, values: [new, old], default: new}
      - name: Address
        kind: composite
        parts:
          - {name: City, kind: string, nullable: true}
          - {name: Zip, kind: string, nullable: true}
    indexes:
      - {name: by_name, kind: unique, columns: [Name]}
`

func TestConfigManager_LoadFromYAML(t *testing.T) {
	cm := NewConfigManager()
	require.NoError(t, cm.LoadFromYAML([]byte(peopleYAML)))

	cfg := cm.GetConfig()
	assert.Equal(t, "memory", cfg.Backend.Type)
	assert.Equal(t, 500*time.Millisecond, cfg.Backend.StickyWindow)
	assert.True(t, cfg.ChangeFeed.Enabled)
	assert.Equal(t, 20, cfg.ChangeFeed.DispatchRate)
	assert.Equal(t, 50, cfg.ChangeFeed.BatchSize, "defaults survive partial documents")

	schemas, err := cm.Schemas()
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	s := schemas[0]
	assert.Equal(t, "id", s.UniqueIdentifier)
	_, ok := s.StorageColumn("AddressCity")
	assert.True(t, ok)
	require.Len(t, s.Indexes(), 2)
	assert.Equal(t, core.IndexUnique, s.Indexes()[1].Kind)
}

func TestConfigManager_Validation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown backend", "backend: {type: oracle}", "unsupported backend type"},
		{"backend strategy error", "backend: {type: broken}", "missing dsn"},
		{"bad changefeed", "changefeed: {enabled: true, type: nats}", "changefeed.type"},
		{"kafka without topic", "changefeed: {enabled: true, type: kafka, kafka: {brokers: [b:9092], topic: ''}}", "topic"},
		{"schema without identifier", "schemas: [{name: t, columns: [{name: a, kind: string}]}]", "schema"},
		{"duplicate schema", "schemas: [{name: t, columns: [{name: id, kind: autoincrement}]}, {name: t, columns: [{name: id, kind: autoincrement}]}]", "more than once"},
		{"unknown kind", "schemas: [{name: t, columns: [{name: id, kind: uuid}]}]", "unknown kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm := NewConfigManager()
			err := cm.LoadFromYAML([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, "memory", cm.GetConfig().Backend.Type, "failed loads keep the previous config")
		})
	}
}

func TestConfigManager_LoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"backend":{"type":"memory"}}`), 0o600))

	cm := NewConfigManager()
	require.NoError(t, cm.LoadFromFile(path))

	t.Setenv("MODELSTORE_BACKEND_STICKY_WINDOW", "3s")
	t.Setenv("MODELSTORE_KV_NAMESPACE", "tenant1")
	t.Setenv("MODELSTORE_REDIS_ENDPOINTS", "a:1,b:2")
	require.NoError(t, cm.LoadFromEnv())
	cfg := cm.GetConfig()
	assert.Equal(t, 3*time.Second, cfg.Backend.StickyWindow)
	assert.Equal(t, "tenant1", cfg.Backend.KV.Namespace)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Backend.KV.Redis.Endpoints)

	assert.Error(t, cm.LoadFromFile(filepath.Join(dir, "store.toml")))
}

func TestSchemaRegistry(t *testing.T) {
	sr := NewSchemaRegistry()
	s := core.NewModelSchema("people")
	require.NoError(t, s.AddColumn(core.Column{Name: "id", Kind: core.KindAutoIncrement}))

	require.NoError(t, sr.Register(s))
	assert.True(t, s.Frozen())
	require.NoError(t, sr.Register(s), "re-registering the same schema is a no-op")

	other := core.NewModelSchema("people")
	require.NoError(t, other.AddColumn(core.Column{Name: "id", Kind: core.KindAutoIncrement}))
	assert.Error(t, sr.Register(other))

	got, err := sr.Get("people")
	require.NoError(t, err)
	assert.Same(t, s, got)

	stmt := &reconcile.Statement{Table: "people", Create: true}
	require.NoError(t, sr.MarkReconciled("people", stmt))
	md, err := sr.GetMetadata("people")
	require.NoError(t, err)
	require.NotNil(t, md.ReconciledAt)
	assert.Same(t, stmt, md.LastStatement)

	assert.Equal(t, []string{"people"}, sr.List())
	require.NoError(t, sr.Unregister("people"))
	_, err = sr.Get("people")
	assert.Error(t, err)
}

func TestSchemaRegistry_Alter(t *testing.T) {
	sr := NewSchemaRegistry()
	s := core.NewModelSchema("people")
	require.NoError(t, s.AddColumn(core.Column{Name: "id", Kind: core.KindAutoIncrement}))
	require.NoError(t, s.AddColumn(core.Column{Name: "Name", Kind: core.KindString, Length: 20}))
	require.NoError(t, sr.Register(s))
	require.NoError(t, sr.MarkReconciled("people", nil))

	altered, err := sr.Alter("people", func(m *core.ModelSchema) error {
		if err := m.AlterColumn(core.Column{Name: "Name", Kind: core.KindString, Length: 80}); err != nil {
			return err
		}
		return m.AddColumn(core.Column{Name: "Town", Kind: core.KindString, Length: 40, Nullable: true})
	})
	require.NoError(t, err)
	assert.True(t, altered.Frozen())
	col, _ := altered.Column("Name")
	assert.Equal(t, 80, col.Length)
	col, _ = s.Column("Name")
	assert.Equal(t, 20, col.Length, "the registered original is not mutated")

	md, err := sr.GetMetadata("people")
	require.NoError(t, err)
	assert.Same(t, altered, md.Schema)
	assert.Nil(t, md.ReconciledAt)

	_, err = sr.Alter("people", func(m *core.ModelSchema) error {
		return m.AddColumn(core.Column{Name: "Kind", Kind: core.KindEnum, Values: []string{"a"}})
	})
	assert.ErrorIs(t, err, core.ErrSchema, "an enum without a default fails validation")
	got, err := sr.Get("people")
	require.NoError(t, err)
	assert.Same(t, altered, got)

	_, err = sr.Alter("pets", func(*core.ModelSchema) error { return nil })
	assert.Error(t, err)
}

func TestSchemaRegistry_DeriveAndSwap(t *testing.T) {
	sr := NewSchemaRegistry()
	s := core.NewModelSchema("people")
	require.NoError(t, s.AddColumn(core.Column{Name: "id", Kind: core.KindAutoIncrement}))
	require.NoError(t, sr.Register(s))

	widen := func(m *core.ModelSchema) error {
		return m.AddColumn(core.Column{Name: "Town", Kind: core.KindString, Length: 40, Nullable: true})
	}
	derived, err := Derive(s, widen)
	require.NoError(t, err)
	assert.True(t, derived.Frozen())
	got, err := sr.Get("people")
	require.NoError(t, err)
	assert.Same(t, s, got, "deriving does not register")

	_, err = Derive(s, func(m *core.ModelSchema) error {
		m.Name = "persons"
		return nil
	})
	assert.ErrorIs(t, err, core.ErrSchema)

	require.NoError(t, sr.Swap(s, derived))
	got, err = sr.Get("people")
	require.NoError(t, err)
	assert.Same(t, derived, got)

	stale, err := Derive(s, widen)
	require.NoError(t, err)
	assert.ErrorContains(t, sr.Swap(s, stale), "altered concurrently")
	got, err = sr.Get("people")
	require.NoError(t, err)
	assert.Same(t, derived, got)
}

func TestLifecycleManager(t *testing.T) {
	lm := NewLifecycleManager()
	var calls []string
	lm.RegisterHook(LifecycleHookFunc{
		BeforeApplyFunc: func(context.Context, *core.ModelSchema, *reconcile.Statement) error {
			calls = append(calls, "before")
			return nil
		},
	})
	lm.RegisterHook(LifecycleHookFunc{
		BeforeApplyFunc: func(context.Context, *core.ModelSchema, *reconcile.Statement) error {
			return errors.New("frozen window")
		},
		AfterApplyFunc: func(context.Context, *core.ModelSchema, *reconcile.Statement) error {
			calls = append(calls, "after")
			return nil
		},
	})

	ctx := context.Background()
	assert.EqualError(t, lm.ExecuteBeforeApply(ctx, nil, nil), "frozen window")
	require.NoError(t, lm.ExecuteAfterApply(ctx, nil, nil))
	assert.Equal(t, []string{"before", "after"}, calls)
	assert.Equal(t, 2, lm.HookCount())
}

func TestConfigManager_Load(t *testing.T) {
	cm := NewConfigManager()
	assert.Error(t, cm.Load(nil))

	cfg := DefaultConfig()
	cfg.Backend.StickyWindow = -time.Second
	assert.ErrorContains(t, cm.Load(cfg), "sticky_window")
	assert.Equal(t, 2*time.Second, cm.GetConfig().Backend.StickyWindow)

	cfg.Backend.StickyWindow = time.Second
	require.NoError(t, cm.Load(cfg))
	assert.Same(t, cfg, cm.GetConfig())
}
