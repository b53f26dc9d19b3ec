package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/modelstore/internal/core"
)

func testSchema(t *testing.T) *core.ModelSchema {
	t.Helper()
	s := core.NewModelSchema("people")
	cols := []core.Column{
		{Name: "id", Kind: core.KindAutoIncrement, Unsigned: true},
		{Name: "Name", Kind: core.KindString, Length: 60},
		{Name: "Active", Kind: core.KindBoolean},
		{Name: "Balance", Kind: core.KindDecimal, Precision: 10, Scale: 2},
		{Name: "Born", Kind: core.KindDate, Nullable: true},
		{Name: "Tags", Kind: core.KindList, Nullable: true},
		{Name: "Meta", Kind: core.KindJSON, Nullable: true},
		{Name: "Status", Kind: core.KindEnum, Values: []string{"new", "old"}, Default: "new"},
		{
			Name:      "Address",
			Kind:      core.KindComposite,
			Composite: core.PrefixedComposite{Prefix: "Address"},
			Parts: []core.Column{
				{Name: "AddressCity", Kind: core.KindString, Nullable: true},
				{Name: "AddressZip", Kind: core.KindString, Nullable: true},
			},
		},
	}
	for _, c := range cols {
		require.NoError(t, s.AddColumn(c))
	}
	require.NoError(t, s.Freeze())
	return s
}

func column(t *testing.T, s *core.ModelSchema, name string) core.Column {
	t.Helper()
	c, ok := s.StorageColumn(name)
	require.True(t, ok, name)
	return c
}

func TestTypeMapper_Normalize(t *testing.T) {
	s := testSchema(t)
	tm := NewTypeMapper()

	tests := []struct {
		name   string
		column string
		in     any
		want   any
	}{
		{"int widening", "id", 7, int64(7)},
		{"int from string", "id", "42", int64(42)},
		{"bool from int", "Active", int64(1), true},
		{"bool from string", "Active", "false", false},
		{"decimal rounds to scale", "Balance", 10.006, 10.01},
		{"decimal from bytes", "Balance", []byte("3.50"), 3.5},
		{"date truncates", "Born", time.Date(2020, 5, 6, 13, 14, 15, 0, time.UTC), time.Date(2020, 5, 6, 0, 0, 0, 0, time.UTC)},
		{"date from string", "Born", "2020-05-06", time.Date(2020, 5, 6, 0, 0, 0, 0, time.UTC)},
		{"list from ints", "Tags", []int{21, 24}, []string{"21", "24"}},
		{"list from csv", "Tags", "a,b", []string{"a", "b"}},
		{"json map", "Meta", map[string]int{"a": 1}, map[string]any{"a": float64(1)}},
		{"enum member", "Status", "old", "old"},
		{"nil", "Name", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tm.Normalize(column(t, s, tt.column), tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := tm.Normalize(column(t, s, "Status"), "bogus")
	assert.Error(t, err)
	_, err = tm.Normalize(column(t, s, "Tags"), []string{"a,b"})
	assert.Error(t, err)
	_, err = tm.Normalize(column(t, s, "Tags"), []any{"a,b"})
	assert.Error(t, err)
}

func TestTypeMapper_DriverRoundTrip(t *testing.T) {
	s := testSchema(t)
	tm := NewTypeMapper()

	values := map[string]any{
		"Active":  true,
		"Balance": 12.34,
		"Born":    time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC),
		"Tags":    []string{"x", "y"},
		"Meta":    map[string]any{"k": []any{"v"}},
		"Name":    "Ann",
	}
	for name, v := range values {
		col := column(t, s, name)
		arg, err := tm.ToDriver(col, v)
		require.NoError(t, err, name)
		back, err := tm.FromDriver(col, arg)
		require.NoError(t, err, name)
		assert.Equal(t, v, back, name)
	}

	arg, err := tm.ToDriver(column(t, s, "Active"), true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), arg)

	arg, err = tm.ToDriver(column(t, s, "Tags"), []string{"21", "24"})
	require.NoError(t, err)
	assert.Equal(t, "21,24", arg)
}

func TestFlattenAndAssemble(t *testing.T) {
	s := testSchema(t)
	tm := NewTypeMapper()

	flat, err := Flatten(s, tm, core.Row{
		"Name":    "Ann",
		"Address": map[string]any{"City": "Pune"},
	})
	require.NoError(t, err)
	assert.Equal(t, core.Row{"Name": "Ann", "AddressCity": "Pune", "AddressZip": nil}, flat)

	flat["id"] = int64(1)
	model, err := Assemble(s, flat)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"City": "Pune"}, model["Address"])
	assert.NotContains(t, model, "AddressCity")

	_, err = Flatten(s, tm, core.Row{"Address": map[string]any{"Country": "IN"}})
	assert.ErrorIs(t, err, core.ErrSchema)

	_, err = Flatten(s, tm, core.Row{"Nope": 1})
	assert.ErrorIs(t, err, core.ErrSchema)
}

func TestSchemaValidator(t *testing.T) {
	s := testSchema(t)
	sv := NewSchemaValidator(s, nil)

	failures := sv.ValidateRecord(core.Row{"Name": nil, "Active": "maybe", "Balance": 1.0, "Status": "new"})
	require.Len(t, failures, 2)
	assert.Equal(t, "Name", failures[0].Column)
	assert.Equal(t, "Active", failures[1].Column)

	assert.Empty(t, sv.ValidatePartialRecord(core.Row{"Born": nil}))
	assert.Len(t, sv.ValidatePartialRecord(core.Row{"id": int64(4)}), 1)
}

func TestTranslator_RoundTrip(t *testing.T) {
	s := testSchema(t)
	row := core.Row{
		"id":          int64(3),
		"Name":        "Ann",
		"Active":      true,
		"Balance":     2.5,
		"Born":        time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC),
		"Tags":        []string{"a"},
		"Meta":        map[string]any{"n": float64(1)},
		"Status":      "old",
		"AddressCity": nil,
		"AddressZip":  "411001",
	}

	for _, compress := range []bool{false, true} {
		tr := NewTranslator(compress)
		assert.Equal(t, "app:people:3", tr.Key("app", s, 3))

		data, err := tr.ToKV(s, row)
		require.NoError(t, err)
		back, err := tr.FromKV(s, data)
		require.NoError(t, err)
		assert.Equal(t, row, back)
	}
}
