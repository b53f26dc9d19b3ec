package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserSchema(t *testing.T) *ModelSchema {
	t.Helper()
	s := NewModelSchema("users")
	require.NoError(t, s.AddColumn(Column{Name: "id", Kind: KindAutoIncrement, Unsigned: true}))
	require.NoError(t, s.AddColumn(Column{Name: "Name", Kind: KindString, Length: 60}))
	require.NoError(t, s.AddColumn(Column{Name: "Owner", Kind: KindForeignKey, References: "accounts", Nullable: true}))
	require.NoError(t, s.AddColumn(Column{Name: "Status", Kind: KindEnum, Values: []string{"new", "done"}, Default: "new"}))
	require.NoError(t, s.AddColumn(Column{
		Name:      "Address",
		Kind:      KindComposite,
		Composite: PrefixedComposite{Prefix: "Address"},
		Parts: []Column{
			{Name: "AddressCity", Kind: KindString, Length: 40, Nullable: true},
			{Name: "AddressZip", Kind: KindString, Length: 10, Nullable: true},
		},
	}))
	return s
}

func TestModelSchema_AutoIncrementBecomesIdentifier(t *testing.T) {
	s := newUserSchema(t)

	assert.Equal(t, "id", s.UniqueIdentifier)
	require.NoError(t, s.Validate())

	indexes := s.Indexes()
	require.Len(t, indexes, 2)
	assert.Equal(t, Index{Name: PrimaryIndexName, Kind: IndexPrimary, Columns: []string{"id"}}, indexes[0])
	assert.Equal(t, Index{Name: "Owner", Kind: IndexForeignKey, Columns: []string{"Owner"}}, indexes[1])
}

func TestModelSchema_AddColumnErrors(t *testing.T) {
	tests := []struct {
		name string
		col  Column
	}{
		{name: "duplicate", col: Column{Name: "Name", Kind: KindString}},
		{name: "second autoincrement", col: Column{Name: "other", Kind: KindAutoIncrement}},
		{name: "empty name", col: Column{Kind: KindString}},
		{name: "unknown kind", col: Column{Name: "x", Kind: "blob"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newUserSchema(t)
			err := s.AddColumn(tt.col)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSchema))
		})
	}
}

func TestModelSchema_IndexReferencesUnknownColumn(t *testing.T) {
	s := newUserSchema(t)
	err := s.AddIndex(Index{Name: "by_missing", Kind: IndexPlain, Columns: []string{"Missing"}})
	assert.ErrorIs(t, err, ErrSchema)

	require.NoError(t, s.AddIndex(Index{Name: "by_city", Kind: IndexPlain, Columns: []string{"AddressCity"}}))
}

func TestModelSchema_EnumWithoutDefault(t *testing.T) {
	s := NewModelSchema("tasks")
	require.NoError(t, s.AddColumn(Column{Name: "id", Kind: KindAutoIncrement}))
	require.NoError(t, s.AddColumn(Column{Name: "State", Kind: KindEnum, Values: []string{"a", "b"}}))

	err := s.Validate()
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "State", se.Column)
	assert.Contains(t, se.Message, "default")
}

func TestModelSchema_RequiresIdentifier(t *testing.T) {
	s := NewModelSchema("plain")
	require.NoError(t, s.AddColumn(Column{Name: "Name", Kind: KindString}))
	assert.ErrorIs(t, s.Validate(), ErrSchema)
}

func TestModelSchema_FreezeAndClone(t *testing.T) {
	s := newUserSchema(t)
	require.NoError(t, s.Freeze())

	err := s.AddColumn(Column{Name: "Town", Kind: KindString, Length: 60, Nullable: true})
	assert.ErrorIs(t, err, ErrSchemaFrozen)

	clone := s.Clone()
	assert.False(t, clone.Frozen())
	require.NoError(t, clone.AddColumn(Column{Name: "Town", Kind: KindString, Length: 60, Nullable: true}))
	require.NoError(t, clone.AlterColumn(Column{Name: "Name", Kind: KindString, Length: 120}))
	require.NoError(t, clone.Validate())

	orig, _ := s.Column("Name")
	assert.Equal(t, 60, orig.Length)
	_, ok := s.Column("Town")
	assert.False(t, ok)
}

func TestModelSchema_StorageColumns(t *testing.T) {
	s := newUserSchema(t)

	var names []string
	for _, c := range s.StorageColumns() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"id", "Name", "Owner", "Status", "AddressCity", "AddressZip"}, names)

	_, ok := s.StorageColumn("Address")
	assert.False(t, ok)
	c, ok := s.StorageColumn("AddressZip")
	require.True(t, ok)
	assert.Equal(t, 10, c.Length)
}

func TestModelSchema_Defaults(t *testing.T) {
	s := newUserSchema(t)
	d := s.Defaults()

	assert.Nil(t, d["id"])
	assert.Equal(t, "", d["Name"])
	assert.Nil(t, d["Owner"])
	assert.Equal(t, "new", d["Status"])
}

func TestPrefixedComposite_RoundTrip(t *testing.T) {
	codec := PrefixedComposite{Prefix: "Address"}

	parts, err := codec.Split(map[string]any{"City": "Pune", "Zip": "411001"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"AddressCity": "Pune", "AddressZip": "411001"}, parts)

	joined, err := codec.Join(map[string]any{"AddressCity": "Pune", "AddressZip": nil})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"City": "Pune"}, joined)

	empty, err := codec.Join(map[string]any{"AddressCity": nil})
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = codec.Split(42)
	assert.Error(t, err)
}

func TestRecordNotFoundError(t *testing.T) {
	var err error = &RecordNotFoundError{Entity: "users", ID: 10}

	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.EqualError(t, err, "users with id 10 not found")
	assert.False(t, IsRetryable(err))

	wrapped := WrapBackend("mysql", "hydrate", err)
	assert.Same(t, err, wrapped)

	be := WrapBackend("mysql", "insert", errors.New("connection reset"))
	var target *BackendError
	require.ErrorAs(t, be, &target)
	assert.Equal(t, "insert", target.Op)
	assert.False(t, IsRetryable(be))
}
