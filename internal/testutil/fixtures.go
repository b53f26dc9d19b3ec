package testutil

import (
	"testing"

	"github.com/rzpsarthak13/modelstore/internal/core"
)

// PeopleColumns is the column set of the people fixture.
func PeopleColumns() []core.Column {
	return []core.Column{
		{Name: "id", Kind: core.KindAutoIncrement, Unsigned: true},
		{Name: "Name", Kind: core.KindString, Length: 60},
		{Name: "Active", Kind: core.KindBoolean},
		{Name: "Age", Kind: core.KindInteger, Nullable: true},
		{Name: "Balance", Kind: core.KindDecimal, Precision: 10, Scale: 2},
		{Name: "Tags", Kind: core.KindList, Nullable: true},
		{Name: "Meta", Kind: core.KindJSON, Nullable: true},
		{Name: "Status", Kind: core.KindEnum, Values: []string{"new", "old"}, Default: "new"},
		{
			Name:      "Address",
			Kind:      core.KindComposite,
			Composite: core.PrefixedComposite{Prefix: "Address"},
			Parts: []core.Column{
				{Name: "AddressCity", Kind: core.KindString, Length: 60, Nullable: true},
				{Name: "AddressZip", Kind: core.KindString, Length: 10, Nullable: true},
			},
		},
	}
}

// PeopleSchema returns a frozen schema exercising every common column kind
// plus a composite.
func PeopleSchema(t testing.TB) *core.ModelSchema {
	t.Helper()
	return BuildSchema(t, "people", PeopleColumns()...)
}

// PetsSchema returns a frozen schema with a foreign key to people.
func PetsSchema(t testing.TB) *core.ModelSchema {
	t.Helper()
	return BuildSchema(t, "pets",
		core.Column{Name: "id", Kind: core.KindAutoIncrement, Unsigned: true},
		core.Column{Name: "Name", Kind: core.KindString, Length: 40},
		core.Column{Name: "Owner", Kind: core.KindForeignKey, References: "people", Unsigned: true, Nullable: true},
	)
}

// BuildSchema builds and freezes a schema from columns, failing the test on error.
func BuildSchema(t testing.TB, name string, cols ...core.Column) *core.ModelSchema {
	t.Helper()
	s := core.NewModelSchema(name)
	for _, c := range cols {
		if err := s.AddColumn(c); err != nil {
			t.Fatalf("add column %q: %v", c.Name, err)
		}
	}
	if err := s.Freeze(); err != nil {
		t.Fatalf("freeze %q: %v", name, err)
	}
	return s
}
