// Package reconcile diffs a declared table structure against the structure
// captured from a live backend and produces the statement that closes the gap.
package reconcile

import (
	"fmt"
	"strings"
)

// ColumnDecl is a column name with its literal backend declaration.
type ColumnDecl struct {
	Name        string `json:"name"`
	Declaration string `json:"declaration"`
}

// ComparisonSchema is a structural snapshot of a table: ordered column
// declarations and index declarations, as the backend itself would print them.
type ComparisonSchema struct {
	Table   string       `json:"table"`
	Columns []ColumnDecl `json:"columns"`
	Indexes []string     `json:"indexes"`
}

// Column returns the declaration of the named column.
func (c *ComparisonSchema) Column(name string) (string, bool) {
	for _, col := range c.Columns {
		if col.Name == name {
			return col.Declaration, true
		}
	}
	return "", false
}

// Clone returns a deep copy.
func (c *ComparisonSchema) Clone() *ComparisonSchema {
	if c == nil {
		return nil
	}
	return &ComparisonSchema{
		Table:   c.Table,
		Columns: append([]ColumnDecl(nil), c.Columns...),
		Indexes: append([]string(nil), c.Indexes...),
	}
}

// Equivalent reports whether a and b hold the same set of (column, declaration)
// pairs and the same set of index declarations, ignoring order.
func Equivalent(a, b *ComparisonSchema) bool {
	return sameSet(columnKeys(a), columnKeys(b)) && sameSet(indexKeys(a), indexKeys(b))
}

func columnKeys(c *ComparisonSchema) map[string]struct{} {
	out := make(map[string]struct{})
	if c == nil {
		return out
	}
	for _, col := range c.Columns {
		out[col.Name+"\x00"+col.Declaration] = struct{}{}
	}
	return out
}

func indexKeys(c *ComparisonSchema) map[string]struct{} {
	out := make(map[string]struct{})
	if c == nil {
		return out
	}
	for _, idx := range c.Indexes {
		out[idx] = struct{}{}
	}
	return out
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// ChangeKind classifies a structural change.
type ChangeKind string

const (
	AddColumn    ChangeKind = "add_column"
	ModifyColumn ChangeKind = "modify_column"
	AddIndex     ChangeKind = "add_index"
)

// Change is one structural delta. Before is empty for additions.
type Change struct {
	Kind   ChangeKind
	Column string
	Before string
	After  string
}

func (c Change) String() string {
	switch c.Kind {
	case AddColumn:
		return "ADD COLUMN " + c.After
	case ModifyColumn:
		return "MODIFY COLUMN " + c.After
	case AddIndex:
		return "ADD " + c.After
	}
	return string(c.Kind)
}

// Statement is a single structural change to one table. Create is set when
// the table does not exist yet, in which case Changes lists its full structure.
type Statement struct {
	Table   string
	Create  bool
	Changes []Change
}

// Narrowing returns the column modifications that can lose data.
func (s *Statement) Narrowing() []Change {
	var out []Change
	for _, c := range s.Changes {
		if c.Kind == ModifyColumn && Narrowing(c.Before, c.After) {
			out = append(out, c)
		}
	}
	return out
}

// String renders the statement in MySQL syntax for reporting.
func (s *Statement) String() string {
	if s.Create {
		parts := make([]string, 0, len(s.Changes))
		for _, c := range s.Changes {
			parts = append(parts, "  "+c.After)
		}
		return fmt.Sprintf("CREATE TABLE `%s` (\n%s\n)", s.Table, strings.Join(parts, ",\n"))
	}
	parts := make([]string, len(s.Changes))
	for i, c := range s.Changes {
		parts[i] = c.String()
	}
	return fmt.Sprintf("ALTER TABLE `%s` %s", s.Table, strings.Join(parts, ", "))
}

// Diff lists the changes that bring live up to declared: added and modified
// columns in declared order, then missing indexes. Live-only columns and
// indexes are never dropped.
func Diff(declared, live *ComparisonSchema) []Change {
	var changes []Change
	liveCols := make(map[string]string)
	if live != nil {
		for _, c := range live.Columns {
			liveCols[c.Name] = c.Declaration
		}
	}
	for _, c := range declared.Columns {
		before, exists := liveCols[c.Name]
		switch {
		case !exists:
			changes = append(changes, Change{Kind: AddColumn, Column: c.Name, After: c.Declaration})
		case before != c.Declaration:
			changes = append(changes, Change{Kind: ModifyColumn, Column: c.Name, Before: before, After: c.Declaration})
		}
	}
	liveIdx := indexKeys(live)
	for _, idx := range declared.Indexes {
		if _, ok := liveIdx[idx]; !ok {
			changes = append(changes, Change{Kind: AddIndex, After: idx})
		}
	}
	return changes
}

// CreateAlterStatementFor returns the statement altering live into declared,
// or false when no change is needed.
func CreateAlterStatementFor(declared, live *ComparisonSchema) (*Statement, bool) {
	changes := Diff(declared, live)
	if len(changes) == 0 {
		return nil, false
	}
	return &Statement{Table: declared.Table, Changes: changes}, true
}

// CreateStatementFor returns the statement creating declared from nothing.
func CreateStatementFor(declared *ComparisonSchema) *Statement {
	return &Statement{Table: declared.Table, Create: true, Changes: Diff(declared, nil)}
}

// Apply returns live with stmt applied, as a backend without native DDL
// records its structure.
func Apply(live *ComparisonSchema, stmt *Statement) *ComparisonSchema {
	out := live.Clone()
	if out == nil || stmt.Create {
		out = &ComparisonSchema{Table: stmt.Table}
	}
	for _, c := range stmt.Changes {
		switch c.Kind {
		case AddColumn:
			out.Columns = append(out.Columns, ColumnDecl{Name: c.Column, Declaration: c.After})
		case ModifyColumn:
			for i := range out.Columns {
				if out.Columns[i].Name == c.Column {
					out.Columns[i].Declaration = c.After
				}
			}
		case AddIndex:
			out.Indexes = append(out.Indexes, c.After)
		}
	}
	return out
}
