package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rzpsarthak13/modelstore/internal/backend"
	"github.com/rzpsarthak13/modelstore/internal/backend/sqlbase"
	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/query"
	"github.com/rzpsarthak13/modelstore/internal/reconcile"
	"github.com/rzpsarthak13/modelstore/internal/schema"
)

// Dialect is the SQLite flavour of sqlbase.Dialect. Live structure is read
// back from the statements SQLite keeps in sqlite_master, so column and
// index declarations compare in exactly the form they were issued.
type Dialect struct{}

var _ sqlbase.Dialect = Dialect{}

func (Dialect) Name() string { return Type }

// Quote quotes an identifier with double quotes.
func (Dialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// ColumnDeclaration renders c for CREATE TABLE and ADD COLUMN. Non-nullable
// columns always carry a default so they can be added to populated tables.
func (d Dialect) ColumnDeclaration(c core.Column) string {
	name := d.Quote(c.Name)
	if c.Kind == core.KindAutoIncrement {
		return name + " INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	var b strings.Builder
	b.WriteString(name)
	b.WriteString(" ")
	b.WriteString(columnType(c))
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if lit, ok := defaultLiteral(c); ok {
		b.WriteString(" DEFAULT ")
		b.WriteString(lit)
	}
	if c.Kind == core.KindEnum && len(c.Values) > 0 {
		quoted := make([]string, len(c.Values))
		for i, v := range c.Values {
			quoted[i] = backend.QuoteString(v)
		}
		fmt.Fprintf(&b, " CHECK (%s IN (%s))", name, strings.Join(quoted, ", "))
	}
	return b.String()
}

func columnType(c core.Column) string {
	var t string
	switch c.Kind {
	case core.KindInteger, core.KindForeignKey:
		t = "INTEGER"
		if c.Unsigned {
			t += " UNSIGNED"
		}
	case core.KindString:
		t = "VARCHAR(" + strconv.Itoa(backend.StringLength(c)) + ")"
	case core.KindEnum:
		t = "VARCHAR(255)"
	case core.KindText, core.KindList, core.KindJSON:
		t = "TEXT"
	case core.KindDecimal:
		p, s := backend.DecimalShape(c)
		t = fmt.Sprintf("DECIMAL(%d,%d)", p, s)
	case core.KindFloat:
		t = "DOUBLE"
	case core.KindBoolean:
		t = "BOOLEAN"
	case core.KindDate:
		t = "DATE"
	case core.KindDateTime:
		t = "DATETIME"
	case core.KindTime:
		t = "TIME"
	}
	return t
}

func defaultLiteral(c core.Column) (string, bool) {
	if c.Default != nil {
		lit, err := backend.DefaultLiteral(c)
		return lit, err == nil
	}
	if c.Nullable {
		return "", false
	}
	if c.Kind == core.KindJSON {
		return "'null'", true
	}
	zero, err := schema.NewTypeMapper().ToDriver(c, core.DefaultValue(c))
	if err != nil || zero == nil {
		return "", false
	}
	return backend.QuoteString(query.Stringify(zero)), true
}

// IndexStatement renders the CREATE INDEX statement for idx. The primary key
// is declared inline with the identifier column and has none.
func (d Dialect) IndexStatement(table string, idx core.Index) (string, bool) {
	if idx.Kind == core.IndexPrimary {
		return "", false
	}
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = d.Quote(c)
	}
	kind := "INDEX"
	if idx.Kind == core.IndexUnique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s %s ON %s (%s)", kind, d.Quote(table+"_"+idx.Name), d.Quote(table), strings.Join(cols, ", ")), true
}

func (d Dialect) DeclaredSchema(s *core.ModelSchema) *reconcile.ComparisonSchema {
	cs := &reconcile.ComparisonSchema{Table: s.Name}
	for _, c := range s.StorageColumns() {
		cs.Columns = append(cs.Columns, reconcile.ColumnDecl{Name: c.Name, Declaration: d.ColumnDeclaration(c)})
	}
	for _, idx := range s.Indexes() {
		if stmt, ok := d.IndexStatement(s.Name, idx); ok {
			cs.Indexes = append(cs.Indexes, stmt)
		}
	}
	return cs
}

// CaptureLiveSchema reads the table and index statements from sqlite_master.
func (d Dialect) CaptureLiveSchema(ctx context.Context, q sqlbase.Querier, s *core.ModelSchema) (*reconcile.ComparisonSchema, error) {
	var ddl string
	err := q.QueryRowContext(ctx, "SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", s.Name).Scan(&ddl)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read table definition of %q: %w", s.Name, err)
	}
	cs := ParseCreateTable(s.Name, ddl)

	rows, err := q.QueryContext(ctx, "SELECT sql FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL ORDER BY name", s.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to read indexes of %q: %w", s.Name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return nil, fmt.Errorf("failed to scan index of %q: %w", s.Name, err)
		}
		cs.Indexes = append(cs.Indexes, stmt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cs, nil
}

// ParseCreateTable splits the body of a CREATE TABLE statement into column
// definitions. Table constraints are kept as indexes.
func ParseCreateTable(table, ddl string) *reconcile.ComparisonSchema {
	cs := &reconcile.ComparisonSchema{Table: table}
	open := strings.IndexByte(ddl, '(')
	end := strings.LastIndexByte(ddl, ')')
	if open < 0 || end <= open {
		return cs
	}
	for _, def := range splitTopLevel(ddl[open+1 : end]) {
		def = strings.TrimSpace(def)
		switch {
		case def == "":
		case def[0] == '"':
			cs.Columns = append(cs.Columns, reconcile.ColumnDecl{Name: unquote(def), Declaration: def})
		default:
			cs.Indexes = append(cs.Indexes, def)
		}
	}
	return cs
}

func splitTopLevel(body string) []string {
	var out []string
	depth, start := 0, 0
	var quote byte
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			out = append(out, body[start:i])
			start = i + 1
		}
	}
	return append(out, body[start:])
}

func unquote(def string) string {
	var b strings.Builder
	for i := 1; i < len(def); i++ {
		if def[i] == '"' {
			if i+1 < len(def) && def[i+1] == '"' {
				b.WriteByte('"')
				i++
				continue
			}
			break
		}
		b.WriteByte(def[i])
	}
	return b.String()
}

// RenderStructuralChange renders stmt as SQLite statements. SQLite cannot
// change the definition of an existing column.
func (d Dialect) RenderStructuralChange(s *core.ModelSchema, stmt *reconcile.Statement) ([]string, error) {
	table := d.Quote(stmt.Table)
	var out []string
	if stmt.Create {
		var defs []string
		for _, c := range stmt.Changes {
			if c.Kind == reconcile.AddColumn {
				defs = append(defs, c.After)
			}
		}
		out = append(out, fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", ")))
	}
	for _, c := range stmt.Changes {
		switch c.Kind {
		case reconcile.AddColumn:
			if !stmt.Create {
				out = append(out, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, c.After))
			}
		case reconcile.AddIndex:
			out = append(out, c.After)
		case reconcile.ModifyColumn:
			return nil, &core.SchemaError{
				Schema:  s.Name,
				Column:  c.Column,
				Message: fmt.Sprintf("sqlite cannot modify column from %q to %q", c.Before, c.After),
			}
		}
	}
	return out, nil
}

func (Dialect) ListContains(column string) string {
	return "instr(',' || " + column + " || ',', ',' || ? || ',') > 0"
}

func (Dialect) Contains(column string) string {
	return "instr(LOWER(" + column + "), LOWER(?)) > 0"
}

// JSONContains is not supported; those filters are evaluated in process.
func (Dialect) JSONContains(string) (string, bool) { return "", false }

func (Dialect) JSONPath(path string) string {
	if path == "" {
		return "$"
	}
	return "$." + path
}

func (Dialect) Limit(r query.Range) string {
	if r.Limit > 0 {
		return fmt.Sprintf(" LIMIT %d OFFSET %d", r.Limit, r.Offset)
	}
	return fmt.Sprintf(" LIMIT -1 OFFSET %d", r.Offset)
}

func (Dialect) EmptyInsert(table string) string {
	return "INSERT INTO " + table + " DEFAULT VALUES"
}

func (d Dialect) ClearStatements(table string) []string {
	return []string{
		"DELETE FROM " + d.Quote(table),
		"DELETE FROM sqlite_sequence WHERE name = " + backend.QuoteString(table),
	}
}
