package backend

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/query"
	"github.com/rzpsarthak13/modelstore/internal/reconcile"
	"github.com/rzpsarthak13/modelstore/internal/schema"
)

// Column declarations use MySQL column syntax as printed by SHOW CREATE
// TABLE. Backends without DDL of their own record these declarations so the
// reconciler and narrowing checks work the same everywhere.

// BinaryCollation is declared on every character column so MySQL compares,
// groups and orders strings by code point, as the other backends do.
const BinaryCollation = "utf8mb4_bin"

// QuoteBacktick quotes an identifier with backticks.
func QuoteBacktick(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ColumnType returns the type portion of a column declaration.
func ColumnType(c core.Column) string {
	var t string
	switch c.Kind {
	case core.KindAutoIncrement, core.KindInteger, core.KindForeignKey:
		t = "int"
	case core.KindString:
		t = fmt.Sprintf("varchar(%d)", StringLength(c))
	case core.KindText, core.KindList:
		t = "text"
	case core.KindDecimal:
		p, s := DecimalShape(c)
		t = fmt.Sprintf("decimal(%d,%d)", p, s)
	case core.KindFloat:
		t = "double"
	case core.KindBoolean:
		t = "tinyint(1)"
	case core.KindDate:
		t = "date"
	case core.KindDateTime:
		t = "datetime"
	case core.KindTime:
		t = "time"
	case core.KindEnum:
		quoted := make([]string, len(c.Values))
		for i, v := range c.Values {
			quoted[i] = QuoteString(v)
		}
		t = "enum(" + strings.Join(quoted, ",") + ")"
	case core.KindJSON:
		t = "json"
	}
	switch c.Kind {
	case core.KindString, core.KindText, core.KindList, core.KindEnum:
		t += " COLLATE " + BinaryCollation
	}
	if c.Unsigned && (c.Kind == core.KindInteger || c.Kind == core.KindAutoIncrement || c.Kind == core.KindForeignKey) {
		t += " unsigned"
	}
	return t
}

// ColumnDeclaration renders a full column declaration.
func ColumnDeclaration(c core.Column) string {
	var b strings.Builder
	b.WriteString(QuoteBacktick(c.Name))
	b.WriteString(" ")
	b.WriteString(ColumnType(c))
	if c.Kind == core.KindAutoIncrement {
		b.WriteString(" NOT NULL AUTO_INCREMENT")
		return b.String()
	}
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if !AcceptsDefault(c) {
		return b.String()
	}
	switch {
	case c.Default != nil:
		lit, err := DefaultLiteral(c)
		if err == nil {
			b.WriteString(" DEFAULT ")
			b.WriteString(lit)
		}
	case c.Nullable:
		b.WriteString(" DEFAULT NULL")
	}
	return b.String()
}

// IndexDeclaration renders an index declaration.
func IndexDeclaration(idx core.Index) string {
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = QuoteBacktick(c)
	}
	list := "(" + strings.Join(cols, ",") + ")"
	switch idx.Kind {
	case core.IndexPrimary:
		return "PRIMARY KEY " + list
	case core.IndexUnique:
		return "UNIQUE KEY " + QuoteBacktick(idx.Name) + " " + list
	}
	return "KEY " + QuoteBacktick(idx.Name) + " " + list
}

// Declare renders the comparison schema for s in MySQL column syntax.
func Declare(s *core.ModelSchema) *reconcile.ComparisonSchema {
	cs := &reconcile.ComparisonSchema{Table: s.Name}
	for _, c := range s.StorageColumns() {
		cs.Columns = append(cs.Columns, reconcile.ColumnDecl{Name: c.Name, Declaration: ColumnDeclaration(c)})
	}
	for _, idx := range s.Indexes() {
		cs.Indexes = append(cs.Indexes, IndexDeclaration(idx))
	}
	return cs
}

// AcceptsDefault reports whether the column type can carry a DEFAULT clause.
func AcceptsDefault(c core.Column) bool {
	switch c.Kind {
	case core.KindText, core.KindJSON, core.KindList, core.KindAutoIncrement:
		return false
	}
	return true
}

// DefaultLiteral renders the column default as a quoted SQL literal.
func DefaultLiteral(c core.Column) (string, error) {
	v, err := schema.NewTypeMapper().ToDriver(c, c.Default)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "NULL", nil
	}
	if c.Kind == core.KindDecimal {
		_, scale := DecimalShape(c)
		return QuoteString(strconv.FormatFloat(v.(float64), 'f', scale, 64)), nil
	}
	return QuoteString(query.Stringify(v)), nil
}

// DecimalShape returns the effective precision and scale of a decimal column.
func DecimalShape(c core.Column) (int, int) {
	if c.Precision == 0 && c.Scale == 0 {
		return 10, 2
	}
	return c.Precision, c.Scale
}

// QuoteString quotes s as a single-quoted SQL string literal.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// StringLength returns the effective width of a string column.
func StringLength(c core.Column) int {
	if c.Length > 0 {
		return c.Length
	}
	return 255
}
