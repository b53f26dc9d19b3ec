package mysql

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	driver "github.com/go-sql-driver/mysql"

	"github.com/rzpsarthak13/modelstore/internal/backend"
	"github.com/rzpsarthak13/modelstore/internal/backend/sqlbase"
	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/query"
	"github.com/rzpsarthak13/modelstore/internal/reconcile"
)

// errNoSuchTable is MySQL's ER_NO_SUCH_TABLE.
const errNoSuchTable = 1146

// Dialect is the MySQL flavour of sqlbase.Dialect. Declarations follow the
// formatting of SHOW CREATE TABLE so live and declared structures compare
// textually.
type Dialect struct{}

var _ sqlbase.Dialect = Dialect{}

func (Dialect) Name() string { return Type }

func (Dialect) Quote(ident string) string { return backend.QuoteBacktick(ident) }

func (Dialect) DeclaredSchema(s *core.ModelSchema) *reconcile.ComparisonSchema {
	return backend.Declare(s)
}

// CaptureLiveSchema parses SHOW CREATE TABLE output.
func (d Dialect) CaptureLiveSchema(ctx context.Context, q sqlbase.Querier, s *core.ModelSchema) (*reconcile.ComparisonSchema, error) {
	var table, ddl string
	err := q.QueryRowContext(ctx, "SHOW CREATE TABLE "+d.Quote(s.Name)).Scan(&table, &ddl)
	if err != nil {
		var me *driver.MySQLError
		if errors.As(err, &me) && me.Number == errNoSuchTable {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to show create table %q: %w", s.Name, err)
	}
	return ParseCreateTable(s.Name, ddl), nil
}

// ParseCreateTable extracts column and index declarations from a CREATE
// TABLE statement laid out one definition per line.
func ParseCreateTable(table, ddl string) *reconcile.ComparisonSchema {
	cs := &reconcile.ComparisonSchema{Table: table}
	sc := bufio.NewScanner(strings.NewReader(ddl))
	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if first {
			first = false
			continue
		}
		if strings.HasPrefix(line, ")") {
			break
		}
		line = strings.TrimSuffix(line, ",")
		switch {
		case strings.HasPrefix(line, "`"):
			cs.Columns = append(cs.Columns, reconcile.ColumnDecl{Name: identifier(line), Declaration: line})
		case line != "":
			cs.Indexes = append(cs.Indexes, line)
		}
	}
	return cs
}

func identifier(decl string) string {
	var b strings.Builder
	for i := 1; i < len(decl); i++ {
		if decl[i] == '`' {
			if i+1 < len(decl) && decl[i+1] == '`' {
				b.WriteByte('`')
				i++
				continue
			}
			break
		}
		b.WriteByte(decl[i])
	}
	return b.String()
}

// RenderStructuralChange renders a CREATE TABLE or a single ALTER TABLE.
func (d Dialect) RenderStructuralChange(s *core.ModelSchema, stmt *reconcile.Statement) ([]string, error) {
	if !stmt.Create {
		return []string{stmt.String()}, nil
	}
	defs := make([]string, len(stmt.Changes))
	for i, c := range stmt.Changes {
		defs[i] = "  " + c.After
	}
	return []string{fmt.Sprintf("CREATE TABLE %s (\n%s\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4", d.Quote(stmt.Table), strings.Join(defs, ",\n"))}, nil
}

func (Dialect) ListContains(column string) string {
	return "FIND_IN_SET(?, " + column + ") > 0"
}

func (Dialect) Contains(column string) string {
	return "LOCATE(LOWER(?), LOWER(" + column + ")) > 0"
}

func (Dialect) JSONContains(column string) (string, bool) {
	return "JSON_CONTAINS(JSON_EXTRACT(" + column + ", ?), ?)", true
}

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
	return fmt.Sprintf(" LIMIT 18446744073709551615 OFFSET %d", r.Offset)
}

func (Dialect) EmptyInsert(table string) string {
	return "INSERT INTO " + table + " () VALUES ()"
}

func (d Dialect) ClearStatements(table string) []string {
	return []string{"TRUNCATE TABLE " + d.Quote(table)}
}
