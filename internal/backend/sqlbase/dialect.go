// Package sqlbase implements a database/sql backend parameterised by a
// Dialect. The MySQL and SQLite backends are thin dialects over it.
package sqlbase

import (
	"context"
	"database/sql"

	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/query"
	"github.com/rzpsarthak13/modelstore/internal/reconcile"
)

// Querier is the read surface of *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect captures the SQL differences between engines.
type Dialect interface {
	// Name identifies the engine in logs and errors.
	Name() string

	// Quote quotes an identifier.
	Quote(ident string) string

	// DeclaredSchema renders the structure the dialect creates for s.
	DeclaredSchema(s *core.ModelSchema) *reconcile.ComparisonSchema

	// CaptureLiveSchema reads the table structure, or nil when absent.
	CaptureLiveSchema(ctx context.Context, q Querier, s *core.ModelSchema) (*reconcile.ComparisonSchema, error)

	// RenderStructuralChange renders stmt as executable statements.
	RenderStructuralChange(s *core.ModelSchema, stmt *reconcile.Statement) ([]string, error)

	// ListContains returns a predicate testing that one value, bound to a
	// single placeholder, is a member of the comma-joined list in column.
	ListContains(column string) string

	// Contains returns a case-insensitive substring predicate with one placeholder.
	Contains(column string) string

	// JSONContains returns a predicate with two placeholders, path then
	// JSON-encoded value, or false when the engine has no JSON support.
	JSONContains(column string) (string, bool)

	// JSONPath converts a dotted path into the engine's path syntax.
	JSONPath(path string) string

	// Limit renders the LIMIT/OFFSET clause for r, with a leading space.
	Limit(r query.Range) string

	// EmptyInsert renders an insert of a row with only default values into
	// the already quoted table.
	EmptyInsert(table string) string

	// ClearStatements remove all rows of the named table and reset
	// identifier assignment.
	ClearStatements(table string) []string
}
