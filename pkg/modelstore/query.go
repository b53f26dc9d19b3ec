package modelstore

import (
	"github.com/rzpsarthak13/modelstore/internal/query"
)

// Filter is a boolean expression over the stored columns of a schema.
// Build filters with the constructors below and combine them with And, Or
// and Not. Backends evaluate what they can natively; the rest is applied in
// memory with the same semantics.
type Filter = query.Filter

// Subquery is a source of values for Intersects. A Collection is a Subquery.
type Subquery = query.Subquery

// Sort orders results by a column. Ties are broken by the unique identifier.
type Sort = query.Sort

// Aggregate is a sum, count or distinct count over a column.
type Aggregate = query.Aggregate

// Equals matches rows whose column equals value.
func Equals(column string, value any) Filter { return query.Equals(column, value) }

// GreaterThan matches rows whose column is strictly greater than value.
func GreaterThan(column string, value any) Filter { return query.GreaterThan(column, value) }

// GreaterOrEqual matches rows whose column is at least value.
func GreaterOrEqual(column string, value any) Filter { return query.GreaterOrEqual(column, value) }

// LessThan matches rows whose column is strictly less than value.
func LessThan(column string, value any) Filter { return query.LessThan(column, value) }

// LessOrEqual matches rows whose column is at most value.
func LessOrEqual(column string, value any) Filter { return query.LessOrEqual(column, value) }

// OneOf matches rows whose column equals any of values.
func OneOf(column string, values ...any) Filter { return query.OneOf(column, values...) }

// Contains matches rows whose string column contains substring.
func Contains(column, substring string) Filter { return query.Contains(column, substring) }

// IsNull matches rows whose column is NULL.
func IsNull(column string) Filter { return query.IsNull(column) }

// ListContains matches rows whose list column contains every one of values.
func ListContains(column string, values ...any) Filter {
	return query.ListContains(column, values...)
}

// JSONContains matches rows whose JSON column holds value at path.
func JSONContains(column, path string, value any) Filter {
	return query.JSONContains(column, path, value)
}

// Intersects matches rows whose column value is among the subColumn values
// of sub.
func Intersects(column string, sub Subquery, subColumn string) Filter {
	return query.Intersects(column, sub, subColumn)
}

// Not negates f.
func Not(f Filter) Filter { return query.Not(f) }

// And matches rows matching every filter. Nil filters are ignored.
func And(filters ...Filter) Filter { return query.And(filters...) }

// Or matches rows matching any filter.
func Or(filters ...Filter) Filter { return query.Or(filters...) }

// Asc and Desc build sort keys.
func Asc(column string) Sort  { return query.Asc(column) }
func Desc(column string) Sort { return query.Desc(column) }

// Sum totals a numeric column as a float64.
func Sum(column string) Aggregate { return query.Sum(column) }

// Count counts non-NULL values of column, or every row when column is empty.
func Count(column string) Aggregate { return query.Count(column) }

// CountDistinct counts the distinct non-NULL values of column.
func CountDistinct(column string) Aggregate { return query.CountDistinct(column) }
