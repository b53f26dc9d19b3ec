package query

import (
	"slices"

	"github.com/rzpsarthak13/modelstore/internal/core"
)

// Sort orders results by a column.
type Sort struct {
	Column     string
	Descending bool
}

// Asc and Desc build sort keys.
func Asc(column string) Sort  { return Sort{Column: column} }
func Desc(column string) Sort { return Sort{Column: column, Descending: true} }

// Range selects a window of results. A zero Limit means unbounded.
type Range struct {
	Offset int
	Limit  int
}

// IsZero reports whether the range selects everything.
func (r Range) IsZero() bool {
	return r.Offset == 0 && r.Limit == 0
}

// SortRows orders rows by sorts, then by the identifier column ascending.
// NULL sorts first ascending and last descending.
func SortRows(rows []core.Row, sorts []Sort, identifier string) {
	slices.SortStableFunc(rows, func(a, b core.Row) int {
		for _, s := range sorts {
			c := compareNullable(a[s.Column], b[s.Column])
			if s.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return compareNullable(a[identifier], b[identifier])
	})
}

func compareNullable(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return Compare(a, b)
}

// ApplyRange returns the window of rows selected by r.
func ApplyRange[T any](rows []T, r Range) []T {
	if r.Offset >= len(rows) {
		return nil
	}
	rows = rows[max(r.Offset, 0):]
	if r.Limit > 0 && r.Limit < len(rows) {
		rows = rows[:r.Limit]
	}
	return rows
}
