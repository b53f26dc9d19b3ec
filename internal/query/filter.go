// Package query holds filter and aggregate expression trees and their
// in-memory evaluation.
package query

import (
	"context"
	"fmt"

	"github.com/rzpsarthak13/modelstore/internal/core"
)

// MaxDepth bounds the nesting of filter trees, including embedded subqueries.
const MaxDepth = 16

// Filter is a node of a filter tree.
type Filter interface {
	filterNode()
}

// Subquery is a nested query whose column values a filter can test against.
// Implementations must be comparable (pointer types).
type Subquery interface {
	// Values returns the distinct values of column over the subquery's matches.
	Values(ctx context.Context, column string) ([]any, error)

	// QueryFilter returns the subquery's own filter, used for cycle detection.
	QueryFilter() Filter
}

// EqualsFilter matches rows whose column equals Value. A nil Value matches NULL.
type EqualsFilter struct {
	Column string
	Value  any
}

// CompareOp is the direction of a range comparison.
type CompareOp int

const (
	OpGreater CompareOp = iota
	OpLess
)

// CompareFilter matches rows whose column is greater (or less) than Value.
type CompareFilter struct {
	Column    string
	Op        CompareOp
	Value     any
	Inclusive bool
}

// OneOfFilter matches rows whose column equals any of Values.
type OneOfFilter struct {
	Column string
	Values []any
}

// ContainsFilter matches rows whose column contains Substring, ignoring case.
type ContainsFilter struct {
	Column    string
	Substring string
}

// IsNullFilter matches rows whose column is NULL.
type IsNullFilter struct {
	Column string
}

// ListContainsFilter matches rows whose list column holds every one of Values.
type ListContainsFilter struct {
	Column string
	Values []any
}

// JSONContainsFilter matches rows whose JSON column holds Value at Path,
// either as the value itself or as a member of an array there.
// Path is dot separated; an empty path addresses the document root.
type JSONContainsFilter struct {
	Column string
	Path   string
	Value  any
}

// IntersectsFilter matches rows whose column value appears among the values of
// SubColumn in the Sub query.
type IntersectsFilter struct {
	Column    string
	Sub       Subquery
	SubColumn string
}

// NotFilter negates its operand.
type NotFilter struct {
	Filter Filter
}

// AndFilter matches when every operand matches.
type AndFilter struct {
	Filters []Filter
}

// OrFilter matches when any operand matches.
type OrFilter struct {
	Filters []Filter
}

func (*EqualsFilter) filterNode()       {}
func (*CompareFilter) filterNode()      {}
func (*OneOfFilter) filterNode()        {}
func (*ContainsFilter) filterNode()     {}
func (*IsNullFilter) filterNode()       {}
func (*ListContainsFilter) filterNode() {}
func (*JSONContainsFilter) filterNode() {}
func (*IntersectsFilter) filterNode()   {}
func (*NotFilter) filterNode()          {}
func (*AndFilter) filterNode()          {}
func (*OrFilter) filterNode()           {}

func Equals(column string, value any) Filter {
	return &EqualsFilter{Column: column, Value: value}
}

func GreaterThan(column string, value any) Filter {
	return &CompareFilter{Column: column, Op: OpGreater, Value: value}
}

func GreaterOrEqual(column string, value any) Filter {
	return &CompareFilter{Column: column, Op: OpGreater, Value: value, Inclusive: true}
}

func LessThan(column string, value any) Filter {
	return &CompareFilter{Column: column, Op: OpLess, Value: value}
}

func LessOrEqual(column string, value any) Filter {
	return &CompareFilter{Column: column, Op: OpLess, Value: value, Inclusive: true}
}

func OneOf(column string, values ...any) Filter {
	return &OneOfFilter{Column: column, Values: values}
}

func Contains(column, substring string) Filter {
	return &ContainsFilter{Column: column, Substring: substring}
}

func IsNull(column string) Filter {
	return &IsNullFilter{Column: column}
}

func ListContains(column string, values ...any) Filter {
	return &ListContainsFilter{Column: column, Values: values}
}

func JSONContains(column, path string, value any) Filter {
	return &JSONContainsFilter{Column: column, Path: path, Value: value}
}

func Intersects(column string, sub Subquery, subColumn string) Filter {
	return &IntersectsFilter{Column: column, Sub: sub, SubColumn: subColumn}
}

func Not(f Filter) Filter {
	return &NotFilter{Filter: f}
}

// And combines filters, dropping nils and flattening nested ANDs.
// It returns nil for no operands and the operand itself for one.
func And(filters ...Filter) Filter {
	var out []Filter
	for _, f := range filters {
		switch v := f.(type) {
		case nil:
		case *AndFilter:
			out = append(out, v.Filters...)
		default:
			out = append(out, f)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return &AndFilter{Filters: out}
}

func Or(filters ...Filter) Filter {
	return &OrFilter{Filters: filters}
}

// Columns returns the columns a filter references at its own level,
// not those of embedded subqueries.
func Columns(f Filter) []string {
	var out []string
	Walk(f, func(n Filter) {
		if col := column(n); col != "" {
			out = append(out, col)
		}
	})
	return out
}

// Walk visits every node of f depth first, without entering subqueries.
func Walk(f Filter, fn func(Filter)) {
	if f == nil {
		return
	}
	fn(f)
	switch v := f.(type) {
	case *NotFilter:
		Walk(v.Filter, fn)
	case *AndFilter:
		for _, c := range v.Filters {
			Walk(c, fn)
		}
	case *OrFilter:
		for _, c := range v.Filters {
			Walk(c, fn)
		}
	}
}

func column(f Filter) string {
	switch v := f.(type) {
	case *EqualsFilter:
		return v.Column
	case *CompareFilter:
		return v.Column
	case *OneOfFilter:
		return v.Column
	case *ContainsFilter:
		return v.Column
	case *IsNullFilter:
		return v.Column
	case *ListContainsFilter:
		return v.Column
	case *JSONContainsFilter:
		return v.Column
	case *IntersectsFilter:
		return v.Column
	}
	return ""
}

// Validate checks that f references only stored columns of schema, stays
// within MaxDepth and embeds no subquery cycle. self, when non-nil, is the
// query f belongs to.
func Validate(f Filter, schema *core.ModelSchema, self Subquery) error {
	if f == nil {
		return nil
	}
	for _, col := range Columns(f) {
		if _, ok := schema.StorageColumn(col); !ok {
			return &core.SchemaError{Schema: schema.Name, Column: col, Message: "filter references unknown column"}
		}
	}
	var stack []Subquery
	if self != nil {
		stack = append(stack, self)
	}
	return checkStructure(f, 1, stack)
}

func checkStructure(f Filter, depth int, stack []Subquery) error {
	if f == nil {
		return nil
	}
	if depth > MaxDepth {
		return fmt.Errorf("filter exceeds maximum depth of %d", MaxDepth)
	}
	switch v := f.(type) {
	case *NotFilter:
		if v.Filter == nil {
			return fmt.Errorf("not filter has no operand")
		}
		return checkStructure(v.Filter, depth+1, stack)
	case *AndFilter:
		for _, c := range v.Filters {
			if err := checkStructure(c, depth+1, stack); err != nil {
				return err
			}
		}
	case *OrFilter:
		for _, c := range v.Filters {
			if err := checkStructure(c, depth+1, stack); err != nil {
				return err
			}
		}
	case *IntersectsFilter:
		if v.Sub == nil {
			return fmt.Errorf("intersects filter on %q has no subquery", v.Column)
		}
		for _, s := range stack {
			if s == v.Sub {
				return fmt.Errorf("intersects filter on %q forms a subquery cycle", v.Column)
			}
		}
		return checkStructure(v.Sub.QueryFilter(), depth+1, append(stack, v.Sub))
	}
	return nil
}
