package query

import "context"

// Normalizer converts a filter operand to the canonical form of column.
type Normalizer func(column string, value any) (any, error)

// NormalizeOperands returns a copy of f whose operands are in the canonical
// form of the columns they test. A comparison whose operand does not fit its
// column never matches: it is unknown on NULL and false otherwise.
func NormalizeOperands(f Filter, norm Normalizer) Filter {
	switch v := f.(type) {
	case *EqualsFilter:
		if v.Value == nil {
			return v
		}
		n, err := norm(v.Column, v.Value)
		if err != nil {
			return never(v.Column)
		}
		return &EqualsFilter{Column: v.Column, Value: n}

	case *CompareFilter:
		if v.Value == nil {
			return v
		}
		n, err := norm(v.Column, v.Value)
		if err != nil || n == nil {
			return never(v.Column)
		}
		return &CompareFilter{Column: v.Column, Op: v.Op, Value: n, Inclusive: v.Inclusive}

	case *OneOfFilter:
		if len(v.Values) == 0 {
			return v
		}
		// nil members are skipped by every evaluator, so a failed member
		// becomes nil rather than shrinking the set to empty.
		values := make([]any, len(v.Values))
		for i, val := range v.Values {
			if val == nil {
				continue
			}
			if n, err := norm(v.Column, val); err == nil {
				values[i] = n
			}
		}
		return &OneOfFilter{Column: v.Column, Values: values}

	case *IntersectsFilter:
		if v.Sub == nil {
			return v
		}
		column := v.Column
		return &IntersectsFilter{
			Column:    v.Column,
			SubColumn: v.SubColumn,
			Sub: &normalizedSubquery{Subquery: v.Sub, normalize: func(val any) (any, error) {
				return norm(column, val)
			}},
		}

	case *NotFilter:
		return &NotFilter{Filter: NormalizeOperands(v.Filter, norm)}

	case *AndFilter:
		return &AndFilter{Filters: normalizeAll(v.Filters, norm)}

	case *OrFilter:
		return &OrFilter{Filters: normalizeAll(v.Filters, norm)}
	}
	return f
}

func normalizeAll(filters []Filter, norm Normalizer) []Filter {
	out := make([]Filter, len(filters))
	for i, c := range filters {
		out[i] = NormalizeOperands(c, norm)
	}
	return out
}

// never matches no row: OneOf with only a nil member is unknown on NULL and
// false otherwise, both in memory and in SQL.
func never(column string) Filter {
	return &OneOfFilter{Column: column, Values: []any{nil}}
}

// normalizedSubquery converts the values of a subquery to the canonical form
// of the column they are tested against, dropping those that do not fit.
type normalizedSubquery struct {
	Subquery
	normalize func(any) (any, error)
}

func (s *normalizedSubquery) Values(ctx context.Context, column string) ([]any, error) {
	values, err := s.Subquery.Values(ctx, column)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		if n, err := s.normalize(v); err == nil && n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}
