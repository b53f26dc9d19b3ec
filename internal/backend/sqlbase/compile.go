package sqlbase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/query"
	"github.com/rzpsarthak13/modelstore/internal/schema"
)

// canFilter reports whether every node of f compiles to SQL.
func canFilter(d Dialect, f query.Filter) bool {
	switch v := f.(type) {
	case *query.EqualsFilter, *query.CompareFilter, *query.OneOfFilter,
		*query.ContainsFilter, *query.IsNullFilter, *query.ListContainsFilter,
		*query.IntersectsFilter:
		return true
	case *query.JSONContainsFilter:
		_, ok := d.JSONContains("")
		return ok
	case *query.NotFilter:
		return canFilter(d, v.Filter)
	case *query.AndFilter:
		for _, c := range v.Filters {
			if !canFilter(d, c) {
				return false
			}
		}
		return true
	case *query.OrFilter:
		for _, c := range v.Filters {
			if !canFilter(d, c) {
				return false
			}
		}
		return true
	}
	return false
}

// compiler renders a filter tree as a WHERE predicate. NULL handling follows
// SQL three-valued logic, which the in-memory evaluator mirrors.
type compiler struct {
	ctx     context.Context
	dialect Dialect
	schema  *core.ModelSchema
	mapper  *schema.TypeMapper
	args    []any
}

func compileWhere(ctx context.Context, d Dialect, s *core.ModelSchema, m *schema.TypeMapper, f query.Filter) (string, []any, error) {
	if f == nil {
		return "", nil, nil
	}
	c := &compiler{ctx: ctx, dialect: d, schema: s, mapper: m}
	sqlText, err := c.compile(f)
	if err != nil {
		return "", nil, err
	}
	return " WHERE " + sqlText, c.args, nil
}

func (c *compiler) col(name string) (string, core.Column, error) {
	col, ok := c.schema.StorageColumn(name)
	if !ok {
		return "", core.Column{}, &core.SchemaError{Schema: c.schema.Name, Column: name, Message: "filter references unknown column"}
	}
	return c.dialect.Quote(name), col, nil
}

// arg converts a filter operand into a driver argument, falling back to the
// raw value when it does not fit the column so the comparison simply fails.
func (c *compiler) arg(col core.Column, v any) string {
	if a, err := c.mapper.ToDriver(col, v); err == nil {
		v = a
	}
	c.args = append(c.args, v)
	return "?"
}

func (c *compiler) compile(f query.Filter) (string, error) {
	switch v := f.(type) {
	case *query.EqualsFilter:
		q, col, err := c.col(v.Column)
		if err != nil {
			return "", err
		}
		if v.Value == nil {
			return q + " IS NULL", nil
		}
		return q + " = " + c.arg(col, v.Value), nil

	case *query.CompareFilter:
		q, col, err := c.col(v.Column)
		if err != nil {
			return "", err
		}
		op := ">"
		if v.Op == query.OpLess {
			op = "<"
		}
		if v.Inclusive {
			op += "="
		}
		if v.Value == nil {
			return q + " " + op + " NULL", nil
		}
		return q + " " + op + " " + c.arg(col, v.Value), nil

	case *query.OneOfFilter:
		if len(v.Values) == 0 {
			return "1=0", nil
		}
		q, col, err := c.col(v.Column)
		if err != nil {
			return "", err
		}
		var ph []string
		for _, val := range v.Values {
			if val != nil {
				ph = append(ph, c.arg(col, val))
			}
		}
		if len(ph) == 0 {
			// NULL for NULL rows, false otherwise.
			return q + " <> " + q, nil
		}
		return q + " IN (" + strings.Join(ph, ", ") + ")", nil

	case *query.ContainsFilter:
		q, _, err := c.col(v.Column)
		if err != nil {
			return "", err
		}
		c.args = append(c.args, v.Substring)
		return c.dialect.Contains(q), nil

	case *query.IsNullFilter:
		q, _, err := c.col(v.Column)
		if err != nil {
			return "", err
		}
		return q + " IS NULL", nil

	case *query.ListContainsFilter:
		if len(v.Values) == 0 {
			return "1=1", nil
		}
		q, _, err := c.col(v.Column)
		if err != nil {
			return "", err
		}
		parts := make([]string, len(v.Values))
		for i, val := range v.Values {
			c.args = append(c.args, query.Stringify(val))
			parts[i] = c.dialect.ListContains(q)
		}
		return "(" + strings.Join(parts, " AND ") + ")", nil

	case *query.JSONContainsFilter:
		q, _, err := c.col(v.Column)
		if err != nil {
			return "", err
		}
		pred, ok := c.dialect.JSONContains(q)
		if !ok {
			return "", fmt.Errorf("%s cannot evaluate JSON containment", c.dialect.Name())
		}
		encoded, err := json.Marshal(v.Value)
		if err != nil {
			return "", fmt.Errorf("cannot encode JSON filter value: %w", err)
		}
		c.args = append(c.args, c.dialect.JSONPath(v.Path), string(encoded))
		return pred, nil

	case *query.IntersectsFilter:
		q, col, err := c.col(v.Column)
		if err != nil {
			return "", err
		}
		values, err := v.Sub.Values(c.ctx, v.SubColumn)
		if err != nil {
			return "", fmt.Errorf("failed to resolve subquery for %q: %w", v.Column, err)
		}
		var ph []string
		for _, val := range values {
			if val != nil {
				ph = append(ph, c.arg(col, val))
			}
		}
		if len(ph) == 0 {
			return "1=0", nil
		}
		return q + " IN (" + strings.Join(ph, ", ") + ")", nil

	case *query.NotFilter:
		inner, err := c.compile(v.Filter)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil

	case *query.AndFilter:
		return c.join(v.Filters, " AND ", "1=1")

	case *query.OrFilter:
		return c.join(v.Filters, " OR ", "1=0")
	}
	return "", fmt.Errorf("unsupported filter node %T", f)
}

func (c *compiler) join(filters []query.Filter, sep, empty string) (string, error) {
	if len(filters) == 0 {
		return empty, nil
	}
	parts := make([]string, len(filters))
	for i, f := range filters {
		p, err := c.compile(f)
		if err != nil {
			return "", err
		}
		parts[i] = "(" + p + ")"
	}
	return strings.Join(parts, sep), nil
}
