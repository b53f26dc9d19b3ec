package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rzpsarthak13/modelstore/internal/core"
)

// truth is a three-valued logic result. NULL operands yield unknown so
// in-memory evaluation agrees with SQL backends under NOT.
type truth int8

const (
	unknown truth = iota
	falseT
	trueT
)

func boolTruth(b bool) truth {
	if b {
		return trueT
	}
	return falseT
}

func (t truth) not() truth {
	switch t {
	case trueT:
		return falseT
	case falseT:
		return trueT
	}
	return unknown
}

type subKey struct {
	sub    Subquery
	column string
}

// Evaluator matches rows against filter trees in memory.
// Subquery value sets are resolved once per Evaluator.
type Evaluator struct {
	ctx  context.Context
	subs map[subKey]map[string]struct{}
}

// NewEvaluator creates an evaluator whose subqueries run under ctx.
func NewEvaluator(ctx context.Context) *Evaluator {
	return &Evaluator{ctx: ctx, subs: make(map[subKey]map[string]struct{})}
}

// Match reports whether row satisfies f. A nil filter matches everything.
func (e *Evaluator) Match(f Filter, row core.Row) (bool, error) {
	if f == nil {
		return true, nil
	}
	t, err := e.eval(f, row, 1)
	return t == trueT, err
}

// SubqueryValues resolves and caches the stringified value set of a subquery.
func (e *Evaluator) SubqueryValues(sub Subquery, column string) (map[string]struct{}, error) {
	key := subKey{sub: sub, column: column}
	if set, ok := e.subs[key]; ok {
		return set, nil
	}
	values, err := sub.Values(e.ctx, column)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subquery on %q: %w", column, err)
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != nil {
			set[Stringify(v)] = struct{}{}
		}
	}
	e.subs[key] = set
	return set, nil
}

func (e *Evaluator) eval(f Filter, row core.Row, depth int) (truth, error) {
	if depth > MaxDepth {
		return unknown, fmt.Errorf("filter exceeds maximum depth of %d", MaxDepth)
	}
	switch v := f.(type) {
	case *EqualsFilter:
		cur := row[v.Column]
		if v.Value == nil {
			return boolTruth(cur == nil), nil
		}
		if cur == nil {
			return unknown, nil
		}
		return boolTruth(Equal(cur, v.Value)), nil

	case *CompareFilter:
		cur := row[v.Column]
		if cur == nil || v.Value == nil {
			return unknown, nil
		}
		c := Compare(cur, v.Value)
		if v.Op == OpLess {
			c = -c
		}
		return boolTruth(c > 0 || (v.Inclusive && c == 0)), nil

	case *OneOfFilter:
		if len(v.Values) == 0 {
			return falseT, nil
		}
		cur := row[v.Column]
		if cur == nil {
			return unknown, nil
		}
		for _, want := range v.Values {
			if want != nil && Equal(cur, want) {
				return trueT, nil
			}
		}
		return falseT, nil

	case *ContainsFilter:
		cur := row[v.Column]
		if cur == nil {
			return unknown, nil
		}
		return boolTruth(strings.Contains(strings.ToLower(Stringify(cur)), strings.ToLower(v.Substring))), nil

	case *IsNullFilter:
		return boolTruth(row[v.Column] == nil), nil

	case *ListContainsFilter:
		if len(v.Values) == 0 {
			return trueT, nil
		}
		cur := row[v.Column]
		if cur == nil {
			return unknown, nil
		}
		members := make(map[string]struct{})
		for _, m := range listMembers(cur) {
			members[m] = struct{}{}
		}
		for _, want := range v.Values {
			if _, ok := members[Stringify(want)]; !ok {
				return falseT, nil
			}
		}
		return trueT, nil

	case *JSONContainsFilter:
		cur := row[v.Column]
		if cur == nil {
			return unknown, nil
		}
		target, ok := jsonPath(cur, v.Path)
		if !ok || target == nil {
			return unknown, nil
		}
		return boolTruth(jsonContains(target, v.Value)), nil

	case *IntersectsFilter:
		set, err := e.SubqueryValues(v.Sub, v.SubColumn)
		if err != nil {
			return unknown, err
		}
		if len(set) == 0 {
			return falseT, nil
		}
		cur := row[v.Column]
		if cur == nil {
			return unknown, nil
		}
		_, ok := set[Stringify(cur)]
		return boolTruth(ok), nil

	case *NotFilter:
		t, err := e.eval(v.Filter, row, depth+1)
		return t.not(), err

	case *AndFilter:
		result := trueT
		for _, c := range v.Filters {
			t, err := e.eval(c, row, depth+1)
			if err != nil {
				return unknown, err
			}
			if t == falseT {
				return falseT, nil
			}
			if t == unknown {
				result = unknown
			}
		}
		return result, nil

	case *OrFilter:
		result := falseT
		for _, c := range v.Filters {
			t, err := e.eval(c, row, depth+1)
			if err != nil {
				return unknown, err
			}
			if t == trueT {
				return trueT, nil
			}
			if t == unknown {
				result = unknown
			}
		}
		return result, nil
	}
	return unknown, fmt.Errorf("unsupported filter node %T", f)
}

func listMembers(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, len(x))
		for i, m := range x {
			out[i] = Stringify(m)
		}
		return out
	case string:
		if x == "" {
			return nil
		}
		return strings.Split(x, ",")
	}
	return []string{Stringify(v)}
}

func jsonPath(doc any, path string) (any, bool) {
	if s, ok := doc.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, false
		}
		doc = decoded
	}
	if path == "" {
		return doc, true
	}
	cur := doc
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func jsonContains(target, want any) bool {
	if arr, ok := target.([]any); ok {
		for _, m := range arr {
			if m != nil && want != nil && jsonScalarEqual(m, want) {
				return true
			}
		}
		return false
	}
	if want == nil {
		return false
	}
	return jsonScalarEqual(target, want)
}

func jsonScalarEqual(a, b any) bool {
	_, an := toNumber(a)
	_, bn := toNumber(b)
	if an != bn {
		return false
	}
	_, as := a.(string)
	_, bs := b.(string)
	if as != bs {
		return false
	}
	return Equal(a, b)
}
