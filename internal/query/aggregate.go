package query

import (
	"github.com/rzpsarthak13/modelstore/internal/core"
)

// AggregateKind selects an aggregate function.
type AggregateKind string

const (
	AggSum           AggregateKind = "sum"
	AggCount         AggregateKind = "count"
	AggCountDistinct AggregateKind = "count_distinct"
)

// Aggregate produces one scalar over a filtered row set.
// Sum yields float64; Count and CountDistinct yield int64.
type Aggregate struct {
	Kind   AggregateKind
	Column string
}

// Sum adds the column's values; NULL contributes nothing.
func Sum(column string) Aggregate { return Aggregate{Kind: AggSum, Column: column} }

// Count counts non-NULL values of column, or every row when column is empty.
func Count(column string) Aggregate { return Aggregate{Kind: AggCount, Column: column} }

// CountDistinct counts unique stringified non-NULL values of column.
func CountDistinct(column string) Aggregate {
	return Aggregate{Kind: AggCountDistinct, Column: column}
}

// Accumulator folds rows into aggregate results.
type Accumulator struct {
	aggs     []Aggregate
	sums     []float64
	counts   []int64
	distinct []map[string]struct{}
}

// NewAccumulator prepares an accumulator for aggs.
func NewAccumulator(aggs []Aggregate) *Accumulator {
	acc := &Accumulator{
		aggs:     aggs,
		sums:     make([]float64, len(aggs)),
		counts:   make([]int64, len(aggs)),
		distinct: make([]map[string]struct{}, len(aggs)),
	}
	for i, a := range aggs {
		if a.Kind == AggCountDistinct {
			acc.distinct[i] = make(map[string]struct{})
		}
	}
	return acc
}

// Add folds one row.
func (acc *Accumulator) Add(row core.Row) {
	for i, a := range acc.aggs {
		var v any
		if a.Column != "" {
			v = row[a.Column]
		}
		switch a.Kind {
		case AggSum:
			if v != nil {
				acc.sums[i] += Numeric(v)
			}
		case AggCount:
			if a.Column == "" || v != nil {
				acc.counts[i]++
			}
		case AggCountDistinct:
			if v != nil {
				acc.distinct[i][Stringify(v)] = struct{}{}
			}
		}
	}
}

// Results returns one scalar per aggregate, in order.
func (acc *Accumulator) Results() []any {
	out := make([]any, len(acc.aggs))
	for i, a := range acc.aggs {
		switch a.Kind {
		case AggSum:
			out[i] = acc.sums[i]
		case AggCount:
			out[i] = acc.counts[i]
		case AggCountDistinct:
			out[i] = int64(len(acc.distinct[i]))
		}
	}
	return out
}
