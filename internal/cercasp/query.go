package cercasp

import (
	"fmt"
	"sort"
)

// Op is a comparison operator for Where constraints.
type Op string

const (
	OpEq Op = "=="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// Filter keeps records whose Field compares to Value under Op.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Order sorts by Field.
type Order struct {
	Field string
	Desc  bool
}

// Query is the evaluated form of a list of constraints.
type Query struct {
	Filters []Filter
	Orders  []Order
	Limit   int
}

// Constraint narrows a remote query.
type Constraint func(*Query)

func Where(field string, op Op, value any) Constraint {
	return func(q *Query) { q.Filters = append(q.Filters, Filter{Field: field, Op: op, Value: value}) }
}

func OrderBy(field string, desc bool) Constraint {
	return func(q *Query) { q.Orders = append(q.Orders, Order{Field: field, Desc: desc}) }
}

func Limit(n int) Constraint {
	return func(q *Query) { q.Limit = n }
}

// BuildQuery folds constraints into a Query.
func BuildQuery(constraints ...Constraint) Query {
	var q Query
	for _, c := range constraints {
		if c != nil {
			c(&q)
		}
	}
	return q
}

// Apply filters, sorts and truncates records in process. Backends without a
// native query engine use it over a full collection scan.
func (q Query) Apply(records []Record) ([]Record, error) {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		keep := true
		for _, f := range q.Filters {
			ok, err := f.match(r)
			if err != nil {
				return nil, err
			}
			if !ok {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, r)
		}
	}

	if len(q.Orders) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.Orders {
				c := compareValues(out[i][o.Field], out[j][o.Field])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f Filter) match(r Record) (bool, error) {
	v, present := r[f.Field]
	switch f.Op {
	case OpEq:
		return present && compareValues(v, f.Value) == 0, nil
	case OpNe:
		return !present || compareValues(v, f.Value) != 0, nil
	case OpLt, OpLe, OpGt, OpGe:
		if !present || !orderable(v, f.Value) {
			return false, nil
		}
		c := compareValues(v, f.Value)
		switch f.Op {
		case OpLt:
			return c < 0, nil
		case OpLe:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	default:
		return false, fmt.Errorf("unsupported operator %q", f.Op)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func orderable(a, b any) bool {
	if _, ok := toFloat(a); ok {
		_, ok := toFloat(b)
		return ok
	}
	_, as := a.(string)
	_, bs := b.(string)
	return as && bs
}

// compareValues orders numbers numerically, strings lexically and falls back
// to the formatted value for anything else. nil sorts first.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			switch {
			case as < bs:
				return -1
			case as > bs:
				return 1
			}
			return 0
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			}
			return 1
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}
