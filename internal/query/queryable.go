package query

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
)

// Queryable es una vista no materializada. Cada operador devuelve una vista
// nueva; nada se ejecuta hasta Count o List.
type Queryable[T any] interface {
	Schema() Schema[T]
	Where(f Filter) Queryable[T]
	OrderBy(s Sort) Queryable[T]
	Skip(n int) Queryable[T]
	Take(n int) Queryable[T]
	// Count cuenta las filas que List devolveria.
	Count(ctx context.Context) (int, error)
	List(ctx context.Context) ([]T, error)
}

// SliceQueryable evalua la vista en memoria sobre una copia de los items.
type SliceQueryable[T any] struct {
	schema  Schema[T]
	items   []T
	filters []Filter
	sorts   []Sort
	skip    int
	take    int
}

// FromSlice crea una vista sobre items. El slice no se modifica.
func FromSlice[T any](schema Schema[T], items []T) *SliceQueryable[T] {
	return &SliceQueryable[T]{schema: schema, items: items, take: -1}
}

func (q *SliceQueryable[T]) clone() *SliceQueryable[T] {
	c := *q
	c.filters = append([]Filter(nil), q.filters...)
	c.sorts = append([]Sort(nil), q.sorts...)
	return &c
}

func (q *SliceQueryable[T]) Schema() Schema[T] { return q.schema }

func (q *SliceQueryable[T]) Where(f Filter) Queryable[T] {
	c := q.clone()
	c.filters = append(c.filters, f)
	return c
}

func (q *SliceQueryable[T]) OrderBy(s Sort) Queryable[T] {
	c := q.clone()
	c.sorts = append(c.sorts, s)
	return c
}

func (q *SliceQueryable[T]) Skip(n int) Queryable[T] {
	c := q.clone()
	if n > 0 {
		c.skip = addSaturating(c.skip, n)
	}
	return c
}

func (q *SliceQueryable[T]) Take(n int) Queryable[T] {
	c := q.clone()
	if n >= 0 {
		c.take = n
	}
	return c
}

func (q *SliceQueryable[T]) Count(ctx context.Context) (int, error) {
	items, err := q.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (q *SliceQueryable[T]) List(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type predicate struct {
		field Field[T]
		op    Operator
		value any
	}
	preds := make([]predicate, 0, len(q.filters))
	for _, f := range q.filters {
		field, value, err := Resolve(q.schema, f)
		if err != nil {
			return nil, err
		}
		preds = append(preds, predicate{field: field, op: f.Op, value: value})
	}
	orders := make([]Field[T], 0, len(q.sorts))
	for _, s := range q.sorts {
		field, err := ResolveSort(q.schema, s)
		if err != nil {
			return nil, err
		}
		orders = append(orders, field)
	}

	out := make([]T, 0, len(q.items))
	for _, item := range q.items {
		keep := true
		for _, p := range preds {
			if !matches(p.field.Value(item), p.op, p.value) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, item)
		}
	}

	if len(orders) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for k, field := range orders {
				c := compare(field.Value(out[i]), field.Value(out[j]))
				if c == 0 {
					continue
				}
				if q.sorts[k].Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if q.skip >= len(out) {
		return []T{}, nil
	}
	out = out[q.skip:]
	if q.take >= 0 && q.take < len(out) {
		out = out[:q.take]
	}
	return out, nil
}

func matches(actual any, op Operator, expected any) bool {
	switch op {
	case OpContains:
		return strings.Contains(strings.ToLower(toString(actual)), strings.ToLower(toString(expected)))
	case OpStartsWith:
		return strings.HasPrefix(strings.ToLower(toString(actual)), strings.ToLower(toString(expected)))
	}
	c := compare(actual, expected)
	switch op {
	case OpEquals:
		return c == 0
	case OpNotEquals:
		return c != 0
	case OpGreater:
		return c > 0
	case OpLess:
		return c < 0
	case OpGreaterOrEqual:
		return c >= 0
	case OpLessOrEqual:
		return c <= 0
	}
	return false
}

func compare(a, b any) int {
	if ta, ok := a.(time.Time); ok {
		tb, _ := b.(time.Time)
		return ta.Compare(tb)
	}
	return strings.Compare(toString(a), toString(b))
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

// addSaturating suma enteros no negativos sin desbordar.
func addSaturating(a, b int) int {
	if a > math.MaxInt-b {
		return math.MaxInt
	}
	return a + b
}
