// Package query implementa filtros, orden y paginacion declarativos sobre
// vistas componibles (Queryable) que cada store materializa a su manera.
package query

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"userhub/internal/domain"
)

type Operator string

const (
	OpEquals         Operator = "=="
	OpNotEquals      Operator = "!="
	OpContains       Operator = "@="
	OpStartsWith     Operator = "_="
	OpGreater        Operator = ">"
	OpLess           Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
)

// operators en orden de reconocimiento: primero los de dos caracteres.
var operators = []Operator{
	OpEquals, OpNotEquals, OpContains, OpStartsWith,
	OpGreaterOrEqual, OpLessOrEqual, OpGreater, OpLess,
}

// Filter es un predicado (campo, operador, valor). Contains y StartsWith
// ignoran mayusculas; Equals y NotEquals son exactos.
type Filter struct {
	Field string
	Op    Operator
	Value string
}

type Sort struct {
	Field string
	Desc  bool
}

// Spec son los parametros de un listado. Page y PageSize en cero significan
// "no especificado".
type Spec struct {
	Filters  []Filter
	Sorts    []Sort
	Page     int
	PageSize int
}

type PagedResult[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"total_count"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
}

type Kind int

const (
	KindString Kind = iota
	KindTime
)

// Field describe un campo filtrable/ordenable de T.
type Field[T any] struct {
	Name   string
	Column string
	Kind   Kind
	Value  func(T) any
}

// Schema lista los campos expuestos de una entidad. Lo que no esta declarado
// no puede filtrarse ni ordenarse.
type Schema[T any] struct {
	key    string
	fields []Field[T]
}

// NewSchema construye un schema; key debe ser el nombre de uno de los campos.
func NewSchema[T any](key string, fields ...Field[T]) Schema[T] {
	return Schema[T]{key: key, fields: fields}
}

// Lookup busca un campo por nombre o columna, sin distinguir mayusculas.
func (s Schema[T]) Lookup(name string) (Field[T], bool) {
	name = strings.TrimSpace(name)
	for _, f := range s.fields {
		if strings.EqualFold(f.Name, name) || strings.EqualFold(f.Column, name) {
			return f, true
		}
	}
	return Field[T]{}, false
}

func (s Schema[T]) Key() Field[T] {
	f, _ := s.Lookup(s.key)
	return f
}

func (s Schema[T]) Fields() []Field[T] {
	return s.fields
}

// ParseValue convierte el valor textual de un filtro segun el tipo del campo.
func ParseValue(kind Kind, raw string) (any, error) {
	switch kind {
	case KindTime:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateOnly} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("%w: %q is not a timestamp", domain.ErrInvalidArgument, raw)
	default:
		return raw, nil
	}
}

func validOperator(op Operator) bool {
	for _, o := range operators {
		if o == op {
			return true
		}
	}
	return false
}

var errUnknownField = errors.New("unknown field")

// Resolve valida el filtro contra el schema y devuelve el campo y el valor tipado.
func Resolve[T any](s Schema[T], f Filter) (Field[T], any, error) {
	field, ok := s.Lookup(f.Field)
	if !ok {
		return Field[T]{}, nil, fmt.Errorf("%w: %w %q", domain.ErrInvalidArgument, errUnknownField, f.Field)
	}
	if !validOperator(f.Op) {
		return Field[T]{}, nil, fmt.Errorf("%w: unknown operator %q", domain.ErrInvalidArgument, f.Op)
	}
	if field.Kind != KindString && (f.Op == OpContains || f.Op == OpStartsWith) {
		return Field[T]{}, nil, fmt.Errorf("%w: operator %q not supported on %q", domain.ErrInvalidArgument, f.Op, field.Name)
	}
	value, err := ParseValue(field.Kind, f.Value)
	if err != nil {
		return Field[T]{}, nil, err
	}
	return field, value, nil
}

// ResolveSort valida un orden contra el schema.
func ResolveSort[T any](s Schema[T], o Sort) (Field[T], error) {
	field, ok := s.Lookup(o.Field)
	if !ok {
		return Field[T]{}, fmt.Errorf("%w: %w %q", domain.ErrInvalidArgument, errUnknownField, o.Field)
	}
	return field, nil
}
