package query

import (
	"context"
	"fmt"
	"math"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Processor aplica Specs con limites de pagina fijos al arrancar.
type Processor struct {
	defaultPageSize int
	maxPageSize     int
}

func NewProcessor(defaultPageSize, maxPageSize int) Processor {
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	if maxPageSize <= 0 {
		maxPageSize = MaxPageSize
	}
	if defaultPageSize > maxPageSize {
		defaultPageSize = maxPageSize
	}
	return Processor{defaultPageSize: defaultPageSize, maxPageSize: maxPageSize}
}

// Page es la paginacion efectiva luego de normalizar la Spec.
type Page struct {
	Number int
	Size   int
	// Specified es false cuando el llamador no envio page size.
	Specified bool
}

// Offset es la cantidad de filas a saltear. Si el producto desborda int se
// satura en math.MaxInt, que siempre cae fuera de los datos.
func (p Page) Offset() int {
	if p.Number-1 > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return (p.Number - 1) * p.Size
}

// Normalize reemplaza una Spec nil por la default y corrige page/pageSize invalidos.
func (p Processor) Normalize(spec *Spec) (Spec, Page) {
	var s Spec
	if spec != nil {
		s = *spec
	}
	page := Page{Number: s.Page, Size: s.PageSize, Specified: s.PageSize > 0}
	if page.Number <= 0 {
		page.Number = 1
	}
	if page.Size <= 0 {
		page.Size = p.defaultPageSize
	}
	if page.Size > p.maxPageSize {
		page.Size = p.maxPageSize
	}
	return s, page
}

// Apply compone filtros, orden y paginacion sobre source sin ejecutar nada.
// Devuelve la vista paginada y la vista filtrada sin paginar (para el total).
// El orden siempre termina en la clave ascendente para que las paginas sean
// deterministas entre llamadas.
func Apply[T any](p Processor, spec *Spec, source Queryable[T]) (paged, filtered Queryable[T], page Page, err error) {
	s, page := p.Normalize(spec)
	schema := source.Schema()

	filtered = source
	for _, f := range s.Filters {
		if _, _, err := Resolve(schema, f); err != nil {
			return nil, nil, Page{}, err
		}
		filtered = filtered.Where(f)
	}

	key := schema.Key()
	ordered := filtered
	keySorted := false
	for _, o := range s.Sorts {
		field, err := ResolveSort(schema, o)
		if err != nil {
			return nil, nil, Page{}, err
		}
		if field.Name == key.Name {
			keySorted = true
		}
		ordered = ordered.OrderBy(Sort{Field: field.Name, Desc: o.Desc})
	}
	if !keySorted {
		ordered = ordered.OrderBy(Sort{Field: key.Name})
	}

	paged = ordered.Skip(page.Offset()).Take(page.Size)
	return paged, filtered, page, nil
}

// Execute materializa la pagina, cuenta el total filtrado y mapea cada fila.
func Execute[T, V any](ctx context.Context, p Processor, spec *Spec, source Queryable[T], mapFn func(T) V) (PagedResult[V], error) {
	paged, filtered, page, err := Apply(p, spec, source)
	if err != nil {
		return PagedResult[V]{}, err
	}

	total, err := filtered.Count(ctx)
	if err != nil {
		return PagedResult[V]{}, fmt.Errorf("count: %w", err)
	}
	rows, err := paged.List(ctx)
	if err != nil {
		return PagedResult[V]{}, fmt.Errorf("list: %w", err)
	}

	items := make([]V, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapFn(row))
	}

	pageSize := page.Size
	if !page.Specified {
		pageSize = len(items)
	}
	return PagedResult[V]{
		Items:      items,
		TotalCount: total,
		Page:       page.Number,
		PageSize:   pageSize,
	}, nil
}
