package query

import (
	"fmt"
	"strings"

	"userhub/internal/domain"
)

// ParseFilters interpreta la sintaxis "campo<op>valor,campo<op>valor".
// Una coma dentro de un valor se escapa como "\,".
func ParseFilters(raw string) ([]Filter, error) {
	var filters []Filter
	for _, term := range splitTerms(raw) {
		f, err := parseFilter(term)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// ParseSorts interpreta "campo,-campo"; el prefijo "-" es descendente.
func ParseSorts(raw string) []Sort {
	var sorts []Sort
	for _, term := range splitTerms(raw) {
		desc := strings.HasPrefix(term, "-")
		field := strings.TrimSpace(strings.TrimPrefix(term, "-"))
		if field == "" {
			continue
		}
		sorts = append(sorts, Sort{Field: field, Desc: desc})
	}
	return sorts
}

func parseFilter(term string) (Filter, error) {
	for i := 0; i < len(term); i++ {
		for _, op := range operators {
			if strings.HasPrefix(term[i:], string(op)) {
				field := strings.TrimSpace(term[:i])
				if field == "" {
					return Filter{}, fmt.Errorf("%w: filter %q has no field", domain.ErrInvalidArgument, term)
				}
				return Filter{
					Field: field,
					Op:    op,
					Value: strings.TrimSpace(term[i+len(op):]),
				}, nil
			}
		}
	}
	return Filter{}, fmt.Errorf("%w: filter %q has no operator", domain.ErrInvalidArgument, term)
}

func splitTerms(raw string) []string {
	var (
		terms   []string
		current strings.Builder
	)
	flush := func() {
		if t := strings.TrimSpace(current.String()); t != "" {
			terms = append(terms, t)
		}
		current.Reset()
	}
	for i := 0; i < len(raw); i++ {
		switch {
		case raw[i] == '\\' && i+1 < len(raw) && raw[i+1] == ',':
			current.WriteByte(',')
			i++
		case raw[i] == ',':
			flush()
		default:
			current.WriteByte(raw[i])
		}
	}
	flush()
	return terms
}
