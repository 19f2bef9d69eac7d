package query

import (
	"errors"
	"reflect"
	"testing"

	"userhub/internal/domain"
)

func TestParseFilters(t *testing.T) {
	got, err := ParseFilters(`firstName@=jo, email==a@x.com,created>=2025-01-01,lastName!=Doe\, Jr,id<z`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []Filter{
		{Field: "firstName", Op: OpContains, Value: "jo"},
		{Field: "email", Op: OpEquals, Value: "a@x.com"},
		{Field: "created", Op: OpGreaterOrEqual, Value: "2025-01-01"},
		{Field: "lastName", Op: OpNotEquals, Value: "Doe, Jr"},
		{Field: "id", Op: OpLess, Value: "z"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected filters:\n got %+v\nwant %+v", got, want)
	}
}

func TestParseFilters_Errors(t *testing.T) {
	for _, raw := range []string{"firstName", "==x"} {
		if _, err := ParseFilters(raw); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument for %q, got %v", raw, err)
		}
	}
	got, err := ParseFilters("  ")
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no filters, got %v %v", got, err)
	}
}

func TestParseSorts(t *testing.T) {
	got := ParseSorts("-lastName, firstName,,-")
	want := []Sort{{Field: "lastName", Desc: true}, {Field: "firstName"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected sorts: %+v", got)
	}
}
