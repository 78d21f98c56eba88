package catalog

import (
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/silencecat2007/pokepark-kanto/internal/model"
)

func TestDefaultEntries(t *testing.T) {
	reg, err := New(DefaultEntries())
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}
	if reg.Len() != MaxNumber {
		t.Fatalf("len = %d, want %d", reg.Len(), MaxNumber)
	}
	for n := MinNumber; n <= MaxNumber; n++ {
		if _, ok := reg.Lookup(n); !ok {
			t.Fatalf("missing number %d", n)
		}
	}
	if e, _ := reg.Lookup(25); e.Name != "ピカチュウ" {
		t.Fatalf("no.25 = %q", e.Name)
	}
	entries := reg.Entries()
	for i, e := range entries {
		if e.Number != i+1 {
			t.Fatalf("entries not ordered at %d: %+v", i, e)
		}
	}
}

func TestRegistry_LongestFirst(t *testing.T) {
	reg, err := New(DefaultEntries())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	prev := reg.longestFirst[0]
	for _, e := range reg.longestFirst[1:] {
		lp, le := utf8.RuneCountInString(prev.Name), utf8.RuneCountInString(e.Name)
		if le > lp || (le == lp && e.Number < prev.Number) {
			t.Fatalf("order broken: %+v before %+v", prev, e)
		}
		prev = e
	}
}

func TestCheckIntegrity(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]model.CatalogEntry) []model.CatalogEntry
		number int
	}{
		{
			name: "generic token in name",
			mutate: func(es []model.CatalogEntry) []model.CatalogEntry {
				es[24].Name = "ピカチュウ ピンバッジ"
				return es
			},
			number: 25,
		},
		{
			name: "marker text in name",
			mutate: func(es []model.CatalogEntry) []model.CatalogEntry {
				es[0].Name = "No.1 フシギダネ"
				return es
			},
			number: 1,
		},
		{
			name: "ascii generic token",
			mutate: func(es []model.CatalogEntry) []model.CatalogEntry {
				es[9].Name = "Caterpie PIN"
				return es
			},
			number: 10,
		},
		{
			name: "duplicate name",
			mutate: func(es []model.CatalogEntry) []model.CatalogEntry {
				es[25].Name = es[24].Name
				return es
			},
			number: 26,
		},
		{
			name: "duplicate number",
			mutate: func(es []model.CatalogEntry) []model.CatalogEntry {
				es[1].Number = 1
				return es
			},
			number: 1,
		},
		{
			name: "empty name",
			mutate: func(es []model.CatalogEntry) []model.CatalogEntry {
				es[50].Name = " "
				return es
			},
			number: 51,
		},
		{
			name: "missing entry",
			mutate: func(es []model.CatalogEntry) []model.CatalogEntry {
				return es[:150]
			},
		},
		{
			name: "out of range",
			mutate: func(es []model.CatalogEntry) []model.CatalogEntry {
				es[150].Number = 152
				return es
			},
			number: 152,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.mutate(DefaultEntries()))
			if !errors.Is(err, ErrRegistryContamination) {
				t.Fatalf("expected contamination, got %v", err)
			}
			var ce *ContaminationError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *ContaminationError, got %T", err)
			}
			if ce.Number != tt.number {
				t.Fatalf("offending number = %d, want %d", ce.Number, tt.number)
			}
		})
	}
}
