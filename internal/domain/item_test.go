package domain_test

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

func TestItemRefConstructors(t *testing.T) {
	cases := []struct {
		ref  domain.ItemRef
		kind domain.ItemKind
	}{
		{ref: domain.FoodRef("f"), kind: domain.ItemKindFood},
		{ref: domain.MedicineRef("m"), kind: domain.ItemKindMedicine},
		{ref: domain.BreedRef("b"), kind: domain.ItemKindBreed},
	}
	for _, tc := range cases {
		if tc.ref.Kind() != tc.kind {
			t.Fatalf("ref %s has kind %s, want %s", tc.ref, tc.ref.Kind(), tc.kind)
		}
		if tc.ref.IsZero() {
			t.Fatalf("constructed ref must not be zero")
		}
	}

	var zero domain.ItemRef
	if !zero.IsZero() || zero.String() != "<none>" {
		t.Fatalf("zero ref must report IsZero")
	}
}

func TestParseItemRef(t *testing.T) {
	ref, err := domain.ParseItemRef(" Medicine ", "m-1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ref != domain.MedicineRef("m-1") {
		t.Fatalf("unexpected ref %s", ref)
	}

	if _, err := domain.ParseItemRef("tools", "t-1"); !errors.Is(err, domain.ErrUnknownItemKind) {
		t.Fatalf("expected ErrUnknownItemKind, got %v", err)
	}
	if _, err := domain.ParseItemRef("food", " "); !errors.Is(err, domain.ErrItemIDRequired) {
		t.Fatalf("expected ErrItemIDRequired, got %v", err)
	}
}

func TestTransitionIsApplied(t *testing.T) {
	tr := domain.BillTransition{Applied: []string{"item-1"}}
	if !tr.IsApplied("item-1") || tr.IsApplied("item-2") {
		t.Fatalf("unexpected applied set %v", tr.Applied)
	}
	if domain.TransitionTarget(domain.TransitionConfirm) != domain.BillStatusConfirmed {
		t.Fatalf("confirm must lead to CONFIRMED")
	}
}

func TestCircleStatusAcceptsStock(t *testing.T) {
	if !domain.CircleStatusGrowing.AcceptsStock() || !domain.CircleStatusPlanned.AcceptsStock() {
		t.Fatalf("planned and growing circles accept stock")
	}
	if domain.CircleStatusFinished.AcceptsStock() || domain.CircleStatusCancelled.AcceptsStock() {
		t.Fatalf("closed circles must not accept stock")
	}
}
