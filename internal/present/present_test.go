package present

import (
	"math"
	"testing"

	"github.com/Brownie44l1/pet-classifier/internal/model"
)

func mustProbabilities(t *testing.T, values map[string]float64) model.Probabilities {
	t.Helper()
	p, err := model.NewProbabilities(values)
	if err != nil {
		t.Fatalf("NewProbabilities: %v", err)
	}
	return p
}

func TestPresentOrdersLabels(t *testing.T) {
	view := Present(mustProbabilities(t, map[string]float64{
		"rabbit": 0.03,
		"cat":    0.82,
		"dog":    0.15,
	}))

	want := []Entry{{"cat", 0.82}, {"dog", 0.15}, {"rabbit", 0.03}}
	if len(view.Entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(view.Entries))
	}
	for i, e := range want {
		if view.Entries[i] != e {
			t.Errorf("entry %d: expected %+v, got %+v", i, e, view.Entries[i])
		}
	}
	if view.Top != "cat" {
		t.Errorf("expected top cat, got %q", view.Top)
	}
	if math.Abs(view.Entries[0].Percent()-82) > 1e-9 {
		t.Errorf("unexpected percent %v", view.Entries[0].Percent())
	}
}

func TestPresentOmitsAbsentLabels(t *testing.T) {
	view := Present(mustProbabilities(t, map[string]float64{"rabbit": 0.9, "cat": 0.1}))

	if len(view.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", view.Entries)
	}
	if view.Entries[0].Label != "cat" || view.Entries[1].Label != "rabbit" {
		t.Fatalf("unexpected order: %+v", view.Entries)
	}
	if view.Top != "rabbit" {
		t.Fatalf("expected top rabbit, got %q", view.Top)
	}
}

func TestPresentTieKeepsFirstLabel(t *testing.T) {
	view := Present(mustProbabilities(t, map[string]float64{"cat": 0.5, "dog": 0.5}))
	if view.Top != "cat" {
		t.Fatalf("expected tie to resolve to cat, got %q", view.Top)
	}
}

func TestPresentEmpty(t *testing.T) {
	view := Present(model.Probabilities{})
	if len(view.Entries) != 0 || view.Top != "" {
		t.Fatalf("expected empty view, got %+v", view)
	}
}
