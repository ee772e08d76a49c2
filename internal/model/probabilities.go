package model

import (
	"fmt"
	"math"
)

// Probabilities maps class labels to confidences in [0,1]. The zero value
// is empty. Values are never mutated after construction.
type Probabilities struct {
	values map[string]float64
}

// NewProbabilities copies values after checking labels and ranges.
func NewProbabilities(values map[string]float64) (Probabilities, error) {
	copied := make(map[string]float64, len(values))
	for label, p := range values {
		if !IsLabel(label) {
			return Probabilities{}, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
		}
		if math.IsNaN(p) || p < 0 || p > 1 {
			return Probabilities{}, fmt.Errorf("probability for %q out of range: %v", label, p)
		}
		copied[label] = p
	}
	return Probabilities{values: copied}, nil
}

// Get returns the probability reported for label.
func (p Probabilities) Get(label string) (float64, bool) {
	v, ok := p.values[label]
	return v, ok
}

// Len returns the number of labels reported.
func (p Probabilities) Len() int { return len(p.values) }

// Sum returns the total probability mass.
func (p Probabilities) Sum() float64 {
	var sum float64
	for _, v := range p.values {
		sum += v
	}
	return sum
}

// Map returns a copy of the underlying values.
func (p Probabilities) Map() map[string]float64 {
	out := make(map[string]float64, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}
