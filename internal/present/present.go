// Package present turns classifier output into display-ready entries.
package present

import "github.com/Brownie44l1/pet-classifier/internal/model"

// Entry is one label with its confidence in [0,1].
type Entry struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// View is the ordered result shown to the user.
type View struct {
	Entries []Entry `json:"entries"`
	Top     string  `json:"top,omitempty"`
}

// Present lists the reported labels in the fixed order cat, dog, rabbit.
// Labels the classifier did not report are left out. Ties for Top go to
// the earlier label.
func Present(p model.Probabilities) View {
	view := View{Entries: make([]Entry, 0, p.Len())}
	best := -1.0
	for _, label := range model.Labels {
		prob, ok := p.Get(label)
		if !ok {
			continue
		}
		view.Entries = append(view.Entries, Entry{Label: label, Probability: prob})
		if prob > best {
			best = prob
			view.Top = label
		}
	}
	return view
}

// Percent formats a confidence for display, e.g. 0.823 -> 82.3.
func (e Entry) Percent() float64 {
	return e.Probability * 100
}
