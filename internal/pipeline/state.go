package pipeline

import (
	"fmt"

	"github.com/Brownie44l1/pet-classifier/internal/present"
)

// State is the pipeline's position in the acquire -> predict cycle.
type State int

const (
	Idle State = iota
	AcquiringImage
	Ready
	Predicting
	ResultAvailable
	Failed
)

var stateNames = [...]string{
	Idle:            "idle",
	AcquiringImage:  "acquiring_image",
	Ready:           "ready",
	Predicting:      "predicting",
	ResultAvailable: "result_available",
	Failed:          "failed",
}

// allStates feeds the state gauge.
var allStates = stateNames[:]

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("unknown state %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// busy reports whether asynchronous work is outstanding in s.
func (s State) busy() bool {
	return s == AcquiringImage || s == Predicting
}

// ImageInfo describes the decoded image of the current selection.
type ImageInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

// Snapshot is what a UI layer renders: the state plus whatever result or
// error goes with it.
type Snapshot struct {
	State   State         `json:"state"`
	ImageID string        `json:"image_id,omitempty"`
	Image   *ImageInfo    `json:"image,omitempty"`
	Result  *present.View `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
	Failure FailureKind   `json:"failure,omitempty"`
	Busy    bool          `json:"busy"`
}
