package pipeline

import (
	"context"
	"errors"

	"github.com/Brownie44l1/pet-classifier/internal/decode"
	"github.com/Brownie44l1/pet-classifier/internal/model"
	"github.com/Brownie44l1/pet-classifier/internal/preprocess"
)

// SelectionError reports that the bytes of a selected image could not be
// obtained.
type SelectionError struct {
	Source string
	Err    error
}

func (e *SelectionError) Error() string {
	if e.Source != "" {
		return "select image " + e.Source + ": " + e.Err.Error()
	}
	return "select image: " + e.Err.Error()
}

func (e *SelectionError) Unwrap() error { return e.Err }

// FailureKind names the stage that failed.
type FailureKind string

const (
	FailureSelection  FailureKind = "selection"
	FailureDecode     FailureKind = "decode"
	FailurePreprocess FailureKind = "preprocess"
	FailureInference  FailureKind = "inference"
	FailureInternal   FailureKind = "internal"
)

// Failure is the reason attached to the Failed state.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Classify maps an error from any pipeline stage onto a Failure whose
// message is fit to show a user.
func Classify(err error) Failure {
	var (
		selErr  *SelectionError
		decErr  *decode.Error
		prepErr *preprocess.Error
		infErr  *model.InferenceError
	)
	switch {
	case errors.As(err, &selErr):
		return Failure{Kind: FailureSelection, Message: selErr.Error()}
	case errors.As(err, &decErr):
		return Failure{Kind: FailureDecode, Message: decErr.Error()}
	case errors.As(err, &prepErr):
		return Failure{Kind: FailurePreprocess, Message: prepErr.Error()}
	case errors.As(err, &infErr):
		return Failure{Kind: FailureInference, Message: infErr.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return Failure{Kind: FailureInference, Message: "inference timed out"}
	default:
		return Failure{Kind: FailureInternal, Message: err.Error()}
	}
}
