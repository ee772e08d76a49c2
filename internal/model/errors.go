package model

import (
	"errors"
	"fmt"
)

var (
	ErrShapeMismatch = errors.New("input shape does not match model contract")
	ErrInvalidOutput = errors.New("model produced invalid output")
	ErrUnknownLabel  = errors.New("label outside the supported set")
	ErrClosed        = errors.New("classifier is closed")
)

// LoadError reports that the model artifact is missing or incompatible.
// It is only returned during startup and is not recoverable.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("load model: %v", e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// InferenceError reports a failed prediction.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string { return "inference failed: " + e.Err.Error() }

func (e *InferenceError) Unwrap() error { return e.Err }
