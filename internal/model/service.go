// Package model owns the loaded classifier and exposes predictions over
// preprocessed tensors.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/Brownie44l1/pet-classifier/internal/preprocess"
)

// SumTolerance is how far a single-label output may drift from 1.
const SumTolerance = 1e-3

// outputTolerance absorbs float32 rounding at the [0,1] edges.
const outputTolerance = 1e-4

// Engine runs one forward pass. An Engine is used by one goroutine at a time.
type Engine interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// Service is the process-wide classifier. It is read-only after
// construction; concurrent Predict calls are spread over a pool of engines.
type Service struct {
	meta    Metadata
	spec    preprocess.TargetSpec
	shape   []int64
	engines []Engine
	pool    chan Engine
	logger  *zap.Logger

	release   func() error
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewService builds a Service over already loaded engines.
func NewService(meta Metadata, logger *zap.Logger, engines ...Engine) (*Service, error) {
	meta.applyDefaults()
	if err := meta.Validate(); err != nil {
		return nil, &LoadError{Err: err}
	}
	if len(engines) == 0 {
		return nil, &LoadError{Err: errors.New("no inference engines")}
	}

	pool := make(chan Engine, len(engines))
	for _, e := range engines {
		pool <- e
	}

	spec := meta.TargetSpec()
	return &Service{
		meta:    meta,
		spec:    spec,
		shape:   spec.Shape(),
		engines: engines,
		pool:    pool,
		logger:  logger.Named("classifier"),
		closed:  make(chan struct{}),
	}, nil
}

// InputSpec returns the preprocessing contract of the model.
func (s *Service) InputSpec() preprocess.TargetSpec { return s.spec }

// Metadata returns the model metadata.
func (s *Service) Metadata() Metadata { return s.meta }

// Available returns the number of idle engines.
func (s *Service) Available() int { return len(s.pool) }

// Predict classifies a preprocessed buffer. It blocks until inference
// finishes or ctx is done; an abandoned inference still runs to completion.
func (s *Service) Predict(ctx context.Context, buf *preprocess.Buffer) (*Probabilities, error) {
	if buf == nil {
		return nil, &InferenceError{Err: fmt.Errorf("%w: no buffer", ErrShapeMismatch)}
	}
	if !equalShape(buf.Shape, s.shape) || buf.Layout != s.spec.Layout || len(buf.Data) != s.spec.Len() {
		return nil, &InferenceError{Err: fmt.Errorf("%w: got %v with %d values, want %v",
			ErrShapeMismatch, buf.Shape, len(buf.Data), s.shape)}
	}
	return s.run(ctx, buf.Data)
}

// PredictRaw classifies a flat tensor laid out per the model contract.
func (s *Service) PredictRaw(ctx context.Context, data []float32) (*Probabilities, error) {
	if len(data) != s.spec.Len() {
		return nil, &InferenceError{Err: fmt.Errorf("%w: expected %d values, got %d", ErrShapeMismatch, s.spec.Len(), len(data))}
	}
	return s.run(ctx, data)
}

type runResult struct {
	output []float32
	err    error
}

func (s *Service) run(ctx context.Context, input []float32) (*Probabilities, error) {
	var engine Engine
	select {
	case <-s.closed:
		return nil, &InferenceError{Err: ErrClosed}
	case <-ctx.Done():
		return nil, &InferenceError{Err: ctx.Err()}
	case engine = <-s.pool:
	}

	done := make(chan runResult, 1)
	go func() {
		out, err := engine.Run(input)
		s.pool <- engine
		done <- runResult{output: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, &InferenceError{Err: res.err}
		}
		return s.probabilities(res.output)
	case <-ctx.Done():
		s.logger.Warn("inference abandoned", zap.Error(ctx.Err()))
		return nil, &InferenceError{Err: ctx.Err()}
	}
}

// probabilities maps raw outputs onto class labels.
func (s *Service) probabilities(output []float32) (*Probabilities, error) {
	if len(output) != len(s.meta.Classes) {
		return nil, &InferenceError{Err: fmt.Errorf("%w: %d outputs for %d classes", ErrInvalidOutput, len(output), len(s.meta.Classes))}
	}

	scores := make([]float64, len(output))
	for i, v := range output {
		scores[i] = float64(v)
	}
	if s.meta.ApplySoftmax {
		scores = softmax(scores)
	}

	values := make(map[string]float64, len(scores))
	var sum float64
	for i, p := range scores {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < -outputTolerance || p > 1+outputTolerance {
			return nil, &InferenceError{Err: fmt.Errorf("%w: %s=%v", ErrInvalidOutput, s.meta.Classes[i], p)}
		}
		p = math.Min(math.Max(p, 0), 1)
		values[s.meta.Classes[i]] = p
		sum += p
	}
	if !s.meta.MultiLabel && math.Abs(sum-1) > SumTolerance {
		return nil, &InferenceError{Err: fmt.Errorf("%w: probabilities sum to %v", ErrInvalidOutput, sum)}
	}

	probs, err := NewProbabilities(values)
	if err != nil {
		return nil, &InferenceError{Err: fmt.Errorf("%w: %v", ErrInvalidOutput, err)}
	}
	return &probs, nil
}

// Close waits for in-flight inference, then releases every engine and the
// runtime environment.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		var errs []error
		for range s.engines {
			engine := <-s.pool
			errs = append(errs, engine.Close())
		}
		if s.release != nil {
			errs = append(errs, s.release())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func softmax(logits []float64) []float64 {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		maxLogit = math.Max(maxLogit, v)
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
