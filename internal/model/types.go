package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Brownie44l1/pet-classifier/internal/preprocess"
)

// Labels is the closed set of classes, in presentation order.
var Labels = []string{"cat", "dog", "rabbit"}

// IsLabel reports whether label belongs to the closed label set.
func IsLabel(label string) bool {
	for _, l := range Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Metadata describes the model artifact's input and output contract.
type Metadata struct {
	InputShape    []int64                  `json:"input_shape"`
	OutputShape   []int64                  `json:"output_shape"`
	Classes       []string                 `json:"classes"`
	ImageSize     int                      `json:"image_size,omitempty"`
	InputName     string                   `json:"input_name,omitempty"`
	OutputName    string                   `json:"output_name,omitempty"`
	Layout        preprocess.Layout        `json:"layout,omitempty"`
	ChannelOrder  preprocess.ChannelOrder  `json:"channel_order,omitempty"`
	Normalization preprocess.Normalization `json:"normalization,omitempty"`
	ApplySoftmax  bool                     `json:"apply_softmax,omitempty"`
	MultiLabel    bool                     `json:"multi_label,omitempty"`
}

// LoadMetadata reads and validates a metadata file.
func LoadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, &LoadError{Path: path, Err: fmt.Errorf("failed to read metadata: %w", err)}
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, &LoadError{Path: path, Err: fmt.Errorf("failed to parse metadata: %w", err)}
	}
	meta.applyDefaults()

	if err := meta.Validate(); err != nil {
		return Metadata{}, &LoadError{Path: path, Err: err}
	}
	return meta, nil
}

func (m *Metadata) applyDefaults() {
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if m.Layout == "" {
		m.Layout = preprocess.NCHW
	}
	if m.ChannelOrder == "" {
		m.ChannelOrder = preprocess.RGB
	}
	if m.Normalization == "" {
		m.Normalization = preprocess.NormalizeUnit
	}
}

// TargetSpec derives the preprocessing contract from the input shape.
func (m Metadata) TargetSpec() preprocess.TargetSpec {
	spec := preprocess.TargetSpec{
		ChannelOrder:  m.ChannelOrder,
		Layout:        m.Layout,
		Normalization: m.Normalization,
	}
	if len(m.InputShape) != 4 {
		return spec
	}
	if m.Layout == preprocess.NHWC {
		spec.Height, spec.Width = int(m.InputShape[1]), int(m.InputShape[2])
	} else {
		spec.Height, spec.Width = int(m.InputShape[2]), int(m.InputShape[3])
	}
	return spec
}

// Validate checks the contract against the closed label set and the
// tensor layouts the preprocessor can produce.
func (m Metadata) Validate() error {
	if len(m.Classes) == 0 {
		return errors.New("metadata lists no classes")
	}
	seen := make(map[string]bool, len(m.Classes))
	for _, class := range m.Classes {
		if !IsLabel(class) {
			return fmt.Errorf("%w: %q", ErrUnknownLabel, class)
		}
		if seen[class] {
			return fmt.Errorf("duplicate class %q", class)
		}
		seen[class] = true
	}

	if len(m.InputShape) != 4 || m.InputShape[0] != 1 {
		return fmt.Errorf("input shape %v must have batch 1 and 4 dimensions", m.InputShape)
	}
	spec := m.TargetSpec()
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("input contract: %w", err)
	}
	if !equalShape(spec.Shape(), m.InputShape) {
		return fmt.Errorf("input shape %v is not a %d-channel %s tensor", m.InputShape, preprocess.Channels, m.Layout)
	}
	if m.ImageSize != 0 && (spec.Width != m.ImageSize || spec.Height != m.ImageSize) {
		return fmt.Errorf("image_size %d disagrees with input shape %v", m.ImageSize, m.InputShape)
	}

	outputs := int64(1)
	for _, dim := range m.OutputShape {
		if dim <= 0 {
			return fmt.Errorf("output shape %v has non-positive dimension", m.OutputShape)
		}
		outputs *= dim
	}
	if len(m.OutputShape) == 0 || outputs != int64(len(m.Classes)) {
		return fmt.Errorf("output shape %v does not match %d classes", m.OutputShape, len(m.Classes))
	}
	return nil
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
