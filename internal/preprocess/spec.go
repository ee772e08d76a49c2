package preprocess

import (
	"fmt"
)

// ChannelOrder is the order of colour channels in the output tensor.
type ChannelOrder string

const (
	RGB ChannelOrder = "rgb"
	BGR ChannelOrder = "bgr"
)

// Layout is the memory layout of the output tensor.
type Layout string

const (
	// NCHW stores one plane per channel: [1, C, H, W].
	NCHW Layout = "nchw"
	// NHWC interleaves channels per pixel: [1, H, W, C].
	NHWC Layout = "nhwc"
)

// Normalization selects how 8-bit channel values are mapped to floats.
type Normalization string

const (
	// NormalizeUnit maps to [0, 1].
	NormalizeUnit Normalization = "unit"
	// NormalizeSigned maps to [-1, 1].
	NormalizeSigned Normalization = "signed"
	// NormalizeImageNet maps to [0, 1] then standardises with the ImageNet mean/std.
	NormalizeImageNet Normalization = "imagenet"
	// NormalizeNone keeps raw [0, 255] values.
	NormalizeNone Normalization = "none"
)

// Channels is the number of colour channels every tensor carries.
const Channels = 3

var (
	imageNetMean = [Channels]float32{0.485, 0.456, 0.406}
	imageNetStd  = [Channels]float32{0.229, 0.224, 0.225}
)

// TargetSpec describes the input a classifier expects.
type TargetSpec struct {
	Width         int
	Height        int
	ChannelOrder  ChannelOrder
	Layout        Layout
	Normalization Normalization
}

// Validate checks that the spec describes a tensor we can produce.
func (s TargetSpec) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("target size must be positive, got %dx%d", s.Width, s.Height)
	}
	switch s.ChannelOrder {
	case RGB, BGR:
	default:
		return fmt.Errorf("unknown channel order %q", s.ChannelOrder)
	}
	switch s.Layout {
	case NCHW, NHWC:
	default:
		return fmt.Errorf("unknown layout %q", s.Layout)
	}
	switch s.Normalization {
	case NormalizeUnit, NormalizeSigned, NormalizeImageNet, NormalizeNone:
	default:
		return fmt.Errorf("unknown normalization %q", s.Normalization)
	}
	return nil
}

// Shape returns the tensor shape including the batch dimension.
func (s TargetSpec) Shape() []int64 {
	if s.Layout == NHWC {
		return []int64{1, int64(s.Height), int64(s.Width), Channels}
	}
	return []int64{1, Channels, int64(s.Height), int64(s.Width)}
}

// Len returns the number of values in a tensor of this spec.
func (s TargetSpec) Len() int {
	return Channels * s.Width * s.Height
}

// normalize maps an 8-bit value of RGB channel c.
func (n Normalization) normalize(v uint8, c int) float32 {
	switch n {
	case NormalizeSigned:
		return float32(v)/127.5 - 1
	case NormalizeImageNet:
		return (float32(v)/255 - imageNetMean[c]) / imageNetStd[c]
	case NormalizeNone:
		return float32(v)
	default:
		return float32(v) / 255
	}
}
