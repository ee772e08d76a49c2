// Package preprocess converts decoded images into classifier input tensors.
//
// The resize policy is fixed: the image is scaled with bilinear
// interpolation so that it covers the target rectangle (aspect fill, sizes
// rounded up), then the centered target rectangle is cut out. Alpha is
// dropped and straight (non-premultiplied) colour is used.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	"github.com/Brownie44l1/pet-classifier/internal/decode"
)

var (
	ErrZeroArea               = errors.New("image has zero area")
	ErrUnsupportedPixelFormat = errors.New("unsupported pixel format")
	ErrInvalidSpec            = errors.New("invalid target spec")
	ErrShape                  = errors.New("fitted image does not match target size")
)

// Error reports why a decoded image could not be turned into a Buffer.
type Error struct {
	Err error
}

func (e *Error) Error() string { return "preprocess image: " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Buffer is a model-ready tensor.
type Buffer struct {
	Data   []float32
	Shape  []int64
	Layout Layout
}

// Preprocessor resizes, crops and normalises images. It is stateless and
// safe for concurrent use.
type Preprocessor struct {
	interp resize.InterpolationFunction
}

// New creates a Preprocessor using the fixed bilinear policy.
func New() *Preprocessor {
	return &Preprocessor{interp: resize.Bilinear}
}

// Prepare converts img into a tensor matching spec exactly.
func (p *Preprocessor) Prepare(img *decode.Image, spec TargetSpec) (*Buffer, error) {
	if err := spec.Validate(); err != nil {
		return nil, &Error{Err: fmt.Errorf("%w: %v", ErrInvalidSpec, err)}
	}
	if img == nil || img.Pixels() == nil || img.Width() <= 0 || img.Height() <= 0 {
		return nil, &Error{Err: ErrZeroArea}
	}
	if img.PixelFormat() == decode.PixelFormatUnknown {
		return nil, &Error{Err: ErrUnsupportedPixelFormat}
	}

	fitted := p.fill(img.Pixels(), spec.Width, spec.Height)
	if b := fitted.Bounds(); b.Dx() != spec.Width || b.Dy() != spec.Height {
		return nil, &Error{Err: fmt.Errorf("%w: got %dx%d, want %dx%d", ErrShape, b.Dx(), b.Dy(), spec.Width, spec.Height)}
	}

	return &Buffer{
		Data:   toTensor(fitted, spec),
		Shape:  spec.Shape(),
		Layout: spec.Layout,
	}, nil
}

// fill scales src to cover width x height and crops the center.
func (p *Preprocessor) fill(src image.Image, width, height int) *image.NRGBA {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	scale := math.Max(float64(width)/float64(w), float64(height)/float64(h))
	scaledW := max(width, int(math.Ceil(float64(w)*scale-1e-9)))
	scaledH := max(height, int(math.Ceil(float64(h)*scale-1e-9)))

	scaled := src
	if scaledW != w || scaledH != h {
		scaled = resize.Resize(uint(scaledW), uint(scaledH), src, p.interp)
	}
	return imaging.CropCenter(scaled, width, height)
}

func toTensor(img *image.NRGBA, spec TargetSpec) []float32 {
	out := make([]float32, spec.Len())
	plane := spec.Width * spec.Height

	order := [Channels]int{0, 1, 2}
	if spec.ChannelOrder == BGR {
		order = [Channels]int{2, 1, 0}
	}

	for y := 0; y < spec.Height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < spec.Width; x++ {
			px := row[x*4 : x*4+3]
			pixel := y*spec.Width + x
			for c, src := range order {
				v := spec.Normalization.normalize(px[src], src)
				if spec.Layout == NHWC {
					out[pixel*Channels+c] = v
				} else {
					out[c*plane+pixel] = v
				}
			}
		}
	}
	return out
}
