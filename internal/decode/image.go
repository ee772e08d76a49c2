package decode

import "image"

// PixelFormat names the in-memory layout of a decoded bitmap.
type PixelFormat string

const (
	PixelFormatRGBA     PixelFormat = "rgba"
	PixelFormatRGBA64   PixelFormat = "rgba64"
	PixelFormatNRGBA    PixelFormat = "nrgba"
	PixelFormatNRGBA64  PixelFormat = "nrgba64"
	PixelFormatYCbCr    PixelFormat = "ycbcr"
	PixelFormatNYCbCrA  PixelFormat = "nycbcra"
	PixelFormatGray     PixelFormat = "gray"
	PixelFormatGray16   PixelFormat = "gray16"
	PixelFormatCMYK     PixelFormat = "cmyk"
	PixelFormatPaletted PixelFormat = "paletted"
	PixelFormatUnknown  PixelFormat = "unknown"
)

// Image is a decoded in-memory bitmap. The backing representation is
// whatever the codec produced; callers only rely on the dimensions and
// pixel access.
type Image struct {
	pixels      image.Image
	format      string
	pixelFormat PixelFormat
}

// Wrap adapts an already decoded image. No validation is performed.
func Wrap(img image.Image, format string) *Image {
	return &Image{
		pixels:      img,
		format:      format,
		pixelFormat: pixelFormatOf(img),
	}
}

// Width returns the width in pixels.
func (i *Image) Width() int {
	if i == nil || i.pixels == nil {
		return 0
	}
	return i.pixels.Bounds().Dx()
}

// Height returns the height in pixels.
func (i *Image) Height() int {
	if i == nil || i.pixels == nil {
		return 0
	}
	return i.pixels.Bounds().Dy()
}

// Format returns the encoding the image was decoded from (jpeg, png, ...).
func (i *Image) Format() string { return i.format }

// PixelFormat returns the pixel layout of the decoded bitmap.
func (i *Image) PixelFormat() PixelFormat { return i.pixelFormat }

// Pixels returns the underlying bitmap.
func (i *Image) Pixels() image.Image { return i.pixels }

func pixelFormatOf(img image.Image) PixelFormat {
	switch img.(type) {
	case *image.RGBA:
		return PixelFormatRGBA
	case *image.RGBA64:
		return PixelFormatRGBA64
	case *image.NRGBA:
		return PixelFormatNRGBA
	case *image.NRGBA64:
		return PixelFormatNRGBA64
	case *image.YCbCr:
		return PixelFormatYCbCr
	case *image.NYCbCrA:
		return PixelFormatNYCbCrA
	case *image.Gray:
		return PixelFormatGray
	case *image.Gray16:
		return PixelFormatGray16
	case *image.CMYK:
		return PixelFormatCMYK
	case *image.Paletted:
		return PixelFormatPaletted
	default:
		return PixelFormatUnknown
	}
}
