// Package decode turns raw image payloads into in-memory bitmaps.
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"strings"

	"github.com/chai2010/webp"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Config holds configuration for the decoder.
type Config struct {
	SupportedFormats []string
	MaxBytes         int64
	// MaxPixels bounds the width*height declared in the image header,
	// checked before any pixel data is decoded.
	MaxPixels int64
}

// DefaultConfig accepts every registered encoding up to 10MB and 40
// megapixels.
func DefaultConfig() Config {
	return Config{
		SupportedFormats: []string{"jpeg", "png", "gif", "bmp", "tiff", "webp"},
		MaxBytes:         10 << 20,
		MaxPixels:        40_000_000,
	}
}

// Decoder converts transferred bytes into an Image. It holds no mutable
// state and is safe for concurrent use.
type Decoder struct {
	config Config
}

// New creates a Decoder with the default configuration.
func New() *Decoder {
	return &Decoder{config: DefaultConfig()}
}

// NewWithConfig creates a Decoder with custom configuration.
func NewWithConfig(config Config) *Decoder {
	return &Decoder{config: config}
}

// Decode decodes data. mediaType is the hint supplied by the picker and may
// be empty; the payload is sniffed either way.
func (d *Decoder) Decode(data []byte, mediaType string) (*Image, error) {
	declared := normalizeMediaType(mediaType)

	if len(data) == 0 {
		return nil, &Error{MediaType: declared, Err: ErrEmpty}
	}
	if d.config.MaxBytes > 0 && int64(len(data)) > d.config.MaxBytes {
		return nil, &Error{MediaType: declared, Err: fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), d.config.MaxBytes)}
	}
	if declared != "" && !acceptsDeclared(declared) {
		return nil, &Error{MediaType: declared, Err: ErrNotImage}
	}

	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return nil, &Error{MediaType: declared, Err: fmt.Errorf("%w: detected %s", ErrNotImage, detected.String())}
	}

	if err := d.checkDimensions(data, detected); err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil && detected.Is("image/webp") {
		if fallback, webpErr := webp.Decode(bytes.NewReader(data)); webpErr == nil {
			img, format, err = fallback, "webp", nil
		}
	}
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, &Error{MediaType: detected.String(), Err: fmt.Errorf("%w: %s", ErrUnsupportedFormat, detected.String())}
		}
		return nil, &Error{MediaType: detected.String(), Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}

	if !d.isFormatSupported(format) {
		return nil, &Error{MediaType: detected.String(), Err: fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)}
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, &Error{MediaType: detected.String(), Err: ErrZeroDimensions}
	}

	return Wrap(img, format), nil
}

// checkDimensions reads only the header. Headers that cannot be parsed are
// left for the full decode to report.
func (d *Decoder) checkDimensions(data []byte, detected *mimetype.MIME) error {
	if d.config.MaxPixels <= 0 {
		return nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	width, height := cfg.Width, cfg.Height
	if err != nil && detected.Is("image/webp") {
		width, height, _, err = webp.GetInfo(data)
	}
	if err != nil {
		return nil
	}

	if pixels := int64(width) * int64(height); pixels > d.config.MaxPixels {
		return &Error{MediaType: detected.String(), Err: fmt.Errorf("%w: %dx%d pixels (max %d)", ErrTooLarge, width, height, d.config.MaxPixels)}
	}
	return nil
}

func (d *Decoder) isFormatSupported(format string) bool {
	for _, supported := range d.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}

func normalizeMediaType(mediaType string) string {
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return strings.ToLower(mediaType)
	}
	return parsed
}

func acceptsDeclared(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/octet-stream"
}
