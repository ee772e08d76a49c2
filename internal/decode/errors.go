package decode

import (
	"errors"
	"fmt"
)

var (
	ErrEmpty             = errors.New("empty image payload")
	ErrTooLarge          = errors.New("image payload too large")
	ErrNotImage          = errors.New("payload is not an image")
	ErrUnsupportedFormat = errors.New("unsupported image encoding")
	ErrMalformed         = errors.New("malformed image data")
	ErrZeroDimensions    = errors.New("image has zero width or height")
)

// Error reports why a payload could not be turned into an Image.
type Error struct {
	MediaType string
	Err       error
}

func (e *Error) Error() string {
	if e.MediaType != "" {
		return fmt.Sprintf("decode image (%s): %v", e.MediaType, e.Err)
	}
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
