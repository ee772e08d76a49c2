package pipeline

import (
	"context"
	"os"
)

// Source yields the bytes of a selected image and the media type the
// picker declared for them (possibly empty).
type Source interface {
	Load(ctx context.Context) ([]byte, string, error)
}

// Bytes is an image already held in memory, e.g. an HTTP upload.
type Bytes struct {
	Data      []byte
	MediaType string
}

func (b Bytes) Load(ctx context.Context) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", &SelectionError{Source: "memory", Err: err}
	}
	return b.Data, b.MediaType, nil
}

// File reads an image from disk. An empty MediaType leaves detection to
// the decoder.
type File struct {
	Path      string
	MediaType string
}

func (f File) Load(ctx context.Context) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", &SelectionError{Source: f.Path, Err: err}
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, "", &SelectionError{Source: f.Path, Err: err}
	}
	return data, f.MediaType, nil
}
