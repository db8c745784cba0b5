package pipeline

import (
	"errors"
	"fmt"

	"github.com/dunamismax/pixelproxy/internal/format"
	"github.com/dunamismax/pixelproxy/internal/webpmux"
)

var (
	ErrUnrecognizedFormat      = errors.New("unrecognized image format")
	ErrUnsupportedTargetFormat = errors.New("unsupported target format")
	ErrUnsupportedSourceFormat = errors.New("unsupported source format")
)

// NativeResourceError reports a failed WebP mux step. Resources acquired
// before the failure are already released.
type NativeResourceError = webpmux.NativeError

// DecodeError reports source bytes that are malformed for their format.
type DecodeError struct {
	Format format.ImageType
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports an encoder rejecting the pixel buffer or parameters.
type EncodeError struct {
	Format format.ImageType
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Format, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
