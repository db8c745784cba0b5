package webpmux

import (
	"errors"
	"fmt"
	"image"
)

// ErrEncode marks failures of the raw pixel encode step.
var ErrEncode = errors.New("webp: encode failed")

// Stage names a step of the mux sequence that acquires or uses a native
// resource.
type Stage string

const (
	StageMuxNew   Stage = "mux_new"
	StageSetImage Stage = "set_image"
	StageSetICC   Stage = "set_icc"
	StageAssemble Stage = "assemble"
)

// NativeError reports a failed mux step. Every resource acquired before the
// failure has already been released when it is returned.
type NativeError struct {
	Stage Stage
	Err   error
}

func (e *NativeError) Error() string {
	return fmt.Sprintf("webp %s: %v", e.Stage, e.Err)
}

func (e *NativeError) Unwrap() error {
	return e.Err
}

// Buffer is encoder-owned memory. Free must be called exactly once. The
// slice returned by Bytes stays valid after Free.
type Buffer interface {
	Bytes() []byte
	Free()
}

// Mux builds a WebP container. Delete must be called exactly once.
type Mux interface {
	SetImage(bitstream Buffer) error
	SetChunk(fourCC string, data []byte) error
	Assemble() (Buffer, error)
	Delete()
}

// Engine is a WebP encoder backend. On error, Encode and NewMux must not
// leave anything allocated.
type Engine interface {
	Name() string
	Encode(img *image.NRGBA, alpha, lossless bool, quality float32) (Buffer, error)
	NewMux() (Mux, error)
}
