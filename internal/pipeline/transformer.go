package pipeline

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelproxy/internal/format"
	"github.com/dunamismax/pixelproxy/internal/webpmux"
)

// Result is the output of one Transform call. On the fast path Data is the
// input slice itself.
type Result struct {
	Data     []byte
	Format   format.ImageType
	Width    int
	Height   int
	FastPath bool
}

// Transformer runs the decode, resize and encode pipeline. It holds no
// per-call state and is safe for concurrent use.
type Transformer struct {
	webp   webpmux.Engine
	filter imaging.ResampleFilter
}

type TransformerOption func(*Transformer)

// WithWebPEngine replaces the WebP encoder backend.
func WithWebPEngine(e webpmux.Engine) TransformerOption {
	return func(t *Transformer) {
		t.webp = e
	}
}

func NewTransformer(opts ...TransformerOption) *Transformer {
	t := &Transformer{
		webp:   webpmux.NewEngine(),
		filter: imaging.Linear,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Engine names the WebP backend in use.
func (t *Transformer) Engine() string {
	return t.webp.Name()
}

// DetectFormat classifies data, returning ErrUnrecognizedFormat when no
// supported format matches.
func DetectFormat(data []byte) (format.ImageType, error) {
	t, ok := format.Detect(data)
	if !ok {
		return format.Unknown, ErrUnrecognizedFormat
	}
	return t, nil
}

// Transform converts data, already known to be in src format, according to
// params. When neither the dimensions nor the format change, data is
// returned untouched without a full decode.
func (t *Transformer) Transform(data []byte, src format.ImageType, params Params) (Result, error) {
	dst := src
	if target, ok := params.Format(); ok {
		if !target.Raster() {
			return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedTargetFormat, target)
		}
		dst = target
	}

	decoder, ok := codecFor(src, t.webp)
	if !ok {
		return Result{}, &DecodeError{Format: src, Err: ErrUnsupportedSourceFormat}
	}

	cfg, err := decoder.decodeConfig(data)
	if err != nil {
		return Result{}, &DecodeError{Format: src, Err: err}
	}

	width, height := Plan(cfg.Width, cfg.Height, params.MaxWidth(), params.MaxHeight())
	if width == cfg.Width && height == cfg.Height && dst == src {
		return Result{Data: data, Format: src, Width: width, Height: height, FastPath: true}, nil
	}

	// A damaged profile only costs the output its color metadata.
	profile, err := decoder.profile(data)
	if err != nil {
		profile = nil
	}

	img, err := decoder.decode(data)
	if err != nil {
		return Result{}, &DecodeError{Format: src, Err: err}
	}

	alpha := hasAlpha(img)
	pixels := t.resize(img, width, height)

	encoder, _ := codecFor(dst, t.webp)
	out, err := encoder.encode(pixels, alpha, params.Quality(), profile)
	if err != nil {
		var nerr *NativeResourceError
		if errors.As(err, &nerr) {
			return Result{}, err
		}
		return Result{}, &EncodeError{Format: dst, Err: err}
	}

	return Result{Data: out, Format: dst, Width: width, Height: height}, nil
}

func (t *Transformer) resize(img image.Image, width, height int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, width, height, t.filter)
}
