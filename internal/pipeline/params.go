package pipeline

import (
	"fmt"

	"github.com/dunamismax/pixelproxy/internal/format"
)

const (
	DefaultQuality = 85
	MaxQuality     = 100
	MaxDimension   = 4096
)

// Params is a transformation request. Its fields are bounded on
// construction and never re-validated downstream.
type Params struct {
	quality   int
	maxWidth  int
	maxHeight int
	format    format.ImageType
	hasFormat bool
}

type ParamOption func(*Params)

// WithQuality sets the encoder quality, clamped to 0..100.
func WithQuality(q int) ParamOption {
	return func(p *Params) {
		p.quality = min(max(q, 0), MaxQuality)
	}
}

// WithMaxWidth bounds the output width. Non-positive values keep the
// default; larger values saturate at MaxDimension.
func WithMaxWidth(w int) ParamOption {
	return func(p *Params) {
		if w > 0 {
			p.maxWidth = min(w, MaxDimension)
		}
	}
}

// WithMaxHeight bounds the output height like WithMaxWidth.
func WithMaxHeight(h int) ParamOption {
	return func(p *Params) {
		if h > 0 {
			p.maxHeight = min(h, MaxDimension)
		}
	}
}

// WithFormat declares the target format. Any ImageType is accepted here;
// Transform rejects targets outside png, jpeg and webp.
func WithFormat(t format.ImageType) ParamOption {
	return func(p *Params) {
		p.format = t
		p.hasFormat = true
	}
}

func NewParams(opts ...ParamOption) Params {
	p := Params{
		quality:   DefaultQuality,
		maxWidth:  MaxDimension,
		maxHeight: MaxDimension,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func (p Params) Quality() int   { return p.quality }
func (p Params) MaxWidth() int  { return p.maxWidth }
func (p Params) MaxHeight() int { return p.maxHeight }

// Format returns the declared target format, if any.
func (p Params) Format() (format.ImageType, bool) {
	return p.format, p.hasFormat
}

// Canonical renders the effective parameters in a stable form, suitable
// for cache keys.
func (p Params) Canonical() string {
	f := "source"
	if p.hasFormat {
		f = p.format.String()
	}
	return fmt.Sprintf("q=%d&w=%d&h=%d&f=%s", p.quality, p.maxWidth, p.maxHeight, f)
}
