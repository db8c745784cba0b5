//go:build !libwebp

package webpmux

import (
	"errors"
	"image"

	"github.com/chai2010/webp"
)

// NewEngine returns the bundled encoder: libwebp compiled in through
// chai2010/webp, with the container assembled in Go.
func NewEngine() Engine {
	return bundledEngine{}
}

type bundledEngine struct{}

func (bundledEngine) Name() string { return "bundled" }

func (bundledEngine) Encode(img *image.NRGBA, alpha, lossless bool, quality float32) (Buffer, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case alpha && lossless:
		data, err = webp.EncodeLosslessRGBA(img)
	case alpha:
		data, err = webp.EncodeRGBA(img, quality)
	case lossless:
		data, err = webp.EncodeLosslessRGB(img)
	default:
		data, err = webp.EncodeRGB(img, quality)
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("encoder returned no data")
	}
	return &goBuffer{data: data}, nil
}

func (bundledEngine) NewMux() (Mux, error) {
	return &goMux{mux: newContainerMux()}, nil
}
