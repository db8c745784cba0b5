package pipeline

import (
	"image"

	"github.com/dunamismax/pixelproxy/internal/format"
	"github.com/dunamismax/pixelproxy/internal/webpmux"
)

// codec decodes and encodes one raster format.
type codec interface {
	decodeConfig(data []byte) (image.Config, error)
	decode(data []byte) (image.Image, error)
	profile(data []byte) ([]byte, error)
	encode(img *image.NRGBA, alpha bool, quality int, profile []byte) ([]byte, error)
}

// codecFor is the only place a format is mapped to a codec. Formats
// without a case are rejected.
func codecFor(t format.ImageType, engine webpmux.Engine) (codec, bool) {
	switch t {
	case format.Png:
		return pngCodec{}, true
	case format.Jpeg:
		return jpegCodec{}, true
	case format.WebP:
		return webpCodec{engine: engine}, true
	case format.Svg, format.Unknown:
		return nil, false
	default:
		return nil, false
	}
}

// hasAlpha reports whether img carries any transparency.
func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}
