package pipeline

import (
	"bytes"
	"image"
	"image/png"

	"github.com/dunamismax/pixelproxy/internal/icc"
)

type pngCodec struct{}

func (pngCodec) decodeConfig(data []byte) (image.Config, error) {
	if err := checkPNG(data); err != nil {
		return image.Config{}, err
	}
	return png.DecodeConfig(bytes.NewReader(data))
}

func (pngCodec) decode(data []byte) (image.Image, error) {
	return png.Decode(bytes.NewReader(data))
}

func (pngCodec) profile(data []byte) ([]byte, error) {
	return icc.ExtractPNG(data)
}

// encode is lossless; quality and alpha are implied by the pixels.
func (pngCodec) encode(img *image.NRGBA, _ bool, _ int, profile []byte) ([]byte, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, err
	}
	return icc.EmbedPNG(buf.Bytes(), profile)
}
