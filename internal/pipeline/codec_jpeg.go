package pipeline

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/dunamismax/pixelproxy/internal/icc"
)

type jpegCodec struct{}

func (jpegCodec) decodeConfig(data []byte) (image.Config, error) {
	if err := checkJPEG(data); err != nil {
		return image.Config{}, err
	}
	return jpeg.DecodeConfig(bytes.NewReader(data))
}

func (jpegCodec) decode(data []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(data))
}

func (jpegCodec) profile(data []byte) ([]byte, error) {
	return icc.ExtractJPEG(data)
}

func (jpegCodec) encode(img *image.NRGBA, _ bool, quality int, profile []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(img.Pix) / 8)
	// The jpeg encoder works on a 1..100 scale.
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: max(quality, 1)}); err != nil {
		return nil, err
	}
	return icc.EmbedJPEG(buf.Bytes(), profile)
}
