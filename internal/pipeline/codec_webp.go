package pipeline

import (
	"bytes"
	"image"

	"github.com/dunamismax/pixelproxy/internal/webpmux"
	"golang.org/x/image/webp"
)

type webpCodec struct {
	engine webpmux.Engine
}

func (webpCodec) decodeConfig(data []byte) (image.Config, error) {
	if err := checkWebP(data); err != nil {
		return image.Config{}, err
	}
	return webp.DecodeConfig(bytes.NewReader(data))
}

func (webpCodec) decode(data []byte) (image.Image, error) {
	return webp.Decode(bytes.NewReader(data))
}

func (webpCodec) profile(data []byte) ([]byte, error) {
	return webpmux.ICCProfile(data)
}

func (c webpCodec) encode(img *image.NRGBA, alpha bool, quality int, profile []byte) ([]byte, error) {
	return webpmux.Encode(c.engine, img, webpmux.Options{
		Quality:    quality,
		Alpha:      alpha,
		ICCProfile: profile,
	})
}
