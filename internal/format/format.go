// Package format identifies the image formats the proxy understands.
package format

import "strings"

// ImageType is the closed set of formats the proxy recognizes.
type ImageType int

const (
	Unknown ImageType = iota
	Png
	Jpeg
	WebP
	Svg
)

// MIME returns the content type served for t. Unknown maps to a generic
// binary type.
func (t ImageType) MIME() string {
	switch t {
	case Png:
		return "image/png"
	case Jpeg:
		return "image/jpeg"
	case WebP:
		return "image/webp"
	case Svg:
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

func (t ImageType) String() string {
	switch t {
	case Png:
		return "png"
	case Jpeg:
		return "jpeg"
	case WebP:
		return "webp"
	case Svg:
		return "svg"
	default:
		return "unknown"
	}
}

// Raster reports whether t is one of the formats the pipeline can decode and
// encode.
func (t ImageType) Raster() bool {
	return t == Png || t == Jpeg || t == WebP
}

// Parse maps a short format name, as used in query strings and CLI flags, to
// an ImageType. Unrecognized names yield Unknown.
func Parse(name string) ImageType {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "png":
		return Png
	case "jpg", "jpeg":
		return Jpeg
	case "webp":
		return WebP
	case "svg":
		return Svg
	default:
		return Unknown
	}
}
