package format

import "bytes"

const svgScanLimit = 100

var (
	pngSignature  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	jpegSignature = []byte{0xFF, 0xD8, 0xFF}
	riffSignature = []byte("RIFF")
	webpSignature = []byte("WEBP")
)

// Detect classifies data by its magic bytes, falling back to a textual SVG
// check. ok is false when the content is not a supported image.
func Detect(data []byte) (t ImageType, ok bool) {
	if len(data) < 4 {
		return Unknown, false
	}

	switch {
	case bytes.HasPrefix(data, pngSignature):
		return Png, true
	case bytes.HasPrefix(data, jpegSignature):
		return Jpeg, true
	case len(data) >= 12 && bytes.HasPrefix(data, riffSignature) && bytes.Equal(data[8:12], webpSignature):
		return WebP, true
	}

	if looksLikeSVG(data) {
		return Svg, true
	}
	return Unknown, false
}

// looksLikeSVG skips one run of leading ASCII whitespace inside the first
// svgScanLimit bytes and checks for an XML declaration or an svg root tag.
func looksLikeSVG(data []byte) bool {
	if len(data) > svgScanLimit {
		data = data[:svgScanLimit]
	}

	i := 0
	for i < len(data) && isASCIISpace(data[i]) {
		i++
	}
	rest := data[i:]
	return bytes.HasPrefix(rest, []byte("<?xml")) || bytes.HasPrefix(rest, []byte("<svg"))
}

// isASCIISpace matches the ASCII whitespace set: space, tab, LF, FF, CR.
func isASCIISpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\f', '\r':
		return true
	}
	return false
}
