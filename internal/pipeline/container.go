package pipeline

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/dunamismax/pixelproxy/internal/webpmux"
)

var errMalformedContainer = errors.New("malformed container")

var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// checkPNG walks every chunk through IEND, verifying bounds and CRCs. The
// header alone is not enough to return the source untouched.
func checkPNG(data []byte) error {
	if !bytes.HasPrefix(data, pngSignature) {
		return fmt.Errorf("%w: missing png signature", errMalformedContainer)
	}

	pos := len(pngSignature)
	seenIDAT := false
	for first := true; ; first = false {
		if pos+8 > len(data) {
			return fmt.Errorf("%w: png stream ended before IEND", errMalformedContainer)
		}
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		typ := string(data[pos+4 : pos+8])
		end := pos + 8 + length + 4
		if length < 0 || end > len(data) {
			return fmt.Errorf("%w: png chunk %q truncated", errMalformedContainer, typ)
		}
		if first && typ != "IHDR" {
			return fmt.Errorf("%w: png does not start with IHDR", errMalformedContainer)
		}
		if crc32.ChecksumIEEE(data[pos+4:end-4]) != binary.BigEndian.Uint32(data[end-4:end]) {
			return fmt.Errorf("%w: png chunk %q checksum mismatch", errMalformedContainer, typ)
		}

		switch typ {
		case "IDAT":
			seenIDAT = true
		case "IEND":
			if !seenIDAT {
				return fmt.Errorf("%w: png has no image data", errMalformedContainer)
			}
			return nil
		}
		pos = end
	}
}

// checkJPEG requires a frame header before the first scan and an EOI after
// it. Entropy-coded data stuffs 0xFF bytes, so FF D9 only occurs as EOI.
func checkJPEG(data []byte) error {
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return fmt.Errorf("%w: missing jpeg SOI", errMalformedContainer)
	}

	seenSOF := false
	pos := 2
	for {
		if pos+1 >= len(data) {
			return fmt.Errorf("%w: jpeg stream ended before scan data", errMalformedContainer)
		}
		if data[pos] != 0xFF {
			return fmt.Errorf("%w: expected marker at offset %d", errMalformedContainer, pos)
		}
		marker := data[pos+1]
		switch {
		case marker == 0xFF:
			pos++
			continue
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			pos += 2
			continue
		case marker == 0xD9:
			return fmt.Errorf("%w: jpeg ended before scan data", errMalformedContainer)
		}

		if pos+4 > len(data) {
			return fmt.Errorf("%w: truncated jpeg segment header", errMalformedContainer)
		}
		end := pos + 2 + int(binary.BigEndian.Uint16(data[pos+2:pos+4]))
		if end < pos+4 || end > len(data) {
			return fmt.Errorf("%w: truncated jpeg segment", errMalformedContainer)
		}

		if isJPEGFrameMarker(marker) {
			seenSOF = true
		}
		if marker == 0xDA {
			if !seenSOF {
				return fmt.Errorf("%w: jpeg scan without frame header", errMalformedContainer)
			}
			if !bytes.Contains(data[end:], []byte{0xFF, 0xD9}) {
				return fmt.Errorf("%w: jpeg scan data truncated", errMalformedContainer)
			}
			return nil
		}
		pos = end
	}
}

// SOF0..SOF15 except DHT (C4), JPG (C8) and DAC (CC).
func isJPEGFrameMarker(marker byte) bool {
	return marker >= 0xC0 && marker <= 0xCF && marker != 0xC4 && marker != 0xC8 && marker != 0xCC
}

// checkWebP validates the RIFF size and chunk bounds and requires a
// bitstream chunk.
func checkWebP(data []byte) error {
	chunks, err := webpmux.ParseContainer(data)
	if err != nil {
		return err
	}
	if riffSize := int(binary.LittleEndian.Uint32(data[4:8])); riffSize+8 > len(data) {
		return fmt.Errorf("%w: webp riff size %d exceeds %d bytes", errMalformedContainer, riffSize, len(data)-8)
	}
	for _, c := range chunks {
		switch c.FourCC {
		case webpmux.FourCCVP8, webpmux.FourCCVP8L, webpmux.FourCCANIM:
			return nil
		}
	}
	return fmt.Errorf("%w: webp has no image data", errMalformedContainer)
}
