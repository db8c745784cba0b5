// Package webpmux encodes pixel buffers to WebP and assembles the RIFF
// container around the encoded bitstream, including an optional ICC profile
// chunk.
package webpmux

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	FourCCVP8  = "VP8 "
	FourCCVP8L = "VP8L"
	FourCCVP8X = "VP8X"
	FourCCALPH = "ALPH"
	FourCCICCP = "ICCP"
	FourCCANIM = "ANIM"
	FourCCEXIF = "EXIF"
	FourCCXMP  = "XMP "

	chunkHeaderSize = 8
	riffHeaderSize  = 12
	vp8xPayloadSize = 10

	flagAnimation = 1 << 1
	flagXMP       = 1 << 2
	flagEXIF      = 1 << 3
	flagAlpha     = 1 << 4
	flagICC       = 1 << 5
)

var ErrInvalidContainer = errors.New("webp: invalid container")

// Chunk is one RIFF chunk. Data aliases the parsed input.
type Chunk struct {
	FourCC string
	Data   []byte
}

// ParseContainer splits a WebP file into its chunks, validating the RIFF
// header and chunk bounds.
func ParseContainer(data []byte) ([]Chunk, error) {
	if len(data) < riffHeaderSize || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WEBP")) {
		return nil, fmt.Errorf("%w: missing RIFF/WEBP header", ErrInvalidContainer)
	}

	end := len(data)
	if riffSize := int(binary.LittleEndian.Uint32(data[4:8])); riffSize+8 < end {
		end = riffSize + 8
	}

	var chunks []Chunk
	pos := riffHeaderSize
	for pos+chunkHeaderSize <= end {
		fourCC := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		payloadEnd := pos + chunkHeaderSize + size
		if size < 0 || payloadEnd > end {
			return nil, fmt.Errorf("%w: chunk %q truncated", ErrInvalidContainer, fourCC)
		}
		chunks = append(chunks, Chunk{FourCC: fourCC, Data: data[pos+chunkHeaderSize : payloadEnd]})
		pos = payloadEnd + size%2
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks", ErrInvalidContainer)
	}
	return chunks, nil
}

// ICCProfile returns the ICCP chunk payload of an extended-format WebP file,
// or nil when the file carries no profile.
func ICCProfile(data []byte) ([]byte, error) {
	chunks, err := ParseContainer(data)
	if err != nil {
		return nil, err
	}
	if chunks[0].FourCC != FourCCVP8X {
		return nil, nil
	}
	for _, c := range chunks[1:] {
		if c.FourCC == FourCCICCP {
			return bytes.Clone(c.Data), nil
		}
	}
	return nil, nil
}

// vp8Size reads the frame dimensions of a lossy key frame.
func vp8Size(payload []byte) (int, int, error) {
	if len(payload) < 10 || payload[3] != 0x9d || payload[4] != 0x01 || payload[5] != 0x2a {
		return 0, 0, fmt.Errorf("%w: bad VP8 frame header", ErrInvalidContainer)
	}
	w := int(binary.LittleEndian.Uint16(payload[6:8]) & 0x3fff)
	h := int(binary.LittleEndian.Uint16(payload[8:10]) & 0x3fff)
	return w, h, nil
}

// vp8lSize reads the dimensions and alpha hint of a lossless bitstream.
func vp8lSize(payload []byte) (w, h int, alpha bool, err error) {
	if len(payload) < 5 || payload[0] != 0x2f {
		return 0, 0, false, fmt.Errorf("%w: bad VP8L signature", ErrInvalidContainer)
	}
	v := binary.LittleEndian.Uint32(payload[1:5])
	return int(v&0x3fff) + 1, int((v>>14)&0x3fff) + 1, (v>>28)&1 == 1, nil
}

func vp8xSize(payload []byte) (int, int, error) {
	if len(payload) < vp8xPayloadSize {
		return 0, 0, fmt.Errorf("%w: short VP8X chunk", ErrInvalidContainer)
	}
	w := int(payload[4]) | int(payload[5])<<8 | int(payload[6])<<16
	h := int(payload[7]) | int(payload[8])<<8 | int(payload[9])<<16
	return w + 1, h + 1, nil
}
