package webpmux

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// containerMux assembles a WebP file in Go from an encoded image and
// optional metadata chunks.
type containerMux struct {
	image  []Chunk
	width  int
	height int
	alpha  bool
	meta   map[string][]byte
}

func newContainerMux() *containerMux {
	return &containerMux{meta: make(map[string][]byte)}
}

// setImage takes the image chunks out of a complete WebP file.
func (m *containerMux) setImage(file []byte) error {
	chunks, err := ParseContainer(file)
	if err != nil {
		return err
	}

	var (
		image    []Chunk
		extended = chunks[0].FourCC == FourCCVP8X
	)
	for _, c := range chunks {
		switch c.FourCC {
		case FourCCALPH, FourCCVP8, FourCCVP8L:
			image = append(image, Chunk{FourCC: c.FourCC, Data: bytes.Clone(c.Data)})
		case FourCCANIM:
			return fmt.Errorf("%w: animated images are not supported", ErrInvalidContainer)
		}
	}
	if len(image) == 0 {
		return fmt.Errorf("%w: no image bitstream", ErrInvalidContainer)
	}

	last := image[len(image)-1]
	switch {
	case extended:
		m.width, m.height, err = vp8xSize(chunks[0].Data)
	case last.FourCC == FourCCVP8:
		m.width, m.height, err = vp8Size(last.Data)
	case last.FourCC == FourCCVP8L:
		m.width, m.height, _, err = vp8lSize(last.Data)
	default:
		err = fmt.Errorf("%w: image chunks out of order", ErrInvalidContainer)
	}
	if err != nil {
		return err
	}

	m.alpha = image[0].FourCC == FourCCALPH
	m.image = image
	return nil
}

func (m *containerMux) setChunk(fourCC string, data []byte) error {
	switch fourCC {
	case FourCCICCP, FourCCEXIF, FourCCXMP:
	default:
		return fmt.Errorf("%w: chunk %q cannot be set", ErrInvalidContainer, fourCC)
	}
	if len(data) == 0 {
		return errors.New("empty chunk payload")
	}
	m.meta[fourCC] = bytes.Clone(data)
	return nil
}

func (m *containerMux) assemble() ([]byte, error) {
	if len(m.image) == 0 {
		return nil, errors.New("no image set")
	}

	var ordered []Chunk
	if len(m.meta) == 0 && !m.alpha {
		ordered = m.image
	} else {
		var flags byte
		// Only ALPH sets the flag. libwebpmux also derives it from the VP8L
		// header, but x/image/webp then expects an ALPH chunk and fails.
		if m.alpha {
			flags |= flagAlpha
		}
		if _, ok := m.meta[FourCCICCP]; ok {
			flags |= flagICC
		}
		if _, ok := m.meta[FourCCEXIF]; ok {
			flags |= flagEXIF
		}
		if _, ok := m.meta[FourCCXMP]; ok {
			flags |= flagXMP
		}

		header := make([]byte, vp8xPayloadSize)
		header[0] = flags
		putUint24(header[4:7], m.width-1)
		putUint24(header[7:10], m.height-1)

		ordered = append(ordered, Chunk{FourCC: FourCCVP8X, Data: header})
		if icc, ok := m.meta[FourCCICCP]; ok {
			ordered = append(ordered, Chunk{FourCC: FourCCICCP, Data: icc})
		}
		ordered = append(ordered, m.image...)
		for _, id := range []string{FourCCEXIF, FourCCXMP} {
			if data, ok := m.meta[id]; ok {
				ordered = append(ordered, Chunk{FourCC: id, Data: data})
			}
		}
	}

	size := 4
	for _, c := range ordered {
		size += chunkHeaderSize + len(c.Data) + len(c.Data)%2
	}

	out := make([]byte, 0, size+8)
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(size))
	out = append(out, "WEBP"...)
	for _, c := range ordered {
		out = append(out, c.FourCC...)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(c.Data)))
		out = append(out, c.Data...)
		if len(c.Data)%2 == 1 {
			out = append(out, 0)
		}
	}
	return out, nil
}

func putUint24(dst []byte, v int) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
}

// goBuffer is a Buffer backed by Go memory.
type goBuffer struct {
	data []byte
}

func (b *goBuffer) Bytes() []byte { return b.data }
func (b *goBuffer) Free()         { b.data = nil }

// goMux adapts containerMux to the Mux interface.
type goMux struct {
	mux *containerMux
}

func (m *goMux) SetImage(bitstream Buffer) error {
	return m.mux.setImage(bitstream.Bytes())
}

func (m *goMux) SetChunk(fourCC string, data []byte) error {
	return m.mux.setChunk(fourCC, data)
}

func (m *goMux) Assemble() (Buffer, error) {
	data, err := m.mux.assemble()
	if err != nil {
		return nil, err
	}
	return &goBuffer{data: data}, nil
}

func (m *goMux) Delete() { m.mux = nil }
