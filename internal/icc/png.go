package icc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"
)

const pngProfileName = "ICC Profile"

var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

type pngChunk struct {
	typ   string
	data  []byte
	start int
	end   int
}

// walkPNG calls fn for each chunk up to and including the first IDAT.
// Returning false from fn stops the walk.
func walkPNG(data []byte, fn func(c pngChunk) bool) error {
	if !bytes.HasPrefix(data, pngSignature) {
		return fmt.Errorf("%w: missing png signature", ErrMalformed)
	}

	pos := len(pngSignature)
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		typ := string(data[pos+4 : pos+8])
		end := pos + 8 + length + 4
		if length < 0 || end > len(data) {
			return fmt.Errorf("%w: png chunk %q truncated", ErrMalformed, typ)
		}

		c := pngChunk{typ: typ, data: data[pos+8 : pos+8+length], start: pos, end: end}
		if !fn(c) || typ == "IDAT" || typ == "IEND" {
			return nil
		}
		pos = end
	}
	return fmt.Errorf("%w: png stream ended before image data", ErrMalformed)
}

// ExtractPNG returns the profile from the iCCP chunk of a PNG stream, or nil
// when the stream carries none.
func ExtractPNG(data []byte) ([]byte, error) {
	var payload []byte
	err := walkPNG(data, func(c pngChunk) bool {
		if c.typ == "iCCP" {
			payload = c.data
			return false
		}
		return true
	})
	if err != nil || payload == nil {
		return nil, err
	}

	nul := bytes.IndexByte(payload, 0)
	if nul < 1 || nul > 79 || nul+2 > len(payload) {
		return nil, fmt.Errorf("%w: bad iCCP header", ErrMalformed)
	}
	if method := payload[nul+1]; method != 0 {
		return nil, fmt.Errorf("%w: unknown iCCP compression method %d", ErrMalformed, method)
	}

	zr, err := zlib.NewReader(bytes.NewReader(payload[nul+2:]))
	if err != nil {
		return nil, fmt.Errorf("open iCCP stream: %w", err)
	}
	defer zr.Close()

	profile, err := io.ReadAll(io.LimitReader(zr, maxProfileSize+1))
	if err != nil {
		return nil, fmt.Errorf("inflate iCCP stream: %w", err)
	}
	if len(profile) > maxProfileSize {
		return nil, ErrProfileTooLarge
	}
	return profile, nil
}

// EmbedPNG returns a copy of the PNG stream with profile stored in an iCCP
// chunk placed directly after IHDR. Existing iCCP chunks are replaced.
func EmbedPNG(data, profile []byte) ([]byte, error) {
	if len(profile) == 0 {
		return data, nil
	}

	var (
		ihdrEnd = -1
		drop    []pngChunk
	)
	err := walkPNG(data, func(c pngChunk) bool {
		switch c.typ {
		case "IHDR":
			ihdrEnd = c.end
		case "iCCP":
			drop = append(drop, c)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if ihdrEnd < 0 {
		return nil, fmt.Errorf("%w: png has no IHDR", ErrMalformed)
	}

	var body bytes.Buffer
	body.WriteString(pngProfileName)
	body.WriteByte(0)
	body.WriteByte(0)
	zw := zlib.NewWriter(&body)
	if _, err := zw.Write(profile); err != nil {
		return nil, fmt.Errorf("deflate iCCP stream: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("deflate iCCP stream: %w", err)
	}

	out := make([]byte, 0, len(data)+body.Len()+12)
	out = append(out, data[:ihdrEnd]...)
	out = appendPNGChunk(out, "iCCP", body.Bytes())

	pos := ihdrEnd
	for _, c := range drop {
		out = append(out, data[pos:c.start]...)
		pos = c.end
	}
	out = append(out, data[pos:]...)
	return out, nil
}

func appendPNGChunk(dst []byte, typ string, payload []byte) []byte {
	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)))
	copy(header[4:], typ)
	dst = append(dst, header[:]...)
	dst = append(dst, payload...)

	crc := crc32.NewIEEE()
	crc.Write(header[4:])
	crc.Write(payload)
	return binary.BigEndian.AppendUint32(dst, crc.Sum32())
}
