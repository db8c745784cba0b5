package icc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

const (
	jpegMarkerAPP2 = 0xE2
	jpegMarkerSOS  = 0xDA
	jpegMarkerEOI  = 0xD9

	// 65535 minus the length field and the 14 byte ICC_PROFILE header.
	jpegMaxProfileChunk = 65519
)

var jpegProfileTag = []byte("ICC_PROFILE\x00")

type jpegProfileChunk struct {
	seq  int
	data []byte
}

// ExtractJPEG reassembles the profile stored in APP2 ICC_PROFILE segments,
// or returns nil when the stream carries none.
func ExtractJPEG(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, fmt.Errorf("%w: missing jpeg SOI", ErrMalformed)
	}

	var (
		chunks []jpegProfileChunk
		count  int
		total  int
	)
	pos := 2
	for pos+1 < len(data) {
		if data[pos] != 0xFF {
			return nil, fmt.Errorf("%w: expected marker at offset %d", ErrMalformed, pos)
		}
		marker := data[pos+1]
		if marker == 0xFF {
			pos++
			continue
		}
		if marker == jpegMarkerSOS || marker == jpegMarkerEOI {
			break
		}
		if marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7) {
			pos += 2
			continue
		}
		if pos+4 > len(data) {
			return nil, fmt.Errorf("%w: truncated segment header", ErrMalformed)
		}

		length := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		end := pos + 2 + length
		if length < 2 || end > len(data) {
			return nil, fmt.Errorf("%w: truncated segment", ErrMalformed)
		}

		payload := data[pos+4 : end]
		if marker == jpegMarkerAPP2 && len(payload) >= 14 && bytes.HasPrefix(payload, jpegProfileTag) {
			seq, n := int(payload[12]), int(payload[13])
			if count == 0 {
				count = n
			}
			if n != count || seq < 1 || seq > n {
				return nil, fmt.Errorf("%w: inconsistent ICC_PROFILE sequence", ErrMalformed)
			}
			total += len(payload) - 14
			if total > maxProfileSize {
				return nil, ErrProfileTooLarge
			}
			chunks = append(chunks, jpegProfileChunk{seq: seq, data: payload[14:]})
		}
		pos = end
	}

	if len(chunks) == 0 {
		return nil, nil
	}
	if len(chunks) != count {
		return nil, fmt.Errorf("%w: ICC_PROFILE has %d of %d segments", ErrMalformed, len(chunks), count)
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].seq < chunks[j].seq })
	profile := make([]byte, 0, total)
	for i, c := range chunks {
		if c.seq != i+1 {
			return nil, fmt.Errorf("%w: duplicate ICC_PROFILE segment %d", ErrMalformed, c.seq)
		}
		profile = append(profile, c.data...)
	}
	return profile, nil
}

// EmbedJPEG returns a copy of the JPEG stream with profile written as APP2
// ICC_PROFILE segments right after SOI.
func EmbedJPEG(data, profile []byte) ([]byte, error) {
	if len(profile) == 0 {
		return data, nil
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, fmt.Errorf("%w: missing jpeg SOI", ErrMalformed)
	}

	count := (len(profile) + jpegMaxProfileChunk - 1) / jpegMaxProfileChunk
	if count > 255 {
		return nil, ErrProfileTooLarge
	}

	out := make([]byte, 0, len(data)+len(profile)+count*18)
	out = append(out, data[:2]...)
	for i := 0; i < count; i++ {
		chunk := profile[i*jpegMaxProfileChunk : min(len(profile), (i+1)*jpegMaxProfileChunk)]
		out = append(out, 0xFF, jpegMarkerAPP2)
		out = binary.BigEndian.AppendUint16(out, uint16(2+len(jpegProfileTag)+2+len(chunk)))
		out = append(out, jpegProfileTag...)
		out = append(out, byte(i+1), byte(count))
		out = append(out, chunk...)
	}
	out = append(out, data[2:]...)
	return out, nil
}
