package webpmux

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"testing"

	xwebp "golang.org/x/image/webp"
)

// simpleVP8L builds a minimal simple-format file whose VP8L header declares
// w x h. The bitstream past the header is filler.
func simpleVP8L(w, h int) []byte {
	payload := make([]byte, 9)
	payload[0] = 0x2f
	binary.LittleEndian.PutUint32(payload[1:5], uint32(w-1)|uint32(h-1)<<14)

	out := []byte("RIFF")
	out = binary.LittleEndian.AppendUint32(out, uint32(4+8+len(payload)+1))
	out = append(out, "WEBP"...)
	out = append(out, FourCCVP8L...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
	out = append(out, payload...)
	return append(out, 0)
}

func TestContainerMuxWithoutMetadataKeepsSimpleFormat(t *testing.T) {
	m := newContainerMux()
	if err := m.setImage(simpleVP8L(7, 5)); err != nil {
		t.Fatalf("set image: %v", err)
	}

	out, err := m.assemble()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	chunks, err := ParseContainer(out)
	if err != nil {
		t.Fatalf("parse assembled file: %v", err)
	}
	if len(chunks) != 1 || chunks[0].FourCC != FourCCVP8L {
		t.Fatalf("expected a single VP8L chunk, got %+v", chunks)
	}
}

func TestContainerMuxAddsVP8XAndICCP(t *testing.T) {
	m := newContainerMux()
	if err := m.setImage(simpleVP8L(300, 20)); err != nil {
		t.Fatalf("set image: %v", err)
	}
	profile := []byte("odd-length-profile")
	if err := m.setChunk(FourCCICCP, profile); err != nil {
		t.Fatalf("set chunk: %v", err)
	}

	out, err := m.assemble()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if got := int(binary.LittleEndian.Uint32(out[4:8])); got != len(out)-8 {
		t.Fatalf("RIFF size %d does not match file length %d", got, len(out)-8)
	}

	chunks, err := ParseContainer(out)
	if err != nil {
		t.Fatalf("parse assembled file: %v", err)
	}
	if len(chunks) != 3 || chunks[0].FourCC != FourCCVP8X || chunks[1].FourCC != FourCCICCP || chunks[2].FourCC != FourCCVP8L {
		t.Fatalf("unexpected chunk order: %+v", chunks)
	}
	if chunks[0].Data[0]&flagICC == 0 {
		t.Fatal("expected ICC flag in VP8X header")
	}
	if chunks[0].Data[0]&flagAlpha != 0 {
		t.Fatal("alpha flag set without an ALPH chunk")
	}
	w, h, err := vp8xSize(chunks[0].Data)
	if err != nil || w != 300 || h != 20 {
		t.Fatalf("expected canvas 300x20, got %dx%d err=%v", w, h, err)
	}

	got, err := ICCProfile(out)
	if err != nil {
		t.Fatalf("read profile: %v", err)
	}
	if !bytes.Equal(got, profile) {
		t.Fatalf("expected profile %q, got %q", profile, got)
	}
}

func TestContainerMuxRejectsUnknownChunk(t *testing.T) {
	m := newContainerMux()
	if err := m.setChunk(FourCCANIM, []byte{1}); !errors.Is(err, ErrInvalidContainer) {
		t.Fatalf("expected ErrInvalidContainer, got %v", err)
	}
	if _, err := m.assemble(); err == nil {
		t.Fatal("expected assemble without image to fail")
	}
}

func TestParseContainerRejectsTruncatedChunk(t *testing.T) {
	file := simpleVP8L(4, 4)
	if _, err := ParseContainer(file[:len(file)-6]); !errors.Is(err, ErrInvalidContainer) {
		t.Fatalf("expected ErrInvalidContainer, got %v", err)
	}
	if _, err := ParseContainer([]byte("RIFF\x00\x00\x00\x00WAVE")); !errors.Is(err, ErrInvalidContainer) {
		t.Fatalf("expected ErrInvalidContainer for non-webp RIFF, got %v", err)
	}
}

func TestNewEngineProducesDecodableWebP(t *testing.T) {
	engine := NewEngine()
	profile := bytes.Repeat([]byte{0x42, 0x17}, 300)

	cases := []struct {
		name string
		opts Options
	}{
		{"lossy rgb", Options{Quality: 80, ICCProfile: profile}},
		{"lossless rgb", Options{Quality: 100, ICCProfile: profile}},
		{"lossy rgba", Options{Quality: 75, Alpha: true, ICCProfile: profile}},
		{"lossy rgb without profile", Options{Quality: 60}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			img := gradient(24, 16, tc.opts.Alpha)
			out, err := Encode(engine, img, tc.opts)
			if err != nil {
				t.Fatalf("encode with %s engine: %v", engine.Name(), err)
			}

			got, err := ICCProfile(out)
			if err != nil {
				t.Fatalf("read profile: %v", err)
			}
			if !bytes.Equal(got, tc.opts.ICCProfile) {
				t.Fatalf("expected embedded profile of %d bytes, got %d", len(tc.opts.ICCProfile), len(got))
			}

			decoded, err := xwebp.Decode(bytes.NewReader(out))
			if err != nil {
				t.Fatalf("decode assembled webp: %v", err)
			}
			if b := decoded.Bounds(); b.Dx() != 24 || b.Dy() != 16 {
				t.Fatalf("expected 24x16, got %dx%d", b.Dx(), b.Dy())
			}
		})
	}
}

func gradient(w, h int, alpha bool) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(255)
			if alpha && x < w/2 {
				a = 0
			}
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 15), B: 128, A: a})
		}
	}
	return img
}
