//go:build libwebp && cgo

package webpmux

/*
#cgo pkg-config: libwebp libwebpmux
#include <stdlib.h>
#include <webp/encode.h>
#include <webp/mux.h>

static size_t pixelproxy_encode(const uint8_t* pix, int w, int h, int stride,
                                int alpha, int lossless, float quality, uint8_t** out) {
	if (alpha) {
		return lossless ? WebPEncodeLosslessRGBA(pix, w, h, stride, out)
		                : WebPEncodeRGBA(pix, w, h, stride, quality, out);
	}
	return lossless ? WebPEncodeLosslessRGB(pix, w, h, stride, out)
	                : WebPEncodeRGB(pix, w, h, stride, quality, out);
}

static WebPMux* pixelproxy_mux_new(void) {
	return WebPMuxNew();
}

static WebPMuxError pixelproxy_mux_set_image(WebPMux* mux, const uint8_t* data, size_t size) {
	WebPData img;
	img.bytes = data;
	img.size = size;
	return WebPMuxSetImage(mux, &img, 1);
}

static WebPMuxError pixelproxy_mux_set_chunk(WebPMux* mux, const char* fourcc,
                                             const uint8_t* data, size_t size) {
	WebPData chunk;
	chunk.bytes = data;
	chunk.size = size;
	return WebPMuxSetChunk(mux, fourcc, &chunk, 1);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"image"
	"unsafe"
)

// NewEngine returns the system encoder, calling the shared libwebp and
// libwebpmux libraries directly.
func NewEngine() Engine {
	return systemEngine{}
}

type systemEngine struct{}

func (systemEngine) Name() string { return "libwebp" }

func (systemEngine) Encode(img *image.NRGBA, alpha, lossless bool, quality float32) (Buffer, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()

	var (
		pix    []byte
		stride int
	)
	if alpha {
		pix = img.Pix[img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y):]
		stride = img.Stride
	} else {
		pix, stride = packRGB(img), w*3
	}

	var out *C.uint8_t
	size := C.pixelproxy_encode(
		(*C.uint8_t)(unsafe.Pointer(&pix[0])),
		C.int(w), C.int(h), C.int(stride),
		cBool(alpha), cBool(lossless), C.float(quality),
		&out,
	)
	if size == 0 || out == nil {
		if out != nil {
			C.WebPFree(unsafe.Pointer(out))
		}
		return nil, errors.New("libwebp returned no data")
	}
	return &rawBuffer{ptr: out, size: size}, nil
}

func (systemEngine) NewMux() (Mux, error) {
	m := C.pixelproxy_mux_new()
	if m == nil {
		return nil, errors.New("WebPMuxNew returned NULL")
	}
	return &nativeMux{mux: m}, nil
}

func packRGB(img *image.NRGBA) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		row := img.Pix[img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y):]
		for x := 0; x < w; x++ {
			copy(out[(y*w+x)*3:], row[x*4:x*4+3])
		}
	}
	return out
}

func cBool(v bool) C.int {
	if v {
		return 1
	}
	return 0
}

// rawBuffer is a bitstream allocated by libwebp.
type rawBuffer struct {
	ptr  *C.uint8_t
	size C.size_t
}

func (b *rawBuffer) Bytes() []byte {
	return C.GoBytes(unsafe.Pointer(b.ptr), C.int(b.size))
}

func (b *rawBuffer) Free() {
	C.WebPFree(unsafe.Pointer(b.ptr))
	b.ptr = nil
}

// assembledBuffer is container data owned by libwebpmux.
type assembledBuffer struct {
	data C.WebPData
}

func (b *assembledBuffer) Bytes() []byte {
	return C.GoBytes(unsafe.Pointer(b.data.bytes), C.int(b.data.size))
}

func (b *assembledBuffer) Free() {
	C.WebPDataClear(&b.data)
}

type nativeMux struct {
	mux *C.WebPMux
}

func (m *nativeMux) SetImage(bitstream Buffer) error {
	raw, ok := bitstream.(*rawBuffer)
	if !ok {
		return fmt.Errorf("unexpected bitstream buffer %T", bitstream)
	}
	return muxStatus(C.pixelproxy_mux_set_image(m.mux, raw.ptr, raw.size))
}

func (m *nativeMux) SetChunk(fourCC string, data []byte) error {
	if len(fourCC) != 4 || len(data) == 0 {
		return fmt.Errorf("invalid chunk %q", fourCC)
	}
	id := [4]byte{fourCC[0], fourCC[1], fourCC[2], fourCC[3]}
	return muxStatus(C.pixelproxy_mux_set_chunk(
		m.mux,
		(*C.char)(unsafe.Pointer(&id[0])),
		(*C.uint8_t)(unsafe.Pointer(&data[0])),
		C.size_t(len(data)),
	))
}

func (m *nativeMux) Assemble() (Buffer, error) {
	out := &assembledBuffer{}
	C.WebPDataInit(&out.data)
	if err := muxStatus(C.WebPMuxAssemble(m.mux, &out.data)); err != nil {
		C.WebPDataClear(&out.data)
		return nil, err
	}
	return out, nil
}

func (m *nativeMux) Delete() {
	C.WebPMuxDelete(m.mux)
	m.mux = nil
}

func muxStatus(code C.WebPMuxError) error {
	if code == C.WEBP_MUX_OK {
		return nil
	}
	return fmt.Errorf("libwebpmux status %d", int(code))
}
