package webpmux

import (
	"fmt"
	"image"
)

// Options controls a single encode. Quality at or above 100 selects the
// lossless encoder.
type Options struct {
	Quality    int
	Alpha      bool
	ICCProfile []byte
}

// scope owns every handle acquired during one Encode call.
type scope struct {
	raw Buffer
	mux Mux
	out Buffer
}

func (s *scope) release() {
	if s.out != nil {
		s.out.Free()
		s.out = nil
	}
	if s.mux != nil {
		s.mux.Delete()
		s.mux = nil
	}
	if s.raw != nil {
		s.raw.Free()
		s.raw = nil
	}
}

// Encode encodes img with e and wraps the bitstream in a container carrying
// opts.ICCProfile when set. Alpha selects the RGBA routine, otherwise the RGB
// one.
func Encode(e Engine, img *image.NRGBA, opts Options) ([]byte, error) {
	if img == nil || img.Rect.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrEncode)
	}

	var s scope
	defer s.release()

	lossless := opts.Quality >= 100
	raw, err := e.Encode(img, opts.Alpha, lossless, float32(min(opts.Quality, 100)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	s.raw = raw

	mux, err := e.NewMux()
	if err != nil {
		return nil, &NativeError{Stage: StageMuxNew, Err: err}
	}
	s.mux = mux

	if err := s.mux.SetImage(s.raw); err != nil {
		return nil, &NativeError{Stage: StageSetImage, Err: err}
	}

	if len(opts.ICCProfile) > 0 {
		if err := s.mux.SetChunk(FourCCICCP, opts.ICCProfile); err != nil {
			return nil, &NativeError{Stage: StageSetICC, Err: err}
		}
	}

	out, err := s.mux.Assemble()
	if err != nil {
		return nil, &NativeError{Stage: StageAssemble, Err: err}
	}
	s.out = out

	return s.out.Bytes(), nil
}
