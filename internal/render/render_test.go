package render

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/dunamismax/pixelproxy/internal/format"
	"github.com/dunamismax/pixelproxy/internal/pipeline"
)

func TestRender(t *testing.T) {
	t.Parallel()

	transformer := pipeline.NewTransformer()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 20, 10))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	source := buf.Bytes()

	t.Run("fast path", func(t *testing.T) {
		out, err := Render(transformer, source, pipeline.NewParams())
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if out.Outcome != OutcomeFastPath || !bytes.Equal(out.Entry.Data, source) {
			t.Fatalf("outcome = %s", out.Outcome)
		}
		if out.Entry.ContentType != "image/png" || out.Entry.CacheControl != CacheControl {
			t.Fatalf("entry headers = %q %q", out.Entry.ContentType, out.Entry.CacheControl)
		}
	})

	t.Run("transcoded", func(t *testing.T) {
		out, err := Render(transformer, source, pipeline.NewParams(pipeline.WithFormat(format.Jpeg)))
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if out.Outcome != OutcomeTranscoded || out.Target != format.Jpeg || out.Entry.ContentType != "image/jpeg" {
			t.Fatalf("output = %+v", out)
		}
	})

	t.Run("svg passthrough", func(t *testing.T) {
		svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg"/>`)
		out, err := Render(transformer, svg, pipeline.NewParams(pipeline.WithFormat(format.WebP)))
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if out.Outcome != OutcomePassthrough || out.Entry.ContentType != "image/svg+xml" || !bytes.Equal(out.Entry.Data, svg) {
			t.Fatalf("output = %+v", out)
		}
	})

	t.Run("unknown bytes", func(t *testing.T) {
		_, err := Render(transformer, []byte("GIF89a......"), pipeline.NewParams())
		if !errors.Is(err, pipeline.ErrUnrecognizedFormat) {
			t.Fatalf("error = %v", err)
		}
	})
}
