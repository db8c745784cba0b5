// Package render turns upstream bytes into a cacheable response. It is
// shared by the proxy and the prewarm worker so both produce identical
// entries.
package render

import (
	"github.com/dunamismax/pixelproxy/internal/cache"
	"github.com/dunamismax/pixelproxy/internal/format"
	"github.com/dunamismax/pixelproxy/internal/pipeline"
)

// CacheControl is sent with every successful image response.
const CacheControl = "public, max-age=31536000"

const (
	OutcomePassthrough = "passthrough"
	OutcomeFastPath    = "fast_path"
	OutcomeTranscoded  = "transcoded"
	OutcomeError       = "error"
)

type Output struct {
	Entry   cache.Entry
	Source  format.ImageType
	Target  format.ImageType
	Outcome string
}

// Render detects the format of data and transforms it. SVG is returned
// verbatim. A detection failure wraps pipeline.ErrUnrecognizedFormat.
func Render(t *pipeline.Transformer, data []byte, params pipeline.Params) (Output, error) {
	src, err := pipeline.DetectFormat(data)
	if err != nil {
		return Output{Outcome: OutcomeError}, err
	}

	if src == format.Svg {
		return Output{
			Entry:   entry(data, src),
			Source:  src,
			Target:  src,
			Outcome: OutcomePassthrough,
		}, nil
	}

	result, err := t.Transform(data, src, params)
	if err != nil {
		target := src
		if f, ok := params.Format(); ok {
			target = f
		}
		return Output{Source: src, Target: target, Outcome: OutcomeError}, err
	}

	outcome := OutcomeTranscoded
	if result.FastPath {
		outcome = OutcomeFastPath
	}
	return Output{
		Entry:   entry(result.Data, result.Format),
		Source:  src,
		Target:  result.Format,
		Outcome: outcome,
	}, nil
}

func entry(data []byte, t format.ImageType) cache.Entry {
	return cache.Entry{
		Data:         data,
		ContentType:  t.MIME(),
		CacheControl: CacheControl,
	}
}
