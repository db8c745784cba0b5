// Package urlcodec decodes the base64 target URL carried in a proxy path.
package urlcodec

import (
	"encoding/base64"
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidEncoding = errors.New("invalid URL encoding")
	ErrInvalidUTF8     = errors.New("encoded URL is not valid UTF-8")
)

// DecodeNonStrict decodes URL-safe unpadded base64, also accepting the
// standard alphabet and trailing padding. Anything from the first '=' on is
// dropped.
func DecodeNonStrict(input string) (string, error) {
	for i := 0; i < len(input); i++ {
		if input[i] >= utf8.RuneSelf {
			return "", ErrInvalidEncoding
		}
	}

	normalized := input
	if strings.ContainsAny(input, "+/=") {
		if i := strings.IndexByte(input, '='); i >= 0 {
			normalized = input[:i]
		}
		normalized = strings.NewReplacer("+", "-", "/", "_").Replace(normalized)
	}
	if normalized == "" {
		normalized = input
	}

	decoded, err := base64.RawURLEncoding.DecodeString(normalized)
	if err != nil {
		return "", ErrInvalidEncoding
	}
	if !utf8.Valid(decoded) {
		return "", ErrInvalidUTF8
	}
	return string(decoded), nil
}

// Encode is the inverse used by clients and tests.
func Encode(target string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(target))
}
