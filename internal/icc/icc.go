// Package icc reads and writes embedded ICC color profiles in PNG and JPEG
// streams. WebP profiles live in the container and are handled by webpmux.
package icc

import "errors"

// maxProfileSize bounds decompressed and reassembled profiles.
const maxProfileSize = 16 << 20

var (
	ErrMalformed       = errors.New("icc: malformed container")
	ErrProfileTooLarge = errors.New("icc: profile too large")
)
