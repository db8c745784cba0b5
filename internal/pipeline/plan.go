package pipeline

import "math"

// Plan returns the output dimensions for a width x height source bounded by
// maxWidth x maxHeight. Images inside the bounds keep their size; larger
// ones are scaled down by a single ratio so the aspect ratio holds up to
// rounding. Halves round away from zero and no side drops below 1.
func Plan(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= maxWidth && height <= maxHeight {
		return width, height
	}

	ratio := math.Min(
		float64(maxWidth)/float64(width),
		float64(maxHeight)/float64(height),
	)
	newWidth := int(math.Round(float64(width) * ratio))
	newHeight := int(math.Round(float64(height) * ratio))
	return max(1, newWidth), max(1, newHeight)
}
