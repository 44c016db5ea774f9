package stereogram

import "math"

// Disparity maps a depth sample in [0,1] to a horizontal shift in columns.
// It performs no validation; out-of-range depth gives out-of-range shifts.
func Disparity(d float64, minPx, maxPx int) float64 {
	return d * float64(maxPx-minPx)
}

// offsetColumns is the integer shift used by the row scan. Non-finite and
// out-of-range samples are clamped to [0, maxPx-minPx+1] so the result
// always converts to int.
func offsetColumns(d float64, minPx, maxPx int) int {
	o := math.Floor(Disparity(d, minPx, maxPx))
	if o < 0 || math.IsNaN(o) {
		return 0
	}
	if hi := float64(max(maxPx-minPx, 0) + 1); o > hi {
		return int(hi)
	}
	return int(o)
}
