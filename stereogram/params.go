// Package stereogram renders single-image random-dot stereograms from depth maps.
//
// A row is reconstructed left to right: the first MinPx columns form a seed
// region that repeats the pattern, and every later column links back to an
// already-resolved column chosen by the local disparity. Rows are independent
// of each other, which is what the dispatcher parallelizes.
package stereogram

import "math"

// Seed perturbs the noise pattern once per frame.
type Seed [3]float64

// Params is an immutable per-frame snapshot of the tunables, already
// converted to pixel units for a given output width.
type Params struct {
	// MinPx is the seed region width and the repeat period of flat regions.
	MinPx int
	// MaxPx is the disparity at depth 1.
	MaxPx int
	// PatternScale divides the source column before noise lookup.
	// Values below 1 are treated as 1.
	PatternScale float64
	// DepthJitter perturbs depth samples with per-frame noise.
	DepthJitter float64
	Seed        Seed
}

// Fractions are the user-facing tunables expressed relative to image width.
type Fractions struct {
	MinDisparity float64 `json:"minDisparity"`
	MaxDisparity float64 `json:"maxDisparity"`
	Separation   float64 `json:"separation"`
	PatternScale float64 `json:"patternScale"`
	DepthJitter  float64 `json:"depthJitter"`
}

// DefaultFractions returns the tunables used by the original demo.
func DefaultFractions() Fractions {
	return Fractions{
		MinDisparity: 0.15,
		MaxDisparity: 0.2,
		Separation:   1,
		PatternScale: 1,
		DepthJitter:  0.02,
	}
}

// ToParams converts fractions to pixel units for the given width. Both
// disparities are clamped to [0, width]; MinPx > MaxPx is passed through.
func (f Fractions) ToParams(width int, seed Seed) Params {
	return Params{
		MinPx:        pixels(f.MinDisparity*f.Separation, width),
		MaxPx:        pixels(f.MaxDisparity*f.Separation, width),
		PatternScale: f.PatternScale,
		DepthJitter:  f.DepthJitter,
		Seed:         seed,
	}
}

func pixels(frac float64, width int) int {
	px := int(math.Floor(float64(width) * frac))
	if px < 0 {
		return 0
	}
	if px > width {
		return width
	}
	return px
}

func (p Params) scale() float64 {
	if p.PatternScale < 1 || math.IsNaN(p.PatternScale) {
		return 1
	}
	return p.PatternScale
}
