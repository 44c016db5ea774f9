package stereogram

import (
	"math"
	"math/rand/v2"
)

// Per-channel seed multipliers. Any large distinct values decorrelate R, G and B.
const (
	redOffset   = 10000
	greenOffset = 20000
	blueOffset  = 30000
)

// Hash is the classic fract(sin(dot(p, k)) * c) shader hash. The result is
// in [0,1) and depends only on its inputs.
func Hash(u, v float64) float64 {
	s := math.Sin(u*12.9898+v*78.233) * 43758.5453
	f := s - math.Floor(s)
	if f >= 1 {
		// tiny negative s rounds up
		return 0
	}
	return f
}

// Color returns the noise color at (u, v) for a frame seed. Only the first
// two seed components feed the 2D hash.
func Color(u, v float64, seed Seed) (r, g, b float64) {
	r = Hash(u+seed[0]*redOffset, v+seed[1]*redOffset)
	g = Hash(u+seed[0]*greenOffset, v+seed[1]*greenOffset)
	b = Hash(u+seed[0]*blueOffset, v+seed[1]*blueOffset)
	return r, g, b
}

// RandomSeed draws a new per-frame seed.
func RandomSeed() Seed {
	return Seed{rand.Float64(), rand.Float64(), rand.Float64()}
}

func toByte(c float64) uint8 {
	v := c * 256
	if v >= 255 {
		return 255
	}
	if v <= 0 {
		return 0
	}
	return uint8(v)
}
