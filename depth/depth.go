// Package depth produces per-frame depth maps for the stereogram renderer.
//
// Samples are float32 in [0,1], 1 being nearest. Rows follow the texture
// convention: row 0 is the bottom of the frame.
package depth

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

var (
	// ErrUnavailable means the estimator backend could not be initialized.
	ErrUnavailable = errors.New("depth estimator unavailable")
	// ErrNoFrame is returned by estimators that need a camera frame and got none.
	ErrNoFrame = errors.New("depth: no input frame")
)

// Estimator turns a camera frame into a depth map. Implementations may be
// slow; callers run them off the render path.
type Estimator interface {
	Estimate(ctx context.Context, frame image.Image) (*Map, error)
	Close() error
}

// Map is a width x height grid of depth samples.
type Map struct {
	Width  int
	Height int
	Pix    []float32
}

// NewMap returns a zero (farthest) depth map.
func NewMap(w, h int) *Map {
	return &Map{Width: w, Height: h, Pix: make([]float32, w*h)}
}

// Size returns the map dimensions.
func (m *Map) Size() (int, int) { return m.Width, m.Height }

// Row returns the samples of row y, row 0 being the bottom of the frame.
func (m *Map) Row(y int) []float32 {
	return m.Pix[y*m.Width : (y+1)*m.Width]
}

// At returns the sample at (x, y) in texture coordinates.
func (m *Map) At(x, y int) float32 { return m.Pix[y*m.Width+x] }

// FromGray converts a top-down grayscale image into a map, flipping rows
// into texture order.
func FromGray(g *image.Gray) *Map {
	b := g.Bounds()
	m := NewMap(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		src := g.Pix[y*g.Stride : y*g.Stride+m.Width]
		dst := m.Row(m.Height - 1 - y)
		for x, v := range src {
			dst[x] = float32(v) / 255
		}
	}
	return m
}

// FromImage reads depth from the first channel of any image, the way a
// depth texture is sampled.
func FromImage(img image.Image) *Map {
	if g, ok := img.(*image.Gray); ok {
		return FromGray(g)
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			g.Pix[y*g.Stride+x] = uint8(r >> 8)
		}
	}
	return FromGray(g)
}

// Gray renders the map back into a top-down grayscale image.
func (m *Map) Gray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		src := m.Row(m.Height - 1 - y)
		dst := g.Pix[y*g.Stride : y*g.Stride+m.Width]
		for x, v := range src {
			dst[x] = quantize(v)
		}
	}
	return g
}

// Resize scales the map to w x h with bilinear filtering. A map already at
// the requested size is returned as is.
func (m *Map) Resize(w, h int) *Map {
	if m.Width == w && m.Height == h {
		return m
	}
	if m.Width == 0 || m.Height == 0 || w == 0 || h == 0 {
		return NewMap(w, h)
	}
	src := m.Gray()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return FromGray(dst)
}

// Normalize stretches the samples to the full [0,1] range in place. A flat
// map becomes all zeros.
func (m *Map) Normalize() {
	if len(m.Pix) == 0 {
		return
	}
	lo, hi := m.Pix[0], m.Pix[0]
	for _, v := range m.Pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	den := hi - lo
	if den < 1e-6 {
		clear(m.Pix)
		return
	}
	for i, v := range m.Pix {
		m.Pix[i] = (v - lo) / den
	}
}

func quantize(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// luma returns the Rec. 601 luma of c scaled to [0,1].
func luma(c color.Color) float32 {
	r, g, b, _ := c.RGBA()
	return float32(0.299*float64(r)+0.587*float64(g)+0.114*float64(b)) / 65535
}
