package depth

import (
	"context"
	"image"
)

// LumaEstimator treats frame brightness as depth. It needs no model and is
// the fallback when onnxruntime is not installed.
type LumaEstimator struct {
	// Invert makes dark pixels near.
	Invert bool
}

// Estimate converts frame luma into a depth map.
func (e *LumaEstimator) Estimate(ctx context.Context, frame image.Image) (*Map, error) {
	if frame == nil {
		return nil, ErrNoFrame
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := frame.Bounds()
	m := NewMap(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		row := m.Row(m.Height - 1 - y)
		for x := range row {
			v := luma(frame.At(b.Min.X+x, b.Min.Y+y))
			if e.Invert {
				v = 1 - v
			}
			row[x] = v
		}
	}
	return m, nil
}

// Close is a no-op.
func (e *LumaEstimator) Close() error { return nil }
