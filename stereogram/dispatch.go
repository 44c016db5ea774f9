package stereogram

import (
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
)

// ErrSizeMismatch is returned when the output image does not match the depth map.
var ErrSizeMismatch = errors.New("stereogram: output size does not match depth size")

// Depth is a read-only depth image. Row 0 is the bottom of the frame.
type Depth interface {
	Size() (width, height int)
	// Row returns the samples of row y, len == width. Callers must not modify it.
	Row(y int) []float32
}

// rowScratch is the per-band working memory: the link buffer and a
// jittered copy of the depth row.
type rowScratch struct {
	links []int
	depth []float32
}

func (s *rowScratch) ensure(width int) {
	if cap(s.links) < width {
		s.links = make([]int, width)
		s.depth = make([]float32, width)
	}
	s.links = s.links[:width]
	s.depth = s.depth[:width]
}

// Dispatcher runs the row reconstructor over a whole image. Rows are split
// into contiguous bands, one goroutine per band; columns inside a row are
// always scanned sequentially.
type Dispatcher struct {
	workers int
	pool    sync.Pool
}

// NewDispatcher returns a dispatcher with the given number of row workers.
// workers <= 0 selects runtime.GOMAXPROCS(0).
func NewDispatcher(workers int) *Dispatcher {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	d := &Dispatcher{workers: workers}
	d.pool.New = func() any { return new(rowScratch) }
	return d
}

// Workers reports the configured band count.
func (d *Dispatcher) Workers() int { return d.workers }

// Compute fully overwrites dst with the stereogram of depth. It returns only
// after every row is written. Zero-sized input is a no-op.
func (d *Dispatcher) Compute(dst *image.RGBA, depth Depth, p Params) error {
	w, h := depth.Size()
	if w == 0 || h == 0 {
		return nil
	}
	if b := dst.Bounds(); b.Dx() != w || b.Dy() != h {
		return fmt.Errorf("%w: output %dx%d, depth %dx%d", ErrSizeMismatch, b.Dx(), b.Dy(), w, h)
	}

	var wg sync.WaitGroup
	for _, band := range splitRows(h, d.workers) {
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			s := d.pool.Get().(*rowScratch)
			defer d.pool.Put(s)
			s.ensure(w)
			for y := y0; y < y1; y++ {
				renderRow(dst, depth, p, y, h, s)
			}
		}(band[0], band[1])
	}
	wg.Wait()
	return nil
}

// Render allocates a new image and computes the stereogram into it.
func (d *Dispatcher) Render(depth Depth, p Params) (*image.RGBA, error) {
	w, h := depth.Size()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	if err := d.Compute(out, depth, p); err != nil {
		return nil, err
	}
	return out, nil
}

func renderRow(dst *image.RGBA, depth Depth, p Params, y, h int, s *rowScratch) {
	outY := h - 1 - y
	row := depth.Row(y)
	if p.DepthJitter != 0 {
		for x, v := range row {
			r, _, _ := Color(float64(x), float64(outY), p.Seed)
			s.depth[x] = v + float32(r*p.DepthJitter)
		}
		row = s.depth
	}
	ReconstructRow(s.links, row, p.MinPx, p.MaxPx)

	scale := p.scale()
	b := dst.Bounds()
	i := dst.PixOffset(b.Min.X, b.Min.Y+outY)
	pix := dst.Pix[i : i+4*len(s.links)]
	for x, link := range s.links {
		r, g, bl := Color(float64(link)/scale, float64(y), p.Seed)
		pix[x*4+0] = toByte(r)
		pix[x*4+1] = toByte(g)
		pix[x*4+2] = toByte(bl)
		pix[x*4+3] = 255
	}
}

// splitRows divides h rows into at most workers contiguous [start, end) bands.
func splitRows(h, workers int) [][2]int {
	if workers < 1 {
		workers = 1
	}
	if workers > h {
		workers = h
	}
	rows := make([][2]int, 0, workers)
	step := h / workers
	start := 0
	for i := 0; i < workers; i++ {
		end := start + step
		if i == workers-1 {
			end = h
		}
		rows = append(rows, [2]int{start, end})
		start = end
	}
	return rows
}
