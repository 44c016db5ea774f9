package pipeline

import (
	"context"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/namuol/magic-eye-mirror/stereogram"
)

// Frame is one presented stereogram.
type Frame struct {
	Seq uint64
	// Image is only valid for the duration of Present. Presenters that
	// keep it must copy it.
	Image           *image.RGBA
	Params          stereogram.Params
	DepthGeneration uint64
	Elapsed         time.Duration
	Frozen          bool
}

// Presenter displays frames. Present is called from the loop goroutine in
// sequence order and must not block for long.
type Presenter interface {
	Present(Frame)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(Frame)

// Present calls f(fr).
func (f PresenterFunc) Present(fr Frame) { f(fr) }

// Loop renders one stereogram per tick into a back buffer and swaps it to
// the front once complete, so readers never see a partial frame.
type Loop struct {
	disp     *stereogram.Dispatcher
	depth    DepthProvider
	controls *Controls
	width    int
	height   int
	fps      int

	// NewSeed draws the per-frame noise seed.
	NewSeed func() stereogram.Seed

	mu         sync.RWMutex
	front      *image.RGBA
	back       *image.RGBA
	last       Frame
	hasFrame   bool
	seq        uint64
	presenters []Presenter
}

// NewLoop renders w x h frames at fps from depth.
func NewLoop(disp *stereogram.Dispatcher, depth DepthProvider, controls *Controls, w, h, fps int) *Loop {
	if fps <= 0 {
		fps = 30
	}
	return &Loop{
		disp:     disp,
		depth:    depth,
		controls: controls,
		width:    w,
		height:   h,
		fps:      fps,
		NewSeed:  stereogram.RandomSeed,
		front:    image.NewRGBA(image.Rect(0, 0, w, h)),
		back:     image.NewRGBA(image.Rect(0, 0, w, h)),
	}
}

// AddPresenter registers p. It must be called before Run.
func (l *Loop) AddPresenter(p Presenter) {
	l.mu.Lock()
	l.presenters = append(l.presenters, p)
	l.mu.Unlock()
}

// Size returns the output dimensions.
func (l *Loop) Size() (int, int) { return l.width, l.height }

// Tick renders and presents one frame. While frozen, or if rendering
// fails, the last completed image is presented again.
func (l *Loop) Tick() (Frame, error) {
	frozen := l.controls.Frozen()

	var err error
	if !frozen || !l.hasFrame {
		err = l.render(frozen)
	}

	l.mu.Lock()
	l.seq++
	fr := l.last
	fr.Seq = l.seq
	fr.Image = l.front
	fr.Frozen = frozen
	presenters := l.presenters
	l.mu.Unlock()

	for _, p := range presenters {
		p.Present(fr)
	}
	return fr, err
}

func (l *Loop) render(frozen bool) error {
	cur := l.depth.Current()
	if cur == nil || cur.Map == nil {
		return fmt.Errorf("pipeline: no depth map")
	}
	m := cur.Map
	if m.Width != l.width || m.Height != l.height {
		m = m.Resize(l.width, l.height)
	}
	p := l.controls.Snapshot(l.width, l.NewSeed())

	start := time.Now()
	if err := l.disp.Compute(l.back, m, p); err != nil {
		return err
	}
	elapsed := time.Since(start)

	l.mu.Lock()
	l.front, l.back = l.back, l.front
	l.last = Frame{Params: p, DepthGeneration: cur.Generation, Elapsed: elapsed, Frozen: frozen}
	l.hasFrame = true
	l.mu.Unlock()
	return nil
}

// Latest returns a copy of the most recent completed frame, or false before
// the first one.
func (l *Loop) Latest() (Frame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.hasFrame {
		return Frame{}, false
	}
	fr := l.last
	fr.Seq = l.seq
	img := image.NewRGBA(l.front.Rect)
	copy(img.Pix, l.front.Pix)
	fr.Image = img
	return fr, true
}

// Run ticks at the configured rate until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(l.fps))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := l.Tick(); err != nil {
				log.Printf("render: %v", err)
			}
		}
	}
}
