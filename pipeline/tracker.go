package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/namuol/magic-eye-mirror/capture"
	"github.com/namuol/magic-eye-mirror/depth"
)

// TrackedDepth is a depth map stamped with the refresh that produced it.
type TrackedDepth struct {
	Map *depth.Map
	// Generation is 0 for the placeholder map and grows by one per refresh.
	Generation uint64
	At         time.Time
}

// DepthProvider hands the render loop the freshest depth map.
type DepthProvider interface {
	Current() *TrackedDepth
}

// DepthTracker refreshes depth in the background. Readers always get the
// last map that was produced successfully and never wait for a new one.
type DepthTracker struct {
	src      capture.Source
	est      depth.Estimator
	controls *Controls
	width    int
	height   int

	// Idle is how long Run sleeps while frozen or after a failure.
	Idle time.Duration
	// Interval is the minimum time between the starts of two refreshes.
	Interval time.Duration

	cur      atomic.Pointer[TrackedDepth]
	failures atomic.Int64
}

// NewDepthTracker estimates w x h depth maps from src. src may be nil for
// estimators that need no camera frame.
func NewDepthTracker(src capture.Source, est depth.Estimator, controls *Controls, w, h int) *DepthTracker {
	t := &DepthTracker{
		src:      src,
		est:      est,
		controls: controls,
		width:    w,
		height:   h,
		Idle:     50 * time.Millisecond,
		Interval: time.Second / 30,
	}
	t.cur.Store(&TrackedDepth{Map: depth.NewMap(w, h)})
	return t
}

// Current returns the latest depth map. It never blocks.
func (t *DepthTracker) Current() *TrackedDepth { return t.cur.Load() }

// Failures counts refreshes that kept the previous map.
func (t *DepthTracker) Failures() int64 { return t.failures.Load() }

// Step performs one refresh. On error the current map is left untouched.
func (t *DepthTracker) Step(ctx context.Context) error {
	var frame image.Image
	if t.src != nil {
		var err error
		frame, err = t.src.Next(ctx)
		if err != nil {
			return err
		}
	}
	m, err := t.est.Estimate(ctx, frame)
	if err != nil {
		return err
	}
	m = m.Resize(t.width, t.height)
	prev := t.cur.Load()
	t.cur.Store(&TrackedDepth{Map: m, Generation: prev.Generation + 1, At: time.Now()})
	return nil
}

// Run refreshes until ctx is done. While frozen it does no work. When the
// source is exhausted it stops refreshing and keeps the last map.
func (t *DepthTracker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if t.controls != nil && t.controls.Frozen() {
			t.sleep(ctx, t.Idle)
			continue
		}
		start := time.Now()
		err := t.Step(ctx)
		if err == nil {
			t.sleep(ctx, t.Interval-time.Since(start))
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		t.failures.Add(1)
		if errors.Is(err, io.EOF) || errors.Is(err, capture.ErrClosed) {
			log.Printf("depth: source finished, holding last depth map: %v", err)
			<-ctx.Done()
			return nil
		}
		log.Printf("depth: refresh failed, keeping previous map: %v", err)
		t.sleep(ctx, t.Idle)
	}
}

func (t *DepthTracker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
