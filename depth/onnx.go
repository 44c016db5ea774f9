//go:build cgo
// +build cgo

package depth

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	resize "github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEstimator runs a monocular depth network through onnxruntime. The
// session and its tensors are created once and reused for every frame.
type ONNXEstimator struct {
	opts ONNXOptions

	mu      sync.Mutex
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	session *ort.AdvancedSession
}

// NewONNXEstimator initializes the onnxruntime environment and loads the
// model. Any failure is wrapped with ErrUnavailable.
func NewONNXEstimator(opts ONNXOptions) (*ONNXEstimator, error) {
	if opts.InputWidth <= 0 || opts.InputHeight <= 0 {
		return nil, fmt.Errorf("%w: invalid input size %dx%d", ErrUnavailable, opts.InputWidth, opts.InputHeight)
	}
	if opts.InputName == "" || opts.OutputName == "" {
		return nil, fmt.Errorf("%w: input and output names must be provided", ErrUnavailable)
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: model: %w", ErrUnavailable, err)
	}

	if opts.ORTSharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.ORTSharedLibraryPath)
	} else if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
		ort.SetSharedLibraryPath(p)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	e := &ONNXEstimator{opts: opts}
	if err := e.build(); err != nil {
		e.destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return e, nil
}

func (e *ONNXEstimator) build() error {
	w, h := int64(e.opts.InputWidth), int64(e.opts.InputHeight)
	var err error
	e.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, h, w))
	if err != nil {
		return err
	}
	e.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, h, w))
	if err != nil {
		return err
	}
	e.session, err = ort.NewAdvancedSession(
		e.opts.ModelPath,
		[]string{e.opts.InputName},
		[]string{e.opts.OutputName},
		[]ort.Value{e.input},
		[]ort.Value{e.output},
		nil,
	)
	return err
}

// Estimate runs the network on frame. The result is min-max normalized and
// has the model's input size; callers resize it to the render size.
func (e *ONNXEstimator) Estimate(ctx context.Context, frame image.Image) (*Map, error) {
	if frame == nil {
		return nil, ErrNoFrame
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errors.New("depth: estimator closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fillTensor(e.input.GetData(), frame, e.opts)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("depth: run model: %w", err)
	}

	w, h := e.opts.InputWidth, e.opts.InputHeight
	out := e.output.GetData()
	m := NewMap(w, h)
	for y := 0; y < h; y++ {
		copy(m.Row(h-1-y), out[y*w:(y+1)*w])
	}
	m.Normalize()
	if e.opts.Invert {
		for i, v := range m.Pix {
			m.Pix[i] = 1 - v
		}
	}
	return m, nil
}

// fillTensor writes frame into data as a normalized NCHW RGB tensor.
func fillTensor(data []float32, frame image.Image, opts ONNXOptions) {
	w, h := opts.InputWidth, opts.InputHeight
	dst := resize.Resize(uint(w), uint(h), frame, resize.Bicubic)

	std := opts.NormalizeStddevRGB
	for i := range std {
		if std[i] == 0 {
			std[i] = 1
		}
	}
	mean := opts.NormalizeMeanRGB

	n := w * h
	b := dst.Bounds()
	idx := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBAModel.Convert(dst.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			data[idx] = (float32(c.R)/255 - mean[0]) / std[0]
			data[n+idx] = (float32(c.G)/255 - mean[1]) / std[1]
			data[2*n+idx] = (float32(c.B)/255 - mean[2]) / std[2]
			idx++
		}
	}
}

func (e *ONNXEstimator) destroy() {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.output != nil {
		e.output.Destroy()
		e.output = nil
	}
	if e.input != nil {
		e.input.Destroy()
		e.input = nil
	}
}

// Close releases the session and the onnxruntime environment.
func (e *ONNXEstimator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	e.destroy()
	return ort.DestroyEnvironment()
}
