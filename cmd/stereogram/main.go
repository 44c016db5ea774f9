// Command stereogram renders a single autostereogram from a depth map, or
// from a photo whose depth is estimated first.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"runtime"
	"time"

	"github.com/namuol/magic-eye-mirror/deps"
	"github.com/namuol/magic-eye-mirror/depth"
	"github.com/namuol/magic-eye-mirror/imgio"
	"github.com/namuol/magic-eye-mirror/pipeline"
	"github.com/namuol/magic-eye-mirror/stereogram"
)

type options struct {
	depthPath string
	inPath    string
	outPath   string
	width     int
	height    int
	invert    bool
	useModel  bool
	model     depth.ONNXOptions
	fractions stereogram.Fractions
	seed      uint64
	quality   int
	threads   int
}

func main() {
	var o options
	o.model = depth.DefaultONNXOptions()
	def := stereogram.DefaultFractions()

	flag.StringVar(&o.depthPath, "depth", "", "input depth map (white is near)")
	flag.StringVar(&o.inPath, "in", "", "input photo; its depth is estimated when --depth is not given")
	flag.StringVar(&o.outPath, "out", "stereogram.png", "output path (png, jpg, webp or tga)")
	flag.IntVar(&o.width, "width", 0, "output width (0 keeps the depth map width)")
	flag.IntVar(&o.height, "height", 0, "output height (0 keeps the aspect ratio)")
	flag.BoolVar(&o.invert, "invert", false, "invert depth (treat black as near)")
	flag.BoolVar(&o.useModel, "model", false, "estimate --in depth with the ONNX model instead of luma")
	flag.StringVar(&o.model.ModelPath, "model-path", "", "ONNX depth model path")
	flag.StringVar(&o.model.ORTSharedLibraryPath, "ort", "", "path to onnxruntime shared library (optional)")
	flag.Float64Var(&o.fractions.MinDisparity, "min", def.MinDisparity, "disparity at depth 0, as a fraction of width")
	flag.Float64Var(&o.fractions.MaxDisparity, "max", def.MaxDisparity, "disparity at depth 1, as a fraction of width")
	flag.Float64Var(&o.fractions.Separation, "sep", def.Separation, "multiplier applied to both disparities")
	flag.Float64Var(&o.fractions.PatternScale, "scale", def.PatternScale, "noise pattern scale (>= 1)")
	flag.Float64Var(&o.fractions.DepthJitter, "jitter", 0, "depth noise amplitude")
	flag.Uint64Var(&o.seed, "seed", 0, "noise seed (0 picks one at random)")
	flag.IntVar(&o.quality, "quality", imgio.DefaultJPEGQuality, "JPEG quality (1-100)")
	flag.IntVar(&o.threads, "threads", runtime.GOMAXPROCS(0), "worker goroutines")
	flag.Parse()

	if o.depthPath == "" && o.inPath == "" {
		fmt.Fprintln(os.Stderr, "usage: stereogram --depth <depth.png> | --in <photo.jpg> [--out stereogram.png] ...")
		os.Exit(2)
	}
	if err := pipeline.Validate(o.fractions); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	start := time.Now()
	if err := run(o); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %s in %s", o.outPath, time.Since(start).Round(time.Millisecond))
}

// seedFromInt derives a frame seed deterministically from n.
func seedFromInt(n uint64) stereogram.Seed {
	r := rand.New(rand.NewPCG(n, n^0x5851f42d4c957f2d))
	return stereogram.Seed{r.Float64(), r.Float64(), r.Float64()}
}

// outputSize resolves the requested size against the depth map size.
func outputSize(dw, dh, w, h int) (int, int) {
	switch {
	case w <= 0 && h <= 0:
		return dw, dh
	case h <= 0:
		return w, max(1, dh*w/max(dw, 1))
	case w <= 0:
		return max(1, dw*h/max(dh, 1)), h
	}
	return w, h
}

func loadDepth(o options) (*depth.Map, error) {
	if o.depthPath != "" {
		img, err := imgio.Load(o.depthPath)
		if err != nil {
			return nil, err
		}
		m := depth.FromImage(img)
		if o.invert {
			for i, v := range m.Pix {
				m.Pix[i] = 1 - v
			}
		}
		return m, nil
	}

	photo, err := imgio.Load(o.inPath)
	if err != nil {
		return nil, err
	}
	var est depth.Estimator = &depth.LumaEstimator{Invert: o.invert}
	if o.useModel {
		opts := o.model
		opts.Invert = o.invert
		if opts.ModelPath == "" {
			opts.ModelPath = deps.DepthModelPath()
		}
		onnx, err := depth.NewONNXEstimator(opts)
		if err != nil {
			return nil, err
		}
		est = onnx
	}
	defer est.Close()
	m, err := est.Estimate(context.Background(), photo)
	if err != nil {
		return nil, err
	}
	b := photo.Bounds()
	return m.Resize(b.Dx(), b.Dy()), nil
}

func run(o options) error {
	m, err := loadDepth(o)
	if err != nil {
		return err
	}
	if m.Width == 0 || m.Height == 0 {
		return errors.New("depth map is empty")
	}
	w, h := outputSize(m.Width, m.Height, o.width, o.height)
	m = m.Resize(w, h)

	seed := stereogram.RandomSeed()
	if o.seed != 0 {
		seed = seedFromInt(o.seed)
	}
	p := o.fractions.ToParams(w, seed)

	img, err := stereogram.NewDispatcher(o.threads).Render(m, p)
	if err != nil {
		return err
	}
	return imgio.Save(o.outPath, img, o.quality)
}
