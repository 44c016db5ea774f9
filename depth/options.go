package depth

import "errors"

// ErrCGORequired is returned by NewONNXEstimator in builds without cgo.
var ErrCGORequired = errors.New("onnx depth estimation requires CGO support; rebuild with CGO_ENABLED=1")

// ONNXOptions configures the model-backed estimator.
type ONNXOptions struct {
	// Path to the onnxruntime shared library (.dll/.so/.dylib). If empty, the
	// environment variable ONNXRUNTIME_SHARED_LIBRARY_PATH is respected.
	ORTSharedLibraryPath string

	ModelPath string

	// Input and output tensor names in the model graph.
	InputName  string
	OutputName string

	// Model input size. The output is assumed to be InputHeight x InputWidth.
	InputWidth  int
	InputHeight int

	NormalizeMeanRGB   [3]float32
	NormalizeStddevRGB [3]float32

	// Invert flips the model output for networks that emit distance rather
	// than disparity.
	Invert bool
}

// DefaultONNXOptions matches the Depth Anything V2 small ONNX export: 518x518
// NCHW input with ImageNet normalization and relative inverse depth out.
func DefaultONNXOptions() ONNXOptions {
	return ONNXOptions{
		InputName:          "pixel_values",
		OutputName:         "predicted_depth",
		InputWidth:         518,
		InputHeight:        518,
		NormalizeMeanRGB:   [3]float32{0.485, 0.456, 0.406},
		NormalizeStddevRGB: [3]float32{0.229, 0.224, 0.225},
	}
}
