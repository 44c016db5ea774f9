//go:build !cgo
// +build !cgo

package depth

import (
	"context"
	"fmt"
	"image"
)

// ONNXEstimator is unavailable without cgo.
type ONNXEstimator struct{}

// NewONNXEstimator returns an error wrapping both ErrCGORequired and ErrUnavailable.
func NewONNXEstimator(opts ONNXOptions) (*ONNXEstimator, error) {
	return nil, fmt.Errorf("%w: %w", ErrUnavailable, ErrCGORequired)
}

// Estimate returns ErrCGORequired.
func (e *ONNXEstimator) Estimate(ctx context.Context, frame image.Image) (*Map, error) {
	return nil, ErrCGORequired
}

// Close is a no-op.
func (e *ONNXEstimator) Close() error { return nil }
