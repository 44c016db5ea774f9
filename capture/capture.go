// Package capture supplies camera frames to the depth estimator.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/namuol/magic-eye-mirror/imgio"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("capture: source closed")

// Source yields frames. Next blocks until a frame is available.
type Source interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

// Still repeats one image forever.
type Still struct {
	img image.Image

	mu     sync.Mutex
	closed bool
}

// NewStill wraps an already decoded frame.
func NewStill(img image.Image) *Still { return &Still{img: img} }

// OpenStill loads a single image file.
func OpenStill(path string) (*Still, error) {
	img, err := imgio.Load(path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	return NewStill(img), nil
}

// Next returns the image.
func (s *Still) Next(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.img, nil
}

// Close makes further Next calls fail.
func (s *Still) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".webp": true, ".tga": true,
}

// Dir cycles through the images of a directory in name order, decoding one
// per call.
type Dir struct {
	paths []string

	mu     sync.Mutex
	next   int
	closed bool
}

// OpenDir lists the images in dir. A directory with no images is an error.
func OpenDir(dir string) (*Dir, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("capture: no images in %s", dir)
	}
	sort.Strings(paths)
	return &Dir{paths: paths}, nil
}

// Len returns the number of images in the cycle.
func (d *Dir) Len() int { return len(d.paths) }

// Next decodes the next image, wrapping around at the end.
func (d *Dir) Next(ctx context.Context) (image.Image, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	path := d.paths[d.next]
	d.next = (d.next + 1) % len(d.paths)
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := imgio.Load(path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	return img, nil
}

// Close makes further Next calls fail.
func (d *Dir) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
