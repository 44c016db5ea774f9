// Package pipeline drives the live mirror: it keeps the latest depth map
// fresh in the background and renders one stereogram per tick from it.
package pipeline

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/namuol/magic-eye-mirror/stereogram"
)

// ErrInvalidParams is wrapped by Validate and Controls.Update.
var ErrInvalidParams = errors.New("invalid stereogram parameters")

// Settings is the user-facing state of the controls.
type Settings struct {
	stereogram.Fractions
	Freeze bool `json:"freeze"`
}

// Validate checks the tunables against their allowed ranges. The renderer
// itself accepts anything; this is the gate in front of user input.
func Validate(f stereogram.Fractions) error {
	switch {
	case !open01(f.MinDisparity):
		return fmt.Errorf("%w: minDisparity %v not in (0,1)", ErrInvalidParams, f.MinDisparity)
	case !open01(f.MaxDisparity):
		return fmt.Errorf("%w: maxDisparity %v not in (0,1)", ErrInvalidParams, f.MaxDisparity)
	case f.MaxDisparity < f.MinDisparity:
		return fmt.Errorf("%w: maxDisparity %v below minDisparity %v", ErrInvalidParams, f.MaxDisparity, f.MinDisparity)
	case !(f.Separation > 0) || math.IsInf(f.Separation, 0):
		return fmt.Errorf("%w: separation %v must be > 0", ErrInvalidParams, f.Separation)
	case !(f.PatternScale >= 1) || math.IsInf(f.PatternScale, 0):
		return fmt.Errorf("%w: patternScale %v must be >= 1", ErrInvalidParams, f.PatternScale)
	case !(f.DepthJitter >= 0 && f.DepthJitter <= 1):
		return fmt.Errorf("%w: depthJitter %v not in [0,1]", ErrInvalidParams, f.DepthJitter)
	}
	return nil
}

func open01(v float64) bool { return v > 0 && v < 1 }

// Controls holds the tunables shared between the HTTP handlers and the
// render loop.
type Controls struct {
	mu     sync.RWMutex
	f      stereogram.Fractions
	freeze bool
}

// NewControls starts from f. f is not validated so that configuration
// files can carry out-of-range experiments.
func NewControls(f stereogram.Fractions) *Controls {
	return &Controls{f: f}
}

// Get returns the current settings.
func (c *Controls) Get() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Settings{Fractions: c.f, Freeze: c.freeze}
}

// Update replaces all settings after validating them. On error nothing changes.
func (c *Controls) Update(s Settings) error {
	if err := Validate(s.Fractions); err != nil {
		return err
	}
	c.mu.Lock()
	c.f = s.Fractions
	c.freeze = s.Freeze
	c.mu.Unlock()
	return nil
}

// SetFreeze engages or releases freeze.
func (c *Controls) SetFreeze(on bool) {
	c.mu.Lock()
	c.freeze = on
	c.mu.Unlock()
}

// ToggleFreeze flips freeze and returns the new state.
func (c *Controls) ToggleFreeze() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freeze = !c.freeze
	return c.freeze
}

// Frozen reports whether recomputation is suspended.
func (c *Controls) Frozen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.freeze
}

// Snapshot captures the tunables once for a frame of the given width.
func (c *Controls) Snapshot(width int, seed stereogram.Seed) stereogram.Params {
	c.mu.RLock()
	f := c.f
	c.mu.RUnlock()
	return f.ToParams(width, seed)
}
