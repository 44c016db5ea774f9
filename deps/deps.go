// Package deps tracks the external pieces the renderer can use but does not
// ship with: the onnxruntime library, the depth model and ffmpeg.
package deps

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/namuol/magic-eye-mirror/downloads"
	"github.com/namuol/magic-eye-mirror/platform"
)

// ErrMissing is returned by EnsureAvailable for dependencies that are not installed.
var ErrMissing = errors.New("dependency not installed")

// Dependency is an external file or tool that can be checked and, unless
// ManualOnly, installed.
type Dependency struct {
	ID            string
	Name          string
	Description   string
	TargetDir     string
	LatestVersion string

	// ManualOnly dependencies show InstallURL instead of downloading.
	ManualOnly bool
	InstallURL string

	// Check reports whether the dependency exists and its version.
	Check func(ctx context.Context) (exists bool, version string, err error)

	// Install downloads the dependency into TargetDir.
	Install func(ctx context.Context, c *downloads.Client, progress downloads.ProgressFunc) error
}

var (
	registry = make(map[string]*Dependency)
	mu       sync.RWMutex
)

// Register adds a dependency to the global registry.
func Register(dep *Dependency) {
	mu.Lock()
	defer mu.Unlock()
	registry[dep.ID] = dep
}

// Get retrieves a dependency by its ID.
func Get(id string) (*Dependency, bool) {
	mu.RLock()
	defer mu.RUnlock()
	dep, ok := registry[id]
	return dep, ok
}

// GetAll returns all registered dependencies ordered by ID.
func GetAll() []*Dependency {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]*Dependency, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EnsureAvailable returns an error wrapping ErrMissing if depID is not installed.
func EnsureAvailable(ctx context.Context, depID string) error {
	dep, ok := Get(depID)
	if !ok {
		return fmt.Errorf("unknown dependency: %s", depID)
	}
	exists, _, err := dep.Check(ctx)
	if err != nil {
		return fmt.Errorf("failed to check dependency %s: %w", depID, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrMissing, dep.Name)
	}
	return nil
}

// GetMissing returns the registered dependencies whose check fails.
func GetMissing(ctx context.Context) []*Dependency {
	var missing []*Dependency
	for _, d := range GetAll() {
		exists, _, err := d.Check(ctx)
		if err != nil || !exists {
			missing = append(missing, d)
		}
	}
	return missing
}

// GetDepsDir returns the install directory for a dependency.
func GetDepsDir(subdir string) string {
	return filepath.Join(platform.GetDataDir(), subdir)
}
