package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore writes snapshots into a directory.
type LocalStore struct {
	Dir string
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("snapshot: create dir %s: %w", dir, err)
	}
	return &LocalStore{Dir: dir}, nil
}

// Put writes data to Dir/key through a temporary file so readers never see
// a partial image. The location is the file path.
func (s *LocalStore) Put(ctx context.Context, key, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key == "" || key != filepath.Base(key) {
		return "", fmt.Errorf("snapshot: invalid key %q", key)
	}
	dest := filepath.Join(s.Dir, key)
	tmp := dest + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("snapshot: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("snapshot: rename %s: %w", dest, err)
	}
	return dest, nil
}
