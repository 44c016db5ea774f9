//go:build linux
// +build linux

package platform

import (
	"os"
	"path/filepath"
)

func getDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	return homeJoin(".local", "share", AppName)
}

func getCacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	return homeJoin(".cache", AppName)
}

func binaryExtension() string { return "" }

func sharedLibExtension() string { return ".so" }

func onnxRuntimeLibName() string { return "libonnxruntime.so" }

func ensureExecutable(path string) error { return chmodExecutable(path) }
