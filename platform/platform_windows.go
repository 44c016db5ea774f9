//go:build windows
// +build windows

package platform

import (
	"os"
	"path/filepath"
)

func getDataDir() string {
	appData := os.Getenv("APPDATA")
	if appData == "" {
		return homeJoin("." + AppName)
	}
	return filepath.Join(appData, AppDisplayName)
}

// Windows keeps cache and data together.
func getCacheDir() string {
	return getDataDir()
}

func binaryExtension() string { return ".exe" }

func sharedLibExtension() string { return ".dll" }

func onnxRuntimeLibName() string { return "onnxruntime.dll" }

// Executability follows the file extension on Windows.
func ensureExecutable(path string) error { return nil }
