// Package platform resolves per-OS locations for configuration, downloaded
// models and runtime libraries.
package platform

import (
	"os"
	"path/filepath"
)

// AppName names the application's data and cache directories.
const AppName = "magic-eye-mirror"

// AppDisplayName is used where the OS convention prefers a human name.
const AppDisplayName = "Magic Eye Mirror"

// GetDataDir returns the application data directory.
// Windows: %APPDATA%\Magic Eye Mirror
// macOS: ~/Library/Application Support/Magic Eye Mirror
// Linux: $XDG_DATA_HOME/magic-eye-mirror or ~/.local/share/magic-eye-mirror
func GetDataDir() string {
	return getDataDir()
}

// GetCacheDir returns the directory downloaded models and libraries live in.
func GetCacheDir() string {
	return getCacheDir()
}

// BinaryExtension returns the executable file extension for the current platform.
func BinaryExtension() string {
	return binaryExtension()
}

// SharedLibExtension returns the shared library extension for the current platform.
func SharedLibExtension() string {
	return sharedLibExtension()
}

// OnnxRuntimeLibName returns the file name of the onnxruntime shared library.
func OnnxRuntimeLibName() string {
	return onnxRuntimeLibName()
}

// EnsureExecutable sets the executable bit. On Windows it is a no-op.
func EnsureExecutable(path string) error {
	return ensureExecutable(path)
}

// UserHomeDir returns the user's home directory, or "." if it is unknown.
func UserHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func chmodExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chmod(path, info.Mode()|0o111)
}

func homeJoin(elem ...string) string {
	return filepath.Join(append([]string{UserHomeDir()}, elem...)...)
}
