package deps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/namuol/magic-eye-mirror/downloads"
	"github.com/namuol/magic-eye-mirror/platform"
)

const (
	OnnxRuntimeID      = "onnxruntime"
	OnnxRuntimeVersion = "1.22.0"

	DepthModelID      = "depth-model"
	DepthModelVersion = "depth-anything-v2-small"
	DepthModelURL     = "https://huggingface.co/onnx-community/depth-anything-v2-small/resolve/main/onnx/model.onnx"
	depthModelFile    = "model.onnx"
)

func init() {
	Register(&Dependency{
		ID:            OnnxRuntimeID,
		Name:          "ONNX Runtime",
		Description:   "Inference runtime for the depth model",
		TargetDir:     GetDepsDir("onnxruntime"),
		LatestVersion: OnnxRuntimeVersion,
		Check:         fileCheck(OnnxRuntimeLibPath, OnnxRuntimeVersion),
		Install:       installOnnxRuntime,
	})
	Register(&Dependency{
		ID:            DepthModelID,
		Name:          "Depth Anything V2 (small)",
		Description:   "Monocular depth estimation model",
		TargetDir:     GetDepsDir("models"),
		LatestVersion: DepthModelVersion,
		Check:         fileCheck(DepthModelPath, DepthModelVersion),
		Install:       installDepthModel,
	})
}

// OnnxRuntimeLibPath is where the onnxruntime shared library is installed.
func OnnxRuntimeLibPath() string {
	return filepath.Join(GetDepsDir("onnxruntime"), platform.OnnxRuntimeLibName())
}

// DepthModelPath is where the depth model is installed.
func DepthModelPath() string {
	return filepath.Join(GetDepsDir("models"), depthModelFile)
}

func fileCheck(path func() string, version string) func(context.Context) (bool, string, error) {
	return func(ctx context.Context) (bool, string, error) {
		if _, err := os.Stat(path()); os.IsNotExist(err) {
			return false, "", nil
		} else if err != nil {
			return false, "", err
		}
		return true, version, nil
	}
}

func installDepthModel(ctx context.Context, c *downloads.Client, progress downloads.ProgressFunc) error {
	dest := DepthModelPath()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := c.FileWithRetry(ctx, dest, DepthModelURL, progress); err != nil {
		return fmt.Errorf("failed to download depth model: %w", err)
	}
	return nil
}

// OnnxRuntimeDownloadURL returns the release archive for goos/arch, or ""
// when no prebuilt runtime exists.
func OnnxRuntimeDownloadURL(goos, arch, version string) string {
	base := "https://github.com/microsoft/onnxruntime/releases/download/v" + version + "/onnxruntime-"
	switch goos {
	case "windows":
		if arch == "arm64" {
			return base + "win-arm64-" + version + ".zip"
		}
		return base + "win-x64-" + version + ".zip"
	case "darwin":
		if arch == "arm64" {
			return base + "osx-arm64-" + version + ".tgz"
		}
		return base + "osx-x86_64-" + version + ".tgz"
	case "linux":
		switch arch {
		case "arm64":
			return base + "linux-aarch64-" + version + ".tgz"
		case "amd64":
			return base + "linux-x64-" + version + ".tgz"
		}
	}
	return ""
}

// isRuntimeLib matches the main library inside a release archive, skipping
// the provider plugins.
func isRuntimeLib(goos, name string) bool {
	if strings.Contains(name, "_providers_") {
		return false
	}
	switch goos {
	case "windows":
		return strings.HasSuffix(strings.ToLower(name), "/lib/onnxruntime.dll")
	case "darwin":
		return strings.Contains(name, "/lib/libonnxruntime.") && strings.HasSuffix(name, ".dylib")
	}
	return strings.Contains(name, "/lib/libonnxruntime.so.")
}

func installOnnxRuntime(ctx context.Context, c *downloads.Client, progress downloads.ProgressFunc) error {
	url := OnnxRuntimeDownloadURL(runtime.GOOS, runtime.GOARCH, OnnxRuntimeVersion)
	if url == "" {
		return fmt.Errorf("no onnxruntime build for %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	dir := GetDepsDir("onnxruntime")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	archive := filepath.Join(dir, filepath.Base(url))
	if err := c.FileWithRetry(ctx, archive, url, progress); err != nil {
		return fmt.Errorf("failed to download onnxruntime: %w", err)
	}
	defer os.Remove(archive)

	match := func(name string) bool { return isRuntimeLib(runtime.GOOS, name) }
	extract := downloads.ExtractFileFromTarGz
	if strings.HasSuffix(archive, ".zip") {
		extract = downloads.ExtractFileFromZip
	}
	dest := OnnxRuntimeLibPath()
	if err := extract(archive, dest, match); err != nil {
		return fmt.Errorf("failed to extract onnxruntime: %w", err)
	}
	return platform.EnsureExecutable(dest)
}
