//go:build darwin
// +build darwin

package platform

func getDataDir() string {
	return homeJoin("Library", "Application Support", AppDisplayName)
}

func getCacheDir() string {
	return homeJoin("Library", "Caches", AppName)
}

func binaryExtension() string { return "" }

func sharedLibExtension() string { return ".dylib" }

func onnxRuntimeLibName() string { return "libonnxruntime.dylib" }

func ensureExecutable(path string) error { return chmodExecutable(path) }
