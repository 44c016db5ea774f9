package deps

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// withRegistry swaps in an empty registry for the duration of a test.
func withRegistry(t *testing.T) {
	t.Helper()
	mu.Lock()
	orig := registry
	registry = make(map[string]*Dependency)
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		registry = orig
		mu.Unlock()
	})
}

func mockDependency(id string, exists bool, checkErr error) *Dependency {
	return &Dependency{
		ID:   id,
		Name: id + " Name",
		Check: func(ctx context.Context) (bool, string, error) {
			return exists, "1.0.0", checkErr
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	withRegistry(t)
	Register(mockDependency("b", true, nil))
	Register(mockDependency("a", true, nil))

	d, ok := Get("a")
	if !ok || d.Name != "a Name" {
		t.Fatalf("Get(a) = %+v, %v", d, ok)
	}
	if _, ok := Get("missing"); ok {
		t.Error("Get(missing) ok = true; want false")
	}
	all := GetAll()
	if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
		t.Errorf("GetAll() = %v; want [a b]", all)
	}
}

func TestEnsureAvailable(t *testing.T) {
	withRegistry(t)
	Register(mockDependency("ok", true, nil))
	Register(mockDependency("gone", false, nil))
	Register(mockDependency("broken", false, errors.New("boom")))

	ctx := context.Background()
	if err := EnsureAvailable(ctx, "ok"); err != nil {
		t.Errorf("EnsureAvailable(ok) error = %v", err)
	}
	if err := EnsureAvailable(ctx, "gone"); !errors.Is(err, ErrMissing) {
		t.Errorf("EnsureAvailable(gone) error = %v; want ErrMissing", err)
	}
	if err := EnsureAvailable(ctx, "broken"); err == nil || errors.Is(err, ErrMissing) {
		t.Errorf("EnsureAvailable(broken) error = %v; want check failure", err)
	}
	if err := EnsureAvailable(ctx, "unknown"); err == nil || !strings.Contains(err.Error(), "unknown dependency") {
		t.Errorf("EnsureAvailable(unknown) error = %v", err)
	}

	missing := GetMissing(ctx)
	if len(missing) != 2 || missing[0].ID != "broken" || missing[1].ID != "gone" {
		t.Errorf("GetMissing() = %v; want [broken gone]", missing)
	}
}

func TestBuiltinsRegistered(t *testing.T) {
	for _, id := range []string{OnnxRuntimeID, DepthModelID, FFmpegID} {
		d, ok := Get(id)
		if !ok {
			t.Errorf("%s not registered", id)
			continue
		}
		if d.Check == nil {
			t.Errorf("%s has no Check", id)
		}
		if !d.ManualOnly && d.Install == nil {
			t.Errorf("%s is downloadable but has no Install", id)
		}
	}
}

func TestOnnxRuntimeDownloadURL(t *testing.T) {
	tests := []struct {
		goos, arch string
		suffix     string
	}{
		{"linux", "amd64", "onnxruntime-linux-x64-1.22.0.tgz"},
		{"linux", "arm64", "onnxruntime-linux-aarch64-1.22.0.tgz"},
		{"darwin", "arm64", "onnxruntime-osx-arm64-1.22.0.tgz"},
		{"windows", "amd64", "onnxruntime-win-x64-1.22.0.zip"},
		{"linux", "386", ""},
		{"plan9", "amd64", ""},
	}
	for _, tt := range tests {
		got := OnnxRuntimeDownloadURL(tt.goos, tt.arch, "1.22.0")
		if tt.suffix == "" {
			if got != "" {
				t.Errorf("OnnxRuntimeDownloadURL(%s, %s) = %q; want empty", tt.goos, tt.arch, got)
			}
			continue
		}
		if !strings.HasSuffix(got, "/v1.22.0/"+tt.suffix) {
			t.Errorf("OnnxRuntimeDownloadURL(%s, %s) = %q; want suffix %q", tt.goos, tt.arch, got, tt.suffix)
		}
	}
}

func TestIsRuntimeLib(t *testing.T) {
	tests := []struct {
		goos, name string
		want       bool
	}{
		{"linux", "onnxruntime-linux-x64-1.22.0/lib/libonnxruntime.so.1.22.0", true},
		{"linux", "onnxruntime-linux-x64-1.22.0/lib/libonnxruntime_providers_shared.so", false},
		{"linux", "onnxruntime-linux-x64-1.22.0/include/onnxruntime_c_api.h", false},
		{"darwin", "onnxruntime-osx-arm64-1.22.0/lib/libonnxruntime.1.22.0.dylib", true},
		{"windows", "onnxruntime-win-x64-1.22.0/lib/onnxruntime.dll", true},
		{"windows", "onnxruntime-win-x64-1.22.0/lib/onnxruntime_providers_shared.dll", false},
	}
	for _, tt := range tests {
		if got := isRuntimeLib(tt.goos, tt.name); got != tt.want {
			t.Errorf("isRuntimeLib(%s, %q) = %v; want %v", tt.goos, tt.name, got, tt.want)
		}
	}
}

func TestParseFFmpegVersion(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023", "6.1.1-3ubuntu5"},
		{"ffmpeg version N-122344-g649a4e98f4-20260103 Copyright", "N-122344-g649a4e98f4-20260103"},
		{"garbage", "unknown"},
	}
	for _, tt := range tests {
		if got := parseFFmpegVersion(tt.in); got != tt.want {
			t.Errorf("parseFFmpegVersion(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestFFmpegPathMissing(t *testing.T) {
	if _, err := FFmpegPath("/definitely/not/ffmpeg"); err == nil {
		t.Error("FFmpegPath(missing) error = nil; want error")
	}
}
