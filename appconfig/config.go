package appconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/namuol/magic-eye-mirror/platform"
	"github.com/namuol/magic-eye-mirror/stereogram"
)

// Depth source modes.
const (
	DepthONNX  = "onnx"
	DepthLuma  = "luma"
	DepthScene = "scene"
)

// Capture source modes.
const (
	CaptureNone   = "none"
	CaptureStill  = "still"
	CaptureDir    = "dir"
	CaptureFFmpeg = "ffmpeg"
)

// ErrInvalid is wrapped by Validate.
var ErrInvalid = errors.New("invalid config")

// DepthConfig selects and configures the depth estimator.
type DepthConfig struct {
	Mode string `json:"mode"`

	// ONNX model settings. Empty paths fall back to the installed
	// dependencies under the data dir.
	ModelPath            string `json:"modelPath"`
	ORTSharedLibraryPath string `json:"ortSharedLibraryPath"`
	InputName            string `json:"inputName"`
	OutputName           string `json:"outputName"`
	InputWidth           int    `json:"inputWidth"`
	InputHeight          int    `json:"inputHeight"`

	// Invert swaps near and far for the onnx and luma modes.
	Invert bool `json:"invert"`
	// SceneSeed lays out the bricks of the scene mode.
	SceneSeed uint64 `json:"sceneSeed"`
}

// CaptureConfig selects where camera frames come from.
type CaptureConfig struct {
	Mode string `json:"mode"`
	// Path is the image, directory or ffmpeg input depending on Mode.
	Path        string `json:"path"`
	FFmpegPath  string `json:"ffmpegPath"`
	InputFormat string `json:"inputFormat"`
	Loop        bool   `json:"loop"`
}

// S3Config uploads snapshots to a bucket when Bucket is set.
type S3Config struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Prefix          string `json:"prefix"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	UsePathStyle    bool   `json:"usePathStyle"`
}

// SnapshotConfig controls where saved frames go.
type SnapshotConfig struct {
	Dir    string   `json:"dir"`
	Format string   `json:"format"`
	S3     S3Config `json:"s3"`
}

// Config holds the mirror's settings: server address, output size, the
// stereogram tunables and the depth, capture and snapshot backends.
type Config struct {
	DBPath string `json:"dbPath"`

	Addr      string `json:"addr"`
	NoBrowser bool   `json:"noBrowser"`

	Width       int `json:"width"`
	Height      int `json:"height"`
	FPS         int `json:"fps"`
	Workers     int `json:"workers"`
	JPEGQuality int `json:"jpegQuality"`

	Stereogram stereogram.Fractions `json:"stereogram"`
	Depth      DepthConfig          `json:"depth"`
	Capture    CaptureConfig        `json:"capture"`
	Snapshots  SnapshotConfig       `json:"snapshots"`

	// JWT Secret for authentication
	JWTSecret string `json:"jwtSecret"`
}

var (
	cfgMu sync.RWMutex
	cfg   Config
)

// DefaultDBPath returns the default database path.
// Uses the platform-specific data directory.
func DefaultDBPath() string {
	return filepath.Join(platform.GetDataDir(), "mirror.db")
}

// DefaultConfigDir returns the default config directory path.
// Uses the platform-specific data directory.
func DefaultConfigDir() string {
	return platform.GetDataDir()
}

// DefaultSnapshotDir returns where snapshots are written when no dir is set.
func DefaultSnapshotDir() string {
	return filepath.Join(platform.GetDataDir(), "snapshots")
}

// defaultConfig returns a Config populated with sensible defaults. The scene
// depth source needs no camera or model, so a fresh install renders at once.
func defaultConfig() Config {
	return Config{
		DBPath:      DefaultDBPath(),
		Addr:        "localhost:8091",
		Width:       640,
		Height:      480,
		FPS:         30,
		JPEGQuality: 80,
		Stereogram:  stereogram.DefaultFractions(),
		Depth: DepthConfig{
			Mode:        DepthScene,
			InputName:   "pixel_values",
			OutputName:  "predicted_depth",
			InputWidth:  518,
			InputHeight: 518,
			SceneSeed:   1,
		},
		Capture: CaptureConfig{Mode: CaptureNone},
		Snapshots: SnapshotConfig{
			Dir:    DefaultSnapshotDir(),
			Format: "png",
		},
		JWTSecret: uuid.New().String(),
	}
}

// Default returns a fresh default config.
func Default() Config { return defaultConfig() }

// Validate checks the values the server cannot start without.
func (c Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: size %dx%d", ErrInvalid, c.Width, c.Height)
	case c.FPS <= 0:
		return fmt.Errorf("%w: fps %d", ErrInvalid, c.FPS)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers %d", ErrInvalid, c.Workers)
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return fmt.Errorf("%w: jpegQuality %d not in [1,100]", ErrInvalid, c.JPEGQuality)
	}
	switch c.Depth.Mode {
	case DepthONNX, DepthLuma, DepthScene:
	default:
		return fmt.Errorf("%w: depth.mode %q", ErrInvalid, c.Depth.Mode)
	}
	switch c.Capture.Mode {
	case CaptureNone:
		if c.Depth.Mode != DepthScene {
			return fmt.Errorf("%w: depth.mode %q needs a capture source", ErrInvalid, c.Depth.Mode)
		}
	case CaptureStill, CaptureDir, CaptureFFmpeg:
		if c.Capture.Path == "" {
			return fmt.Errorf("%w: capture.path is required for %q", ErrInvalid, c.Capture.Mode)
		}
	default:
		return fmt.Errorf("%w: capture.mode %q", ErrInvalid, c.Capture.Mode)
	}
	return nil
}

// Get returns a copy of the current in-memory config.
func Get() Config {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg
}

// Set replaces the in-memory config.
func Set(c Config) {
	cfgMu.Lock()
	cfg = c
	cfgMu.Unlock()
}

func isJSONObject(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func deepMergeJSON(dst, src map[string]json.RawMessage) {
	for k, v := range src {
		if existing, ok := dst[k]; ok && isJSONObject(existing) && isJSONObject(v) {
			var dstObj map[string]json.RawMessage
			var srcObj map[string]json.RawMessage
			if err := json.Unmarshal(existing, &dstObj); err != nil {
				dst[k] = v
				continue
			}
			if err := json.Unmarshal(v, &srcObj); err != nil {
				dst[k] = v
				continue
			}
			deepMergeJSON(dstObj, srcObj)
			merged, err := json.Marshal(dstObj)
			if err != nil {
				dst[k] = v
				continue
			}
			dst[k] = merged
			continue
		}
		dst[k] = v
	}
}

// DefaultPath returns the full path to the config.json file.
func DefaultPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// fillDefaults sets every zero field that has a default and reports whether
// a field that must persist across restarts was generated.
func fillDefaults(c *Config) (needsSave bool) {
	def := defaultConfig()

	if c.DBPath == "" {
		c.DBPath = def.DBPath
		needsSave = true
	}
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.Width == 0 {
		c.Width = def.Width
	}
	if c.Height == 0 {
		c.Height = def.Height
	}
	if c.FPS == 0 {
		c.FPS = def.FPS
	}
	if c.JPEGQuality == 0 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.Stereogram == (stereogram.Fractions{}) {
		c.Stereogram = def.Stereogram
	}
	if c.Depth.Mode == "" {
		c.Depth.Mode = def.Depth.Mode
	}
	if c.Depth.InputName == "" {
		c.Depth.InputName = def.Depth.InputName
	}
	if c.Depth.OutputName == "" {
		c.Depth.OutputName = def.Depth.OutputName
	}
	if c.Depth.InputWidth == 0 {
		c.Depth.InputWidth = def.Depth.InputWidth
	}
	if c.Depth.InputHeight == 0 {
		c.Depth.InputHeight = def.Depth.InputHeight
	}
	if c.Capture.Mode == "" {
		c.Capture.Mode = def.Capture.Mode
	}
	if c.Snapshots.Dir == "" {
		c.Snapshots.Dir = def.Snapshots.Dir
	}
	if c.Snapshots.Format == "" {
		c.Snapshots.Format = def.Snapshots.Format
	}
	if c.JWTSecret == "" {
		c.JWTSecret = def.JWTSecret
		needsSave = true
	}
	return needsSave
}

// Load reads the config from the default location. See LoadFrom.
func Load() (Config, string, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads the config at path and updates the in-memory config. It
// returns the config and path. If the file doesn't exist, it is created with
// default values.
func LoadFrom(path string) (Config, string, error) {
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return Config{}, "", fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			def := defaultConfig()
			dbDir := filepath.Dir(def.DBPath)
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return Config{}, "", fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
			savedPath, saveErr := SaveTo(path, def)
			if saveErr != nil {
				return Config{}, path, fmt.Errorf("failed to create default config file: %w", saveErr)
			}
			return def, savedPath, nil
		}
		return Config{}, path, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, path, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	needsSave := fillDefaults(&c)

	dbDir := filepath.Dir(c.DBPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return Config{}, path, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
	}

	// Persist generated fields so sessions survive restarts.
	if needsSave {
		if _, saveErr := SaveTo(path, c); saveErr != nil {
			fmt.Printf("Warning: failed to save updated config: %v\n", saveErr)
		}
	}

	Set(c)
	return c, path, nil
}

// Save writes the config to the default location. See SaveTo.
func Save(c Config) (string, error) {
	return SaveTo(DefaultPath(), c)
}

// SaveTo writes c to path, creating the directory as needed. Keys in the
// existing file that Config does not know are preserved.
func SaveTo(path string, c Config) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return path, fmt.Errorf("failed to create config directory: %w", err)
	}
	base := map[string]json.RawMessage{}
	if existing, readErr := os.ReadFile(path); readErr == nil {
		var tmp map[string]json.RawMessage
		if err := json.Unmarshal(existing, &tmp); err == nil {
			base = tmp
		}
	}

	marshaled, err := json.Marshal(c)
	if err != nil {
		return path, fmt.Errorf("failed to marshal config: %w", err)
	}
	incoming := map[string]json.RawMessage{}
	if err := json.Unmarshal(marshaled, &incoming); err != nil {
		return path, fmt.Errorf("failed to map config JSON: %w", err)
	}

	deepMergeJSON(base, incoming)

	mergedData, err := json.MarshalIndent(base, "", "  ")
	if err != nil {
		return path, fmt.Errorf("failed to marshal merged config: %w", err)
	}
	if err := os.WriteFile(path, mergedData, 0644); err != nil {
		return path, fmt.Errorf("failed to write config file: %w", err)
	}
	Set(c)
	return path, nil
}
