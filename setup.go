package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/namuol/magic-eye-mirror/appconfig"
	"github.com/namuol/magic-eye-mirror/auth"
	"github.com/namuol/magic-eye-mirror/capture"
	depspkg "github.com/namuol/magic-eye-mirror/deps"
	"github.com/namuol/magic-eye-mirror/depth"
	"github.com/namuol/magic-eye-mirror/imgio"
	"github.com/namuol/magic-eye-mirror/snapshot"
)

// initDB opens the sqlite database and creates the tables the server uses.
func initDB(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := auth.EnsureSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("Connected to SQLite database at: %s", dbPath)
	return db, nil
}

// onnxOptions resolves the model options, falling back to the files
// installed by cmd/fetchmodel.
func onnxOptions(c appconfig.DepthConfig) depth.ONNXOptions {
	opts := depth.DefaultONNXOptions()
	opts.ModelPath = c.ModelPath
	if opts.ModelPath == "" {
		opts.ModelPath = depspkg.DepthModelPath()
	}
	opts.ORTSharedLibraryPath = c.ORTSharedLibraryPath
	if opts.ORTSharedLibraryPath == "" && os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH") == "" {
		if _, err := os.Stat(depspkg.OnnxRuntimeLibPath()); err == nil {
			opts.ORTSharedLibraryPath = depspkg.OnnxRuntimeLibPath()
		}
	}
	if c.InputName != "" {
		opts.InputName = c.InputName
	}
	if c.OutputName != "" {
		opts.OutputName = c.OutputName
	}
	if c.InputWidth > 0 {
		opts.InputWidth = c.InputWidth
	}
	if c.InputHeight > 0 {
		opts.InputHeight = c.InputHeight
	}
	opts.Invert = c.Invert
	return opts
}

// newEstimator builds the depth estimator selected by cfg.
func newEstimator(cfg appconfig.Config) (depth.Estimator, error) {
	switch cfg.Depth.Mode {
	case appconfig.DepthONNX:
		opts := onnxOptions(cfg.Depth)
		log.Printf("Loading depth model %s", opts.ModelPath)
		est, err := depth.NewONNXEstimator(opts)
		if err != nil {
			return nil, err
		}
		return est, nil
	case appconfig.DepthLuma:
		return &depth.LumaEstimator{Invert: cfg.Depth.Invert}, nil
	case appconfig.DepthScene:
		return depth.NewSceneEstimator(cfg.Width, cfg.Height, cfg.Depth.SceneSeed), nil
	}
	return nil, fmt.Errorf("%w: depth.mode %q", appconfig.ErrInvalid, cfg.Depth.Mode)
}

// openSource opens the camera frame source selected by cfg. The scene
// estimator ignores frames, so it gets no source.
func openSource(ctx context.Context, cfg appconfig.Config) (capture.Source, error) {
	if cfg.Depth.Mode == appconfig.DepthScene {
		return nil, nil
	}
	c := cfg.Capture
	switch c.Mode {
	case appconfig.CaptureStill:
		s, err := capture.OpenStill(c.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case appconfig.CaptureDir:
		d, err := capture.OpenDir(c.Path)
		if err != nil {
			return nil, err
		}
		log.Printf("Cycling through %d images in %s", d.Len(), c.Path)
		return d, nil
	case appconfig.CaptureFFmpeg:
		w, h := cfg.Width, cfg.Height
		if cfg.Depth.Mode == appconfig.DepthONNX {
			// The model resizes anyway; grab at its input size.
			w, h = cfg.Depth.InputWidth, cfg.Depth.InputHeight
		}
		f, err := capture.StartFFmpeg(ctx, capture.FFmpegOptions{
			FFmpegPath:  c.FFmpegPath,
			Input:       c.Path,
			InputFormat: c.InputFormat,
			Width:       w,
			Height:      h,
			Loop:        c.Loop,
		})
		if err != nil {
			return nil, err
		}
		return f, nil
	case appconfig.CaptureNone:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: capture.mode %q", appconfig.ErrInvalid, c.Mode)
}

// newSnapshotService stores snapshots in S3 when a bucket is configured and
// in the local snapshot directory otherwise.
func newSnapshotService(ctx context.Context, cfg appconfig.Config, db *sql.DB) (*snapshot.Service, error) {
	format, err := imgio.ParseFormat(cfg.Snapshots.Format)
	if err != nil {
		return nil, err
	}
	catalog, err := snapshot.NewCatalog(db)
	if err != nil {
		return nil, err
	}

	var store snapshot.Store
	if s3c := cfg.Snapshots.S3; s3c.Bucket != "" {
		store, err = snapshot.NewS3Store(ctx, snapshot.S3Options{
			Bucket:          s3c.Bucket,
			Region:          s3c.Region,
			Prefix:          s3c.Prefix,
			Endpoint:        s3c.Endpoint,
			AccessKeyID:     s3c.AccessKeyID,
			SecretAccessKey: s3c.SecretAccessKey,
			UsePathStyle:    s3c.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		log.Printf("Snapshots upload to s3://%s/%s", s3c.Bucket, s3c.Prefix)
	} else {
		store, err = snapshot.NewLocalStore(cfg.Snapshots.Dir)
		if err != nil {
			return nil, err
		}
		log.Printf("Snapshots are saved in %s", cfg.Snapshots.Dir)
	}
	return snapshot.NewService(store, catalog, format, cfg.JPEGQuality), nil
}
