// Package snapshot saves rendered stereograms and keeps a catalog of them in
// sqlite. Images go to a local directory or an S3 bucket.
package snapshot

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/namuol/magic-eye-mirror/imgio"
	"github.com/namuol/magic-eye-mirror/pipeline"
)

var (
	ErrNotFound = errors.New("snapshot not found")
	ErrNoFrame  = errors.New("snapshot: no frame rendered yet")
)

// Store persists encoded images and returns where they ended up.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (location string, err error)
}

// Record is one catalog row.
type Record struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"createdAt"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	MinPx           int       `json:"minPx"`
	MaxPx           int       `json:"maxPx"`
	DepthGeneration uint64    `json:"depthGeneration"`
	Format          string    `json:"format"`
	Location        string    `json:"location"`
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		min_px INTEGER NOT NULL,
		max_px INTEGER NOT NULL,
		depth_generation INTEGER NOT NULL,
		format TEXT NOT NULL,
		location TEXT NOT NULL
	)`,
	"CREATE INDEX IF NOT EXISTS idx_snapshots_created_at ON snapshots(created_at)",
}

// Catalog is the sqlite table of saved snapshots.
type Catalog struct {
	db *sql.DB
}

// NewCatalog creates the table if needed.
func NewCatalog(db *sql.DB) (*Catalog, error) {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("snapshot: create schema: %w", err)
		}
	}
	return &Catalog{db: db}, nil
}

// Insert adds r to the catalog.
func (c *Catalog) Insert(ctx context.Context, r Record) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, created_at, width, height, min_px, max_px, depth_generation, format, location)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt.UnixMilli(), r.Width, r.Height, r.MinPx, r.MaxPx, int64(r.DepthGeneration), r.Format, r.Location)
	if err != nil {
		return fmt.Errorf("snapshot: insert %s: %w", r.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		r       Record
		created int64
		gen     int64
	)
	if err := s.Scan(&r.ID, &created, &r.Width, &r.Height, &r.MinPx, &r.MaxPx, &gen, &r.Format, &r.Location); err != nil {
		return Record{}, err
	}
	r.CreatedAt = time.UnixMilli(created)
	r.DepthGeneration = uint64(gen)
	return r, nil
}

const selectColumns = `SELECT id, created_at, width, height, min_px, max_px, depth_generation, format, location FROM snapshots`

// Get returns the record with id.
func (c *Catalog) Get(ctx context.Context, id string) (Record, error) {
	r, err := scanRecord(c.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (c *Catalog) List(ctx context.Context, limit int) ([]Record, error) {
	q := selectColumns + ` ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of catalogued snapshots.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n)
	return n, err
}

// Service encodes frames, stores them and records them in the catalog.
type Service struct {
	Store   Store
	Catalog *Catalog
	Format  imgio.Format
	Quality int

	now   func() time.Time
	newID func() string
}

// NewService stores snapshots in store using format f.
func NewService(store Store, catalog *Catalog, f imgio.Format, quality int) *Service {
	return &Service{
		Store:   store,
		Catalog: catalog,
		Format:  f,
		Quality: quality,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// Take saves fr. The frame's image must not be modified until Take returns;
// pipeline.Loop.Latest returns a private copy that is safe to pass.
func (s *Service) Take(ctx context.Context, fr pipeline.Frame) (Record, error) {
	if fr.Image == nil {
		return Record{}, ErrNoFrame
	}
	var buf bytes.Buffer
	if err := imgio.Encode(&buf, fr.Image, s.Format, s.Quality); err != nil {
		return Record{}, fmt.Errorf("snapshot: encode: %w", err)
	}

	b := fr.Image.Bounds()
	r := Record{
		ID:              s.newID(),
		CreatedAt:       s.now().UTC().Truncate(time.Millisecond),
		Width:           b.Dx(),
		Height:          b.Dy(),
		MinPx:           fr.Params.MinPx,
		MaxPx:           fr.Params.MaxPx,
		DepthGeneration: fr.DepthGeneration,
		Format:          string(s.Format),
	}
	key := r.ID + s.Format.Ext()
	loc, err := s.Store.Put(ctx, key, s.Format.ContentType(), buf.Bytes())
	if err != nil {
		return Record{}, err
	}
	r.Location = loc

	if s.Catalog != nil {
		if err := s.Catalog.Insert(ctx, r); err != nil {
			return Record{}, err
		}
	}
	return r, nil
}
