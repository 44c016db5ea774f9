package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	_ "modernc.org/sqlite"

	"github.com/namuol/magic-eye-mirror/imgio"
	"github.com/namuol/magic-eye-mirror/pipeline"
	"github.com/namuol/magic-eye-mirror/stereogram"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	c, err := NewCatalog(db)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	return c
}

func testFrame() pipeline.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	return pipeline.Frame{
		Seq:             7,
		Image:           img,
		Params:          stereogram.Params{MinPx: 1, MaxPx: 2},
		DepthGeneration: 3,
	}
}

func TestCatalogInsertListGet(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		r := Record{
			ID:              id,
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
			Width:           640,
			Height:          480,
			MinPx:           96,
			MaxPx:           128,
			DepthGeneration: uint64(i),
			Format:          "png",
			Location:        "/snaps/" + id + ".png",
		}
		if err := c.Insert(ctx, r); err != nil {
			t.Fatalf("Insert(%s) error = %v", id, err)
		}
	}

	if err := c.Insert(ctx, Record{ID: "a"}); err == nil {
		t.Error("Insert() accepted a duplicate id")
	}

	all, err := c.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("List() = %+v; want newest first", all)
	}

	two, err := c.List(ctx, 2)
	if err != nil || len(two) != 2 {
		t.Fatalf("List(2) = %d records, %v", len(two), err)
	}

	got, err := c.Get(ctx, "b")
	if err != nil {
		t.Fatalf("Get(b) error = %v", err)
	}
	if !got.CreatedAt.Equal(base.Add(time.Minute)) || got.DepthGeneration != 1 || got.Location != "/snaps/b.png" {
		t.Errorf("Get(b) = %+v", got)
	}

	if _, err := c.Get(ctx, "zzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v; want ErrNotFound", err)
	}

	if n, err := c.Count(ctx); err != nil || n != 3 {
		t.Errorf("Count() = %d, %v; want 3", n, err)
	}
}

func TestLocalStorePut(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snaps")
	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	loc, err := s.Put(context.Background(), "x.png", "image/png", []byte("data"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if loc != filepath.Join(dir, "x.png") {
		t.Errorf("Put() location = %q", loc)
	}
	data, err := os.ReadFile(loc)
	if err != nil || string(data) != "data" {
		t.Errorf("stored file = %q, %v", data, err)
	}
	if _, err := os.Stat(loc + ".part"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	for _, key := range []string{"", "../escape.png", "a/b.png"} {
		if _, err := s.Put(context.Background(), key, "", nil); err == nil {
			t.Errorf("Put(%q) accepted an invalid key", key)
		}
	}
}

func TestServiceTake(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	cat := newTestCatalog(t)
	svc := NewService(store, cat, imgio.PNG, 0)
	svc.newID = func() string { return "fixed" }
	svc.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	rec, err := svc.Take(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	want := Record{
		ID:              "fixed",
		CreatedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Width:           8,
		Height:          4,
		MinPx:           1,
		MaxPx:           2,
		DepthGeneration: 3,
		Format:          "png",
		Location:        filepath.Join(dir, "fixed.png"),
	}
	if rec != want {
		t.Errorf("Take() = %+v; want %+v", rec, want)
	}

	img, err := imgio.Load(rec.Location)
	if err != nil {
		t.Fatalf("Load(snapshot) error = %v", err)
	}
	if r, _, _, _ := img.At(0, 0).RGBA(); r>>8 != 255 {
		t.Errorf("snapshot pixel red = %d; want 255", r>>8)
	}

	stored, err := cat.Get(context.Background(), "fixed")
	if err != nil {
		t.Fatalf("catalog Get() error = %v", err)
	}
	if !stored.CreatedAt.Equal(want.CreatedAt) || stored.Location != want.Location {
		t.Errorf("catalog record = %+v", stored)
	}
}

func TestServiceTakeNoFrame(t *testing.T) {
	svc := NewService(&fakeS3{}, nil, imgio.PNG, 0)
	if _, err := svc.Take(context.Background(), pipeline.Frame{}); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Take(empty) error = %v; want ErrNoFrame", err)
	}
}

type fakeS3 struct {
	mu   sync.Mutex
	puts []*s3.PutObjectInput
	err  error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, in)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

// Put satisfies Store so the fake can stand in for a store directly.
func (f *fakeS3) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	return "mem://" + key, f.err
}

func TestS3StorePut(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		err     error
		wantKey string
		wantLoc string
		wantErr string
	}{
		{"no prefix", "", nil, "k.png", "s3://bucket/k.png", ""},
		{"prefix gets slash", "mirror", nil, "mirror/k.png", "s3://bucket/mirror/k.png", ""},
		{"api error", "p/", &smithy.GenericAPIError{Code: "AccessDenied", Message: "nope"}, "p/k.png", "", "AccessDenied"},
		{"transport error", "", fmt.Errorf("dial tcp: refused"), "k.png", "", "refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeS3{err: tt.err}
			s := newS3Store(fake, "bucket", tt.prefix)
			loc, err := s.Put(context.Background(), "k.png", "image/png", []byte("img"))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Put() error = %v; want containing %q", err, tt.wantErr)
				}
			} else if err != nil || loc != tt.wantLoc {
				t.Fatalf("Put() = %q, %v; want %q", loc, err, tt.wantLoc)
			}
			if len(fake.puts) != 1 {
				t.Fatalf("PutObject called %d times; want 1", len(fake.puts))
			}
			in := fake.puts[0]
			if *in.Bucket != "bucket" || *in.Key != tt.wantKey || *in.ContentType != "image/png" || *in.ContentLength != 3 {
				t.Errorf("PutObjectInput = bucket %q key %q type %q len %d", *in.Bucket, *in.Key, *in.ContentType, *in.ContentLength)
			}
		})
	}
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(context.Background(), S3Options{}); err == nil {
		t.Error("NewS3Store() accepted an empty bucket")
	}
}

func TestS3StoreAgainstEndpoint(t *testing.T) {
	var (
		mu      sync.Mutex
		gotPath string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "unexpected method", http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath, gotBody = r.URL.Path, body
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "none"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "none"))

	store, err := NewS3Store(context.Background(), S3Options{
		Bucket:          "snaps",
		Region:          "us-east-1",
		Prefix:          "mirror",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("NewS3Store() error = %v", err)
	}

	loc, err := store.Put(context.Background(), "frame.png", "image/png", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if loc != "s3://snaps/mirror/frame.png" {
		t.Errorf("Put() location = %q", loc)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/snaps/mirror/frame.png" {
		t.Errorf("request path = %q; want /snaps/mirror/frame.png", gotPath)
	}
	if !strings.Contains(string(gotBody), "png-bytes") {
		t.Errorf("request body = %q; want the object bytes", gotBody)
	}
}
