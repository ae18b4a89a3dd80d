package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ai4hf/passport/internal/config"
	"github.com/ai4hf/passport/internal/storage"
	"github.com/ai4hf/passport/pkg/checksum"
)

func newTestStorage(t *testing.T) (*LocalStorage, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "archive")
	s, err := New(&config.LocalStorageConfig{BasePath: dir})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s, dir
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_CreatesDirectory(t *testing.T) {
	_, dir := newTestStorage(t)
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("base directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("base path is not a directory")
	}
}

func TestNew_EmptyBasePath(t *testing.T) {
	if _, err := New(&config.LocalStorageConfig{}); err == nil {
		t.Error("New() = nil error, want error for empty base path")
	}
}

// ---------------------------------------------------------------------------
// Upload / Download
// ---------------------------------------------------------------------------

func TestUpload_WritesObjectAndChecksum(t *testing.T) {
	s, dir := newTestStorage(t)
	data := []byte(`{"studyId":"S1"}`)

	res, err := s.Upload(context.Background(), "passports/7/abc.json", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if res.Path != "passports/7/abc.json" || res.Size != int64(len(data)) {
		t.Errorf("Upload() = %+v", res)
	}
	if res.Checksum != checksum.Sum(data) {
		t.Errorf("Checksum = %s, want %s", res.Checksum, checksum.Sum(data))
	}

	onDisk, err := os.ReadFile(filepath.Join(dir, "passports", "7", "abc.json"))
	if err != nil {
		t.Fatalf("object not on disk: %v", err)
	}
	if !bytes.Equal(onDisk, data) {
		t.Errorf("on-disk content = %q, want %q", onDisk, data)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "passports", "7"))
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want only the object (no temp files)", len(entries))
	}
}

func TestUpload_Overwrites(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()
	if _, err := s.Upload(ctx, "a.json", bytes.NewReader([]byte("one")), 3); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upload(ctx, "a.json", bytes.NewReader([]byte("two")), 3); err != nil {
		t.Fatal(err)
	}
	rc, err := s.Download(ctx, "a.json")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "two" {
		t.Errorf("content = %q, want two", got)
	}
}

func TestUpload_RejectsTraversal(t *testing.T) {
	s, _ := newTestStorage(t)
	_, err := s.Upload(context.Background(), "../outside.json", bytes.NewReader([]byte("x")), 1)
	if err == nil {
		t.Error("Upload() = nil error, want error for path escaping the base directory")
	}
}

func TestDownload_NotFound(t *testing.T) {
	s, _ := newTestStorage(t)
	_, err := s.Download(context.Background(), "passports/1/missing.json")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Download() error = %v, want ErrNotFound", err)
	}
}

func TestRegisteredFactory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "via-factory")
	s, err := storage.NewStorage(&config.ArchiveConfig{
		DefaultBackend: "local",
		Local:          config.LocalStorageConfig{BasePath: dir},
	})
	if err != nil {
		t.Fatalf("NewStorage() error: %v", err)
	}
	if _, ok := s.(*LocalStorage); !ok {
		t.Errorf("NewStorage() = %T, want *LocalStorage", s)
	}
}
