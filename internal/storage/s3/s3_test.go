package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ai4hf/passport/internal/config"
	"github.com/ai4hf/passport/internal/storage"
	"github.com/ai4hf/passport/pkg/checksum"
)

// ---------------------------------------------------------------------------
// New() : constructor validation (no AWS connection required)
// ---------------------------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.S3StorageConfig
	}{
		{"missing bucket", config.S3StorageConfig{Region: "us-east-1"}},
		{"missing region", config.S3StorageConfig{Bucket: "b"}},
		{"static without keys", config.S3StorageConfig{Bucket: "b", Region: "us-east-1", AuthMethod: "static"}},
		{"unsupported method", config.S3StorageConfig{Bucket: "b", Region: "us-east-1", AuthMethod: "kerberos"}},
		{"oidc without role", config.S3StorageConfig{Bucket: "b", Region: "us-east-1", AuthMethod: "oidc"}},
		{"oidc without token file", config.S3StorageConfig{
			Bucket: "b", Region: "us-east-1", AuthMethod: "oidc", RoleARN: "arn:aws:iam::123456789:role/archive",
		}},
		{"assume role without role", config.S3StorageConfig{Bucket: "b", Region: "us-east-1", AuthMethod: "assume_role"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&tt.cfg); err == nil {
				t.Error("New() = nil error, want validation error")
			}
		})
	}
}

func TestNew_StaticAuth_WithEndpoint(t *testing.T) {
	s, err := New(&config.S3StorageConfig{
		Bucket:          "my-bucket",
		Region:          "us-east-1",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        "http://localhost:9000",
	})
	if err != nil {
		t.Fatalf("New() with custom endpoint error: %v", err)
	}
	if s == nil {
		t.Error("New() returned nil storage")
	}
}

// ---------------------------------------------------------------------------
// Mock S3-compatible HTTP server
// ---------------------------------------------------------------------------

type s3MockStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
}

// newS3TestStorage speaks just enough path-style S3 for PutObject and GetObject.
func newS3TestStorage(t *testing.T) (*S3Storage, *s3MockStore) {
	t.Helper()

	ms := &s3MockStore{
		objects: map[string][]byte{},
		meta:    map[string]map[string]string{},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		idx := strings.IndexByte(path, '/')
		if idx < 0 {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		key := path[idx+1:]

		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			meta := map[string]string{}
			for hk, hv := range r.Header {
				lk := strings.ToLower(hk)
				if strings.HasPrefix(lk, "x-amz-meta-") && len(hv) > 0 {
					meta[strings.TrimPrefix(lk, "x-amz-meta-")] = hv[0]
				}
			}
			meta["content-type"] = r.Header.Get("Content-Type")
			ms.mu.Lock()
			ms.objects[key] = data
			ms.meta[key] = meta
			ms.mu.Unlock()
			w.Header().Set("ETag", `"test-etag"`)
			w.WriteHeader(http.StatusOK)

		case http.MethodGet:
			ms.mu.Lock()
			data, ok := ms.objects[key]
			ms.mu.Unlock()
			if !ok {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
			w.Header().Set("ETag", `"test-etag"`)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	s, err := New(&config.S3StorageConfig{
		Bucket:          "passport-archive",
		Region:          "us-east-1",
		AuthMethod:      "static",
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
		Endpoint:        srv.URL,
	})
	if err != nil {
		t.Fatalf("New() for mock S3: %v", err)
	}
	return s, ms
}

// ---------------------------------------------------------------------------
// Upload / Download
// ---------------------------------------------------------------------------

func TestS3_Upload(t *testing.T) {
	s, ms := newS3TestStorage(t)

	data := []byte(`{"modelDetails":[]}`)
	res, err := s.Upload(context.Background(), "passports/3/abc.json", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if res.Path != "passports/3/abc.json" || res.Size != int64(len(data)) {
		t.Errorf("Upload() = %+v", res)
	}
	if res.Checksum != checksum.Sum(data) {
		t.Errorf("Checksum = %q, want %q", res.Checksum, checksum.Sum(data))
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if got := ms.meta["passports/3/abc.json"]["sha256"]; got != res.Checksum {
		t.Errorf("stored sha256 metadata = %q, want %q", got, res.Checksum)
	}
	if got := ms.meta["passports/3/abc.json"]["content-type"]; got != "application/json" {
		t.Errorf("content type = %q, want application/json", got)
	}
}

func TestS3_UploadSignatureContentType(t *testing.T) {
	s, ms := newS3TestStorage(t)
	if _, err := s.Upload(context.Background(), "passports/3/abc.json.asc", strings.NewReader("sig"), 3); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if got := ms.meta["passports/3/abc.json.asc"]["content-type"]; got != "application/pgp-signature" {
		t.Errorf("content type = %q, want application/pgp-signature", got)
	}
}

func TestS3_Download(t *testing.T) {
	s, _ := newS3TestStorage(t)
	ctx := context.Background()

	want := []byte("download me from s3")
	if _, err := s.Upload(ctx, "dl.json", bytes.NewReader(want), int64(len(want))); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	rc, err := s.Download(ctx, "dl.json")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()

	if !bytes.Equal(got, want) {
		t.Errorf("Download content = %q, want %q", got, want)
	}
}

func TestS3_Download_NotFound(t *testing.T) {
	s, _ := newS3TestStorage(t)

	_, err := s.Download(context.Background(), "nonexistent.json")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Download() error = %v, want ErrNotFound", err)
	}
}
