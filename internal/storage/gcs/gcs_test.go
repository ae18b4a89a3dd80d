package gcs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ai4hf/passport/internal/config"
)

// ---------------------------------------------------------------------------
// New() / clientOptions : validation without a GCS connection
// ---------------------------------------------------------------------------

func TestNew_MissingBucket(t *testing.T) {
	if _, err := New(&config.GCSStorageConfig{}); err == nil {
		t.Error("New() = nil error, want error for missing bucket")
	}
}

func TestClientOptions(t *testing.T) {
	credFile := filepath.Join(t.TempDir(), "sa.json")
	if err := os.WriteFile(credFile, []byte(`{"type":"service_account"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		cfg      config.GCSStorageConfig
		wantErr  bool
		wantOpts int
	}{
		{"default", config.GCSStorageConfig{Bucket: "b"}, false, 0},
		{"workload identity with emulator", config.GCSStorageConfig{Bucket: "b", AuthMethod: "workload_identity", Endpoint: "http://localhost:4443"}, false, 1},
		{"inferred service account json", config.GCSStorageConfig{Bucket: "b", CredentialsJSON: `{"type":"service_account"}`}, false, 1},
		{"service account file", config.GCSStorageConfig{Bucket: "b", AuthMethod: "service_account", CredentialsFile: credFile}, false, 1},
		{"service account without credentials", config.GCSStorageConfig{Bucket: "b", AuthMethod: "service_account"}, true, 0},
		{"unsupported", config.GCSStorageConfig{Bucket: "b", AuthMethod: "not-a-valid-method"}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := clientOptions(&tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("clientOptions() = nil error, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("clientOptions() error: %v", err)
			}
			if len(opts) != tt.wantOpts {
				t.Errorf("clientOptions() returned %d options, want %d", len(opts), tt.wantOpts)
			}
		})
	}
}
