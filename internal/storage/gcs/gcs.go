// Package gcs implements the Google Cloud Storage archive backend. It supports
// Application Default Credentials, service account keys and Workload Identity.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/ai4hf/passport/internal/config"
	appstorage "github.com/ai4hf/passport/internal/storage"
	"github.com/ai4hf/passport/pkg/checksum"
)

func init() {
	appstorage.Register("gcs", func(cfg *config.ArchiveConfig) (appstorage.Storage, error) {
		return New(&cfg.GCS)
	})
}

// GCSStorage archives objects in a single bucket.
type GCSStorage struct {
	client *storage.Client
	bucket string
}

// clientOptions translates the auth settings into client options.
func clientOptions(cfg *config.GCSStorageConfig) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		authMethod = "default"
		if cfg.CredentialsFile != "" || cfg.CredentialsJSON != "" {
			authMethod = "service_account"
		}
	}

	switch authMethod {
	case "service_account":
		switch {
		case cfg.CredentialsJSON != "":
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		case cfg.CredentialsFile != "":
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		default:
			return nil, fmt.Errorf("credentials_file or credentials_json is required for service_account auth")
		}
	case "workload_identity", "default":
		// ADC covers GOOGLE_APPLICATION_CREDENTIALS and the metadata server.
	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'service_account', or 'workload_identity')", authMethod)
	}
	return opts, nil
}

// New creates a GCS archive backend.
func New(cfg *config.GCSStorageConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStorage{client: client, bucket: cfg.Bucket}, nil
}

// Close closes the GCS client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

// Upload writes the object with its SHA256 in the object metadata.
func (s *GCSStorage) Upload(ctx context.Context, path string, reader io.Reader, _ int64) (*appstorage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	sum := checksum.Sum(data)

	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	w.Metadata = map[string]string{"sha256": sum}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	return &appstorage.UploadResult{Path: path, Size: int64(len(data)), Checksum: sum}, nil
}

// Download opens a stored object.
func (s *GCSStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", appstorage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	return r, nil
}
