// Package storage defines the archive backend interface used to keep signed
// passports and their detached signatures.
//
// Backends register themselves with the factory from an init() function in
// their own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.ArchiveConfig) (storage.Storage, error) {
//	        return New(cfg)
//	    })
//	}
//
// The server and passportctl blank-import each backend to trigger init().
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrNotFound is wrapped by Download when the object does not exist.
var ErrNotFound = errors.New("archive object not found")

// Storage is an archive backend.
type Storage interface {
	// Upload stores the object and returns its path, size and SHA256 checksum.
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download opens a stored object.
	Download(ctx context.Context, path string) (io.ReadCloser, error)
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	Path string

	Size int64

	// Checksum is the hex SHA256 of the object contents
	Checksum string
}

// ContentType reports the media type stored with an archive object.
func ContentType(path string) string {
	if strings.HasSuffix(path, ".asc") {
		return "application/pgp-signature"
	}
	return "application/json"
}
