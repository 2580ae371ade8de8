// Package storage provides the blob store for uploaded statement files with
// local and S3 implementations. Gzip-compressed objects are decompressed
// transparently on read.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("stored file not found")

// Storage defines the blob operations the import engine relies on. Paths are
// opaque keys returned by Store.
type Storage interface {
	// Store persists the content and returns its path.
	Store(ctx context.Context, userID uuid.UUID, filename string, r io.Reader) (string, error)

	// Read returns the stored bytes exactly as written.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	Delete(ctx context.Context, path string) error

	Exists(ctx context.Context, path string) (bool, error)
}

// StorageType identifies the storage backend
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
)

// Config holds storage configuration
type Config struct {
	Type StorageType

	// Compress gzips files on Store. Paths of compressed files end in ".gz".
	Compress bool

	LocalPath string

	S3Bucket          string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Endpoint        string // For S3-compatible services (MinIO, etc.)
}

// New creates a Storage implementation based on configuration
func New(ctx context.Context, cfg *Config) (Storage, error) {
	var (
		s   Storage
		err error
	)
	switch cfg.Type {
	case StorageTypeS3:
		s, err = NewS3Storage(ctx, cfg)
	case StorageTypeLocal, "":
		s, err = NewLocalStorage(cfg.LocalPath)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Compress {
		s = NewCompressing(s)
	}
	return s, nil
}

// objectKey builds "<user>/<short-id>_<safe-name>".
func objectKey(userID uuid.UUID, filename string) string {
	return path.Join(userID.String(), fmt.Sprintf("%s_%s", uuid.NewString()[:8], sanitizeFilename(filename)))
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeFilename removes unsafe characters from filenames
func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "upload"
	}
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	return name
}
