// Package storage holds playlist audio files. Files are addressed by an
// opaque key; the local backend maps keys to paths inside a sandbox
// directory and the s3 backend to objects under a bucket prefix.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/jmylchreest/radiarr/internal/config"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("stored object not found")

// Store is a playlist audio file backend.
type Store interface {
	// Open returns the object stored under key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Put stores r under key, replacing any existing object, and returns the
	// number of bytes written.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// New creates the backend selected by cfg.
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewSandbox(cfg.BaseDir)
	case "s3":
		return NewS3Store(cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// AudioKey returns the key an imported audio file is stored under.
func AudioKey(stationID, fileID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return path.Join(stationID, fileID+ext)
}
