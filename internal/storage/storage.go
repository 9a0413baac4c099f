// Package storage stores post images in an object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/quillpress/apiserver/config"
	"github.com/quillpress/apiserver/internal/logging"
)

// ErrObjectNotFound is returned by Get for a missing key.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectStorage is implemented by every backend.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Storage wraps a backend and logs writes.
type Storage struct {
	backend ObjectStorage
	logger  zerolog.Logger
}

func NewStorage(backend ObjectStorage, logger zerolog.Logger) *Storage {
	return &Storage{
		backend: backend,
		logger:  logging.Component(logger, "storage").With().Str("bucket", backend.Bucket()).Logger(),
	}
}

// Open builds the backend selected in cfg and makes sure its bucket exists.
// The "none" backend returns nil and no error; image upload is then disabled.
func Open(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (*Storage, error) {
	var backend ObjectStorage
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "minio":
		client, err := NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		backend = client
	case "gcs":
		client, err := NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		backend = client
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}

	if err := backend.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", backend.Bucket(), err)
	}
	return NewStorage(backend, logger), nil
}

func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := s.backend.Put(ctx, key, r, size, contentType); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("upload failed")
		return err
	}
	s.logger.Info().Str("key", key).Int64("size", size).Msg("object stored")
	return nil
}

func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}
