package services

import "errors"

var (
	// ErrStorageDisabled is returned by image operations when no object
	// storage backend is configured.
	ErrStorageDisabled = errors.New("image storage is not configured")

	// ErrInvalidImage is returned for an empty, oversized or unsupported upload.
	ErrInvalidImage = errors.New("invalid image")

	// ErrNoImage is returned when a post has no cover image.
	ErrNoImage = errors.New("post has no image")
)
