// Package storage defines the Blob interface and registry for primary
// blob-store backends.
//
// New backends are added by implementing the Blob interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (Blob, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init().
// Adding a backend therefore requires no factory or main-package changes
// beyond the blank import.
//
// The primary tier is optional: when no backend is configured, package
// payloads live as chunk rows in the relational store instead (see
// internal/packagestore).
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get when no object exists at the key.
var ErrNotFound = errors.New("object not found")

// Blob is the interface all primary blob-store backends implement. Keys are
// slash-separated paths such as packages/{slug}/v{N}.json.
type Blob interface {
	// Put stores the object bytes at key, overwriting any previous object
	Put(ctx context.Context, key string, reader io.Reader, size int64) (*PutResult, error)

	// Get retrieves the object at key; ErrNotFound when absent
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object at key; deleting an absent key is a no-op
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is stored at key
	Exists(ctx context.Context, key string) (bool, error)
}

// PutResult describes a stored object.
type PutResult struct {
	// Key is the storage key where the object was written
	Key string

	// Size is the object size in bytes
	Size int64

	// Checksum is the SHA256 hash of the object contents
	Checksum string
}
