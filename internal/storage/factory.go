// factory.go implements the storage backend registry and factory, mapping backend type
// strings (local, s3, azure, gcs) to constructor functions and dispatching NewBlob calls.
package storage

import (
	"fmt"

	"github.com/blueprint-hub/blueprint-hub/internal/config"
)

// Factory function type for creating blob backends
type FactoryFunc func(*config.Config) (Blob, error)

var factories = make(map[string]FactoryFunc)

// Register registers a blob backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// NewBlob creates the configured primary blob backend. It returns (nil, nil)
// when no primary backend is configured; callers treat a nil Blob as
// "chunk-only mode".
func NewBlob(cfg *config.Config) (Blob, error) {
	if cfg.Storage.PrimaryBackend == "" {
		return nil, nil
	}

	factory, ok := factories[cfg.Storage.PrimaryBackend]
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %s (must be 'local', 'azure', 's3', or 'gcs')", cfg.Storage.PrimaryBackend)
	}

	return factory(cfg)
}
