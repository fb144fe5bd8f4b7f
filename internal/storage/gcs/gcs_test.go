package gcs

import (
	"testing"

	"github.com/blueprint-hub/blueprint-hub/internal/config"
)

func TestNew_RequiresBucket(t *testing.T) {
	if _, err := New(&config.GCSStorageConfig{}); err == nil {
		t.Error("expected error for missing bucket")
	}
}
