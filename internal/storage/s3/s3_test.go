package s3

import (
	"testing"

	"github.com/blueprint-hub/blueprint-hub/internal/config"
)

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(&config.S3StorageConfig{Region: "us-east-1"})
	if err == nil {
		t.Error("expected error for missing bucket")
	}
}

func TestNew_RequiresRegion(t *testing.T) {
	_, err := New(&config.S3StorageConfig{Bucket: "blueprints"})
	if err == nil {
		t.Error("expected error for missing region")
	}
}

func TestNew_StaticCredentials(t *testing.T) {
	blob, err := New(&config.S3StorageConfig{
		Bucket:          "blueprints",
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blob.bucket != "blueprints" {
		t.Errorf("bucket = %s", blob.bucket)
	}
}
