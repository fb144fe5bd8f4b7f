// Package packagestore implements the two-tier payload strategy for blueprint
// packages: a primary blob store when one is configured and reachable, with
// silent fallback to chunk rows in the relational store. The storage key
// recorded on the version row tells reads which tier holds the payload.
package packagestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/blueprint-hub/blueprint-hub/internal/db/models"
	"github.com/blueprint-hub/blueprint-hub/internal/storage"
	"github.com/blueprint-hub/blueprint-hub/internal/telemetry"
	"github.com/blueprint-hub/blueprint-hub/pkg/checksum"
)

// ChunkSource reads the ordered chunk rows of a version. Satisfied by
// repositories.BlueprintRepository.
type ChunkSource interface {
	GetChunks(ctx context.Context, versionID string) ([]string, error)
}

// Store routes package payloads between the primary blob tier and the chunk
// fallback.
type Store struct {
	blob      storage.Blob // nil means chunk-only mode
	chunks    ChunkSource
	chunkSize int
}

// New creates a package store. blob may be nil when no primary backend is
// configured.
func New(blob storage.Blob, chunks ChunkSource, chunkSize int) *Store {
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	return &Store{blob: blob, chunks: chunks, chunkSize: chunkSize}
}

// BlobKey builds the primary-tier key for a version.
func BlobKey(slug string, versionNumber int) string {
	return fmt.Sprintf("packages/%s/v%d.json", slug, versionNumber)
}

// Save writes the payload to the primary tier if possible. When the primary
// tier is absent or the write fails, it falls back to chunking: the returned
// storage key is the chunk marker and the chunk slice is non-empty, to be
// persisted inside the caller's catalog transaction. A primary-tier failure
// never fails the save.
func (s *Store) Save(ctx context.Context, slug string, versionNumber int, payload []byte) (storageKey string, chunks []string) {
	key := BlobKey(slug, versionNumber)

	if s.blob != nil {
		_, err := s.blob.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)))
		if err == nil {
			return key, nil
		}
		slog.Warn("primary blob write failed, falling back to chunk storage",
			"key", key, "error", err)
	}

	telemetry.ChunkFallbackWritesTotal.Inc()
	return models.ChunkStorageKey, s.split(payload)
}

func (s *Store) split(payload []byte) []string {
	text := string(payload)
	chunks := make([]string, 0, (len(text)+s.chunkSize-1)/s.chunkSize)
	for start := 0; start < len(text); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
	}
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	return chunks
}

// Load reconstitutes a version's exact payload from whichever tier holds it.
// When the version row carries a checksum, the payload is verified against it
// so corruption in either tier surfaces as an error instead of a bad package.
func (s *Store) Load(ctx context.Context, version *models.BlueprintVersion) ([]byte, error) {
	var payload []byte

	if version.IsChunked() {
		parts, err := s.chunks.GetChunks(ctx, version.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load package chunks: %w", err)
		}
		if len(parts) == 0 {
			return nil, fmt.Errorf("no chunks stored for version %s", version.ID)
		}
		payload = []byte(strings.Join(parts, ""))
	} else {
		if s.blob == nil {
			return nil, fmt.Errorf("version %s references blob key %q but no blob backend is configured", version.ID, version.StorageKey)
		}

		reader, err := s.blob.Get(ctx, version.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load package blob: %w", err)
		}
		defer reader.Close()

		payload, err = io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read package blob: %w", err)
		}
	}

	if version.Checksum != "" && !checksum.VerifyBytes(payload, version.Checksum) {
		return nil, fmt.Errorf("checksum mismatch for version %s: stored payload does not match recorded digest", version.ID)
	}
	return payload, nil
}
