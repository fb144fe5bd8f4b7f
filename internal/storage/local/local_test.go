package local

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/blueprint-hub/blueprint-hub/internal/config"
	"github.com/blueprint-hub/blueprint-hub/internal/storage"
)

func newLocal(t *testing.T) *LocalBlob {
	t.Helper()
	blob, err := New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return blob
}

func TestPutGetRoundtrip(t *testing.T) {
	blob := newLocal(t)
	ctx := context.Background()
	payload := []byte(`{"blueprintId":"bp-demo"}`)

	result, err := blob.Put(ctx, "packages/bp-demo/v1.json", bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if result.Size != int64(len(payload)) {
		t.Errorf("Size = %d, want %d", result.Size, len(payload))
	}
	wantSum := sha256.Sum256(payload)
	if result.Checksum != hex.EncodeToString(wantSum[:]) {
		t.Errorf("Checksum = %s", result.Checksum)
	}

	reader, err := blob.Get(ctx, "packages/bp-demo/v1.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer reader.Close()
	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch: got %q", got)
	}
}

func TestPutOverwrites(t *testing.T) {
	blob := newLocal(t)
	ctx := context.Background()

	if _, err := blob.Put(ctx, "k.json", strings.NewReader("first"), 5); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := blob.Put(ctx, "k.json", strings.NewReader("second"), 6); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	reader, err := blob.Get(ctx, "k.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer reader.Close()
	got, _ := io.ReadAll(reader)
	if string(got) != "second" {
		t.Errorf("got %q, want second", got)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	blob := newLocal(t)

	_, err := blob.Get(context.Background(), "packages/missing/v1.json")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	blob := newLocal(t)
	ctx := context.Background()

	if _, err := blob.Put(ctx, "a/b.json", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := blob.Delete(ctx, "a/b.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := blob.Delete(ctx, "a/b.json"); err != nil {
		t.Errorf("second Delete: %v", err)
	}

	exists, err := blob.Exists(ctx, "a/b.json")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("object still exists after delete")
	}
}

func TestExists(t *testing.T) {
	blob := newLocal(t)
	ctx := context.Background()

	exists, err := blob.Exists(ctx, "nope.json")
	if err != nil || exists {
		t.Errorf("Exists(absent) = %v, %v", exists, err)
	}

	if _, err := blob.Put(ctx, "yep.json", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Put: %v", err)
	}
	exists, err = blob.Exists(ctx, "yep.json")
	if err != nil || !exists {
		t.Errorf("Exists(present) = %v, %v", exists, err)
	}
}
