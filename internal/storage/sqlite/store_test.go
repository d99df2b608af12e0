package sqlite

import (
	"context"
	stdErrors "errors"
	"path/filepath"
	"testing"

	"ImageGen-Console/internal/storage"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache", "genconsole.db")
	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer store.Close()

	if _, err := store.Get(ctx, "imagegen:cache_meta"); !stdErrors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Set(ctx, "imagegen:cache_meta", []byte(`{"version":"1.0"}`)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ctx, "imagegen:cache_meta", []byte(`{"version":"1.1"}`)); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	value, err := store.Get(ctx, "imagegen:cache_meta")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(value) != `{"version":"1.1"}` {
		t.Fatalf("expected overwritten value, got %s", value)
	}

	if err := store.Delete(ctx, "imagegen:cache_meta", "imagegen:history_cache"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "imagegen:cache_meta"); !stdErrors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStorePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "genconsole.db")

	first, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := first.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	first.Close()

	second, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()
	if value, err := second.Get(ctx, "k"); err != nil || string(value) != "v" {
		t.Fatalf("unexpected value %q err %v", value, err)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
