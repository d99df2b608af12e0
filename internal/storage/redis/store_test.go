package redis

import (
	"context"
	stdErrors "errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"ImageGen-Console/internal/storage"
)

func TestNewRequiresAddress(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty address")
	}
}

// 需要真实 Redis，通过 IMAGEGEN_TEST_REDIS 指定地址。
func TestStoreAgainstRedis(t *testing.T) {
	addr := os.Getenv("IMAGEGEN_TEST_REDIS")
	if addr == "" {
		t.Skip("IMAGEGEN_TEST_REDIS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := New(ctx, Config{Address: addr, TTL: time.Minute})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()

	key := "imagegen-test:" + uuid.NewString()
	if _, err := store.Get(ctx, key); !stdErrors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Set(ctx, key, []byte("payload")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := store.Get(ctx, key)
	if err != nil || string(got) != "payload" {
		t.Fatalf("unexpected get: %q %v", got, err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, key); !stdErrors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected key to be gone, got %v", err)
	}
}
