package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrMiss) {
		t.Errorf("Get(missing) error = %v, want ErrMiss", err)
	}

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get() = %q, want v", got)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("Get after delete error = %v, want ErrMiss", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("expired key should miss, got error = %v", err)
	}
}

func TestMemoryCacheDeletePrefix(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	_ = c.Set(ctx, "rag:proj-a:1", []byte("x"), time.Minute)
	_ = c.Set(ctx, "rag:proj-a:2", []byte("y"), time.Minute)
	_ = c.Set(ctx, "rag:proj-b:1", []byte("z"), time.Minute)

	if err := c.DeletePrefix(ctx, "rag:proj-a:"); err != nil {
		t.Fatalf("DeletePrefix() error = %v", err)
	}

	if _, err := c.Get(ctx, "rag:proj-a:1"); !errors.Is(err, ErrMiss) {
		t.Error("prefixed key survived DeletePrefix")
	}
	if _, err := c.Get(ctx, "rag:proj-b:1"); err != nil {
		t.Error("other project's key was deleted")
	}
}
