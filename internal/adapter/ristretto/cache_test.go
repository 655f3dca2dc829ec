package ristretto

import (
	"context"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestCacheSetGetDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "stats", []byte(`{"active_agents":2}`), time.Minute); err != nil {
		t.Fatal(err)
	}
	val, found, err := c.Get(ctx, "stats")
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(val) != `{"active_agents":2}` {
		t.Fatalf("expected cached value, got %q found=%v", val, found)
	}

	if err := c.Delete(ctx, "stats"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := c.Get(ctx, "stats"); found {
		t.Error("expected miss after delete")
	}
}

func TestCacheMiss(t *testing.T) {
	c := newTestCache(t)
	if _, found, err := c.Get(context.Background(), "nope"); err != nil || found {
		t.Errorf("expected clean miss, got found=%v err=%v", found, err)
	}
}

func TestCacheOverwrite(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("v1"), time.Minute)
	_ = c.Set(ctx, "k", []byte("v2"), time.Minute)

	val, found, _ := c.Get(ctx, "k")
	if !found || string(val) != "v2" {
		t.Errorf("expected v2 after overwrite, got %q", val)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "short", []byte("x"), 50*time.Millisecond)
	time.Sleep(1200 * time.Millisecond)

	if _, found, _ := c.Get(ctx, "short"); found {
		t.Error("expected entry to expire")
	}
}
