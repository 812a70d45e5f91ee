package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryProvider(time.Minute, 0)

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}

	value := []byte("report")
	if err := m.Set(ctx, "k", value, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	value[0] = 'X'

	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "report" {
		t.Fatalf("expected stored copy, got %q", got)
	}

	if err := m.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestMemoryProviderExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC)
	m := NewMemoryProvider(time.Minute, 0)
	m.now = func() time.Time { return now }

	_ = m.Set(ctx, "short", []byte("a"), time.Second)
	_ = m.Set(ctx, "default", []byte("b"), 0)

	now = now.Add(2 * time.Second)
	if _, err := m.Get(ctx, "short"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected short entry to expire, got %v", err)
	}
	if _, err := m.Get(ctx, "default"); err != nil {
		t.Fatalf("expected default-ttl entry to survive: %v", err)
	}

	now = now.Add(time.Minute)
	if removed := m.Sweep(); removed != 1 {
		t.Fatalf("expected sweep to remove 1 entry, removed %d", removed)
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", m.Len())
	}
}

func TestMemoryProviderBoundedSize(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC)
	m := NewMemoryProvider(0, 2)
	m.now = func() time.Time { return now }

	_ = m.Set(ctx, "soon", []byte("1"), time.Second)
	_ = m.Set(ctx, "later", []byte("2"), time.Hour)
	_ = m.Set(ctx, "new", []byte("3"), time.Hour)

	if m.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", m.Len())
	}
	if _, err := m.Get(ctx, "soon"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected entry closest to expiry to be evicted, got %v", err)
	}
	if _, err := m.Get(ctx, "new"); err != nil {
		t.Fatalf("expected new entry: %v", err)
	}
}

func TestNoopProvider(t *testing.T) {
	var p Provider = NoopProvider{}
	if err := p.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := p.Get(context.Background(), "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected noop cache to miss, got %v", err)
	}
}
