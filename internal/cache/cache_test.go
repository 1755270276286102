package cache

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestKeyIsContentAddressed(t *testing.T) {
	a := Key("inpaint", []byte("panel"))
	b := Key("inpaint", []byte("panel"))
	c := Key("crops", []byte("panel"))
	if a != b {
		t.Error("same input must give the same key")
	}
	if a == c {
		t.Error("different operations must not share keys")
	}
	if !strings.HasPrefix(a, "panelreel:inpaint:") {
		t.Errorf("unexpected key %q", a)
	}
}

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("expected miss on empty store")
	}
	if err := m.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := m.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Errorf("expected hit with v, got %q %v %v", v, ok, err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(20 * time.Millisecond)

	_ = m.Set(ctx, "k", []byte("v"))
	time.Sleep(50 * time.Millisecond)

	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("expected entry to expire")
	}
}

func TestMemoryCloseDropsEntries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	_ = m.Set(ctx, "a", []byte("1"))
	_ = m.Set(ctx, "b", []byte("2"))
	if m.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", m.Len())
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 0 {
		t.Errorf("expected empty store after Close, have %d", m.Len())
	}
}
