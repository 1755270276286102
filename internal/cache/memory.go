package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process Store. It is the default when no redis address is
// configured and lives for one process.
type Memory struct {
	items *gocache.Cache
}

// NewMemory creates an empty in-memory store whose entries expire after ttl.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{items: gocache.New(ttl, 2*ttl)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := m.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	value, ok := v.([]byte)
	return value, ok, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.items.SetDefault(key, value)
	return nil
}

func (m *Memory) Close() error {
	m.items.Flush()
	return nil
}

// Len returns the number of stored entries. Expired entries count until the
// next cleanup.
func (m *Memory) Len() int {
	return m.items.ItemCount()
}
