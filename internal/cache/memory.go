package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const memoryCleanupInterval = 10 * time.Minute

// Memory is an in-process cache with per-key expiry. It suits single-instance deployments
// and tests; entries do not survive a restart.
type Memory struct {
	store *gocache.Cache
}

// NewMemory constructs an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{store: gocache.New(gocache.NoExpiration, memoryCleanupInterval)}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}
	raw, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	value, ok := raw.([]byte)
	if !ok {
		return nil, false
	}
	return cloneBytes(value), true
}

func (c *Memory) SetWithExpiry(_ context.Context, key string, value []byte, ttl time.Duration) {
	if c == nil || c.store == nil || ttl <= 0 {
		return
	}
	c.store.Set(key, cloneBytes(value), ttl)
}

func (c *Memory) Delete(_ context.Context, key string) {
	if c == nil || c.store == nil {
		return
	}
	c.store.Delete(key)
}

func (c *Memory) Close() error {
	if c == nil || c.store == nil {
		return nil
	}
	c.store.Flush()
	return nil
}
