package cache

import (
	"context"
	"sync"
	"time"
)

type cacheItem struct {
	value      []byte
	expiration time.Time
}

// MemoryCache is a thread-safe in-memory cache with TTL support.
type MemoryCache struct {
	data  map[string]cacheItem
	ttl   time.Duration
	mutex sync.RWMutex
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		data: make(map[string]cacheItem),
		ttl:  ttl,
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]float32, error) {
	c.mutex.RLock()
	item, exists := c.data[key]
	c.mutex.RUnlock()

	if !exists {
		return nil, ErrCacheMiss
	}
	if c.ttl > 0 && time.Now().After(item.expiration) {
		c.mutex.Lock()
		delete(c.data, key)
		c.mutex.Unlock()
		return nil, ErrCacheMiss
	}

	// Stored as bytes so callers never share a backing array with the cache.
	return decodeVector(item.value)
}

func (c *MemoryCache) Set(ctx context.Context, key string, vector []float32) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data[key] = cacheItem{
		value:      encodeVector(vector),
		expiration: time.Now().Add(c.ttl),
	}
	return nil
}

// Size returns the current number of items in the cache.
func (c *MemoryCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.data)
}

func (c *MemoryCache) Close() error {
	return nil
}
