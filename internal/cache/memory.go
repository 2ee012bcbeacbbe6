package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryClient is an in-process cache. Expired entries are dropped lazily.
type MemoryClient struct {
	mu      sync.RWMutex
	data    map[string]entry
	maxSize int
	now     func() time.Time
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemoryClient creates a new in-memory cache client holding at most maxSize keys.
func NewMemoryClient(maxSize int) *MemoryClient {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryClient{
		data:    make(map[string]entry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Get retrieves a value from cache.
func (c *MemoryClient) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.data[key]
	if !ok || e.expired(c.now()) {
		return nil, ErrCacheMiss
	}
	return e.value, nil
}

// Set stores a value in cache with TTL. A zero TTL keeps the key until evicted.
func (c *MemoryClient) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evict()
	}
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.data[key] = e
	return nil
}

// Delete removes a value from cache.
func (c *MemoryClient) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// DeleteByPrefix removes all keys with the given prefix.
func (c *MemoryClient) DeleteByPrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.data {
		if strings.HasPrefix(key, prefix) {
			delete(c.data, key)
		}
	}
	return nil
}

// Len reports the number of stored keys, expired ones included.
func (c *MemoryClient) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Close is a no-op for memory cache.
func (c *MemoryClient) Close() error {
	return nil
}

// evict drops expired entries, or failing that the one expiring soonest.
func (c *MemoryClient) evict() {
	now := c.now()
	removed := false
	for key, e := range c.data {
		if e.expired(now) {
			delete(c.data, key)
			removed = true
		}
	}
	if removed {
		return
	}
	var victim string
	var victimExp time.Time
	for key, e := range c.data {
		if victim == "" || (!e.expiresAt.IsZero() && (victimExp.IsZero() || e.expiresAt.Before(victimExp))) {
			victim, victimExp = key, e.expiresAt
		}
	}
	if victim != "" {
		delete(c.data, victim)
	}
}
