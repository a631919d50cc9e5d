package session

import "sync"

// Cache is the small survives-the-connection key/value store the engine
// uses to tell a quick reload apart from a fresh visit. The gateway keys it
// per identity, so values persist across sockets from the same user.
type Cache interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

// MemCache is a process-local Cache.
type MemCache struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemCache creates an empty MemCache.
func NewMemCache() *MemCache {
	return &MemCache{m: make(map[string]string)}
}

func (c *MemCache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *MemCache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

func (c *MemCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}
