package asr

import (
	"sync"
	"sync/atomic"
)

// Cache holds loaded model handles for the lifetime of the process.
// Loading is single-flight per key: two jobs requesting the same model
// concurrently trigger exactly one load. Failed loads are forgotten so
// a later job can retry.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	warm    atomic.Bool
}

type cacheEntry struct {
	once   sync.Once
	handle any
	err    error
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*cacheEntry)}
}

// Get returns the cached handle for model, invoking load at most once
// per key while it remains cached.
func (c *Cache) Get(model string, load func() (any, error)) (any, error) {
	c.mu.Lock()
	e := c.entries[model]
	if e == nil {
		e = &cacheEntry{}
		c.entries[model] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.handle, e.err = load()
		if e.err == nil {
			c.warm.Store(true)
		}
	})

	if e.err != nil {
		c.mu.Lock()
		if c.entries[model] == e {
			delete(c.entries, model)
		}
		c.mu.Unlock()
		return nil, e.err
	}
	return e.handle, nil
}

// Warm reports whether at least one model has finished loading.
func (c *Cache) Warm() bool {
	return c.warm.Load()
}
