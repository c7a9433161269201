package registry

import (
	"sync"
	"time"

	"github.com/haasonsaas/conduit/pkg/models"
)

// DefaultCacheTTL is the registry read-through cache's default lifetime.
const DefaultCacheTTL = 30 * time.Second

type cacheEntry struct {
	fn        *models.FunctionSchema
	expiresAt time.Time
}

// readThroughCache is a short-lived per-function_id cache in front of a
// Store's Get, invalidated on any local write.
type readThroughCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

func newReadThroughCache(ttl time.Duration) *readThroughCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &readThroughCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *readThroughCache) get(functionID string) (*models.FunctionSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[functionID]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	cp := *entry.fn
	return &cp, true
}

func (c *readThroughCache) set(fn *models.FunctionSchema) {
	if fn == nil {
		return
	}
	cp := *fn
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fn.FunctionID] = cacheEntry{fn: &cp, expiresAt: c.now().Add(c.ttl)}
}

func (c *readThroughCache) invalidate(functionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, functionID)
}

func (c *readThroughCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
