package extension

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quayside/quayside/engine"
)

// Cache memoizes one Handle per extension identifier for the lifetime of
// its owning manager. There is no eviction: the cache is discarded
// wholesale when the manager is discarded.
type Cache struct {
	client  *engine.Client
	factory HandleFactory
	mu      sync.Mutex
	handles map[string]Handle // identifier -> memoized handle
}

// newCache creates a cache whose handles are bound to the given client.
func newCache(client *engine.Client, factory HandleFactory) *Cache {
	return &Cache{
		client:  client,
		factory: factory,
		handles: make(map[string]Handle),
	}
}

// Get returns the existing handle for id, constructing and memoizing one
// on first reference. Repeated calls with the same id return the same
// Handle value.
func (c *Cache) Get(id string) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.handles[id]; ok {
		return h
	}

	h := c.factory(id, c.client)
	c.handles[id] = h
	log.Debug().Str("extension", id).Msg("extension handle created")
	return h
}

// Known returns a snapshot of every handle created so far.
func (c *Cache) Known() []Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	handles := make([]Handle, 0, len(c.handles))
	for _, h := range c.handles {
		handles = append(handles, h)
	}
	return handles
}
