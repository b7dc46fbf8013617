package geocode

import (
	"sync"

	"github.com/daot/disasterdata/internal/domain"
)

// cache is a thread-safe, write-once map from normalized location keys
// to coordinates. Entries are never evicted or overwritten: place
// coordinates don't change, and the key space (place names actually
// mentioned in posts) grows slowly enough that append-only is the
// accepted trade-off.
//
// Insertion order is recorded so fuzzy scans are deterministic for a
// fixed cache state.
type cache struct {
	mu      sync.RWMutex
	entries map[string]domain.Geo
	order   []string
}

func newCache() *cache {
	return &cache{entries: make(map[string]domain.Geo)}
}

func (c *cache) get(key string) (domain.Geo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	geo, ok := c.entries[key]
	return geo, ok
}

// put stores the entry unless the key already exists. First write wins.
func (c *cache) put(key string, geo domain.Geo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return
	}
	c.entries[key] = geo
	c.order = append(c.order, key)
}

// keys returns a snapshot of all keys in insertion order.
func (c *cache) keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func (c *cache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
