package monitor

import "sync"

// Status is the cached runtime view of one agent's container.
type Status struct {
	Running bool   `json:"running"`
	CPU     string `json:"cpu"`
	Memory  string `json:"memory"`
	// Uptime is the container start timestamp as reported by the engine.
	Uptime string `json:"uptime"`
}

// Cache holds the latest Status per agent. The monitor is the only writer.
// It is derived state; the agents table stays authoritative.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Status
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]Status)}
}

// Get returns the entry for agentID.
func (c *Cache) Get(agentID string) (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[agentID]
	return s, ok
}

// All returns a copy of every entry.
func (c *Cache) All() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Status, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) set(agentID string, s Status) {
	c.mu.Lock()
	c.entries[agentID] = s
	c.mu.Unlock()
}

// retain drops every entry whose agent is not in seen.
func (c *Cache) retain(seen map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		if !seen[id] {
			delete(c.entries, id)
		}
	}
}
