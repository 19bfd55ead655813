package cachebay

import "github.com/cachebay/cachebay/persist"

// Dehydrate captures the cache's current base state as a
// JSON-serializable snapshot (spec §6). The optimistic overlay is
// never included.
func (c *Cache) Dehydrate() persist.Snapshot {
	return persist.Dehydrate(c.graph)
}

// Hydrate replaces the cache's base state with snap atomically and
// clears the optimistic stack (spec §6).
func (c *Cache) Hydrate(snap persist.Snapshot) {
	persist.Hydrate(c.graph, c.stack, snap)
}
