package cachebay

import (
	"fmt"
	"sync/atomic"

	"github.com/cachebay/cachebay/internal/graph"
)

// RootQuery is the fixed entity key for the query root (spec §3 "Root
// records"). Mutations never write here -- each gets its own ephemeral
// root key that is discarded once normalization completes.
const RootQuery graph.EntityKey = "@"

// nextSubscriptionRoot returns the next "@subscription.<n>" root id, n
// monotonic per cache instance (spec §3, §6).
func (c *Cache) nextSubscriptionRoot() graph.EntityKey {
	n := atomic.AddUint64(&c.subCounter, 1) - 1
	return graph.EntityKey(fmt.Sprintf("@subscription.%d", n))
}

// nextMutationRoot returns a fresh, never-reused ephemeral root key for
// normalizing one mutation payload (spec §3 "Mutations do not persist a
// root record").
func (c *Cache) nextMutationRoot() graph.EntityKey {
	n := atomic.AddUint64(&c.mutCounter, 1) - 1
	return graph.EntityKey(fmt.Sprintf("@mutation.%d", n))
}
