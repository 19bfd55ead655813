package cachebay

import (
	"github.com/cachebay/cachebay/internal/clog"
	"github.com/cachebay/cachebay/internal/graph"
	"github.com/cachebay/cachebay/transport"
)

// CachePolicy names how cached data is weighed against a fresh network
// round-trip (spec §6). The value is stored on the Cache; no façade
// method reads it, and ExecuteQuery/ExecuteMutation always issue a
// network request.
type CachePolicy string

const (
	NetworkOnly     CachePolicy = "network-only"
	CacheFirst      CachePolicy = "cache-first"
	CacheAndNetwork CachePolicy = "cache-and-network"
)

// KeyFunc computes the id portion of an entity key from a normalized
// object of a given typename (spec §3 "Entity key").
type KeyFunc = graph.KeyFunc

// Config is the enumerated set of construction-time options for a
// cache instance (spec §6). There is no global state: every option
// here is owned by the *Cache a single New(cfg) call returns (spec §9).
type Config struct {
	// Keys maps a typename to the function that computes its id from a
	// normalized object. Typenames with no entry here fall back to a
	// synthetic parent-embedded key (spec §3).
	Keys map[string]KeyFunc

	// Interfaces maps an interface name to its concrete implementor
	// typenames, so a write under any implementor and a read via the
	// interface name resolve to the same canonical entity key.
	Interfaces map[string][]string

	// Transport is the network boundary collaborator used by
	// ExecuteQuery/ExecuteMutation/ExecuteSubscription. It may be the
	// zero value if the application only ever calls the synchronous
	// read/write façade directly.
	Transport transport.Transport

	// CachePolicy is recorded on the Cache. ExecuteQuery does not
	// consult it: it never reads the cache before issuing a network
	// request, whatever the policy.
	CachePolicy CachePolicy

	// MaxParallelRequests bounds how many concurrent Transport.Http
	// calls ExecuteQuery/ExecuteMutation may have in flight at once
	// (spec §5's one concurrent-I/O suspension point), backed by the
	// same buffered-channel semaphore idiom as the teacher's
	// concurrencylimiter package. 0 means the default of 50, matching
	// the teacher's own graphql.MaxQueryParallelism.
	MaxParallelRequests int

	// Logger receives structured debug/info/warn/error events from the
	// cache. A nil Logger is the zero-configuration default: nothing is
	// logged.
	Logger clog.Logger
}

const defaultMaxParallelRequests = 50
