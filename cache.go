// Package cachebay is a normalized, reactive client-side cache for
// GraphQL-style document operations (spec §1). Applications write
// operation results into a *Cache and read them back either as
// one-shot snapshots or as live subscriptions that re-emit whenever
// underlying entities change.
package cachebay

import (
	"sync"

	"github.com/cachebay/cachebay/internal/clog"
	"github.com/cachebay/cachebay/internal/graph"
	"github.com/cachebay/cachebay/internal/optimistic"
	"github.com/cachebay/cachebay/internal/planner"
	"github.com/cachebay/cachebay/transport"
)

// Cache is a single normalized-cache instance: a Graph, an Optimistic
// layer stack, a Plan cache, and the Transport/CachePolicy collaborators
// the façade methods in documents.go use (spec §2 "Control flow").
// Construct one with New; there is no package-level shared state.
type Cache struct {
	graph *graph.Graph
	stack *optimistic.Stack

	transport   transport.Transport
	cachePolicy CachePolicy
	limiter     semaphore
	logger      clog.Logger

	planMu sync.Mutex
	plans  map[string]*planner.Plan // keyed by document text (spec §3 "Lifecycle")

	subCounter uint64
	mutCounter uint64
}

// New constructs an empty Cache from cfg (spec §9 "Global state: there
// is none; all state is owned by a cache instance constructed via a
// factory").
func New(cfg Config) (*Cache, error) {
	maxParallel := cfg.MaxParallelRequests
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallelRequests
	}

	logger := cfg.Logger
	if logger == nil {
		logger = clog.Nop()
	}

	return &Cache{
		graph:       graph.New(graph.Config{Keys: cfg.Keys, Interfaces: cfg.Interfaces}),
		stack:       optimistic.NewStack(),
		transport:   cfg.Transport,
		cachePolicy: cfg.CachePolicy,
		limiter:     makeSemaphore(maxParallel),
		logger:      logger,
		plans:       map[string]*planner.Plan{},
	}, nil
}

// plan compiles documentText into a Plan, reusing a cached compile for
// the process lifetime of this Cache keyed by the document's exact text
// (spec §3 "Lifecycle": "Plans are created lazily on first use and
// cached for process lifetime"; spec §8: "planning the same document
// twice returns identical plan fingerprints").
func (c *Cache) plan(documentText string) (*planner.Plan, error) {
	c.planMu.Lock()
	if p, ok := c.plans[documentText]; ok {
		c.planMu.Unlock()
		return p, nil
	}
	c.planMu.Unlock()

	p, err := planner.Compile(documentText)
	if err != nil {
		c.logger.Warn("cachebay: plan failed", "error", err)
		return nil, &PlanError{cause: err}
	}

	c.planMu.Lock()
	c.plans[documentText] = p
	c.planMu.Unlock()
	return p, nil
}

// Debug renders a record or connection state for inspection, the same
// go-spew-backed tool the teacher's batch cache tests use to dump
// values (batch/batchcache_test.go).
func (c *Cache) Debug(key graph.EntityKey) string {
	if rec, ok := c.graph.GetRecord(key); ok {
		return clog.Dump(rec)
	}
	if state, ok := c.graph.GetConnection(string(key)); ok {
		return clog.Dump(state)
	}
	return clog.Dump(nil)
}
