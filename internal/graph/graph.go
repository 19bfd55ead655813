package graph

import (
	"reflect"
	"sort"
	"sync"

	"github.com/cachebay/cachebay/internal/conns"
)

// Config carries the identity configuration from the public Cache
// config (spec §6): per-typename key functions and the interface to
// implementors mapping.
type Config struct {
	Keys       map[string]KeyFunc
	Interfaces map[string][]string
}

// Graph is the normalized entity store (spec §4.2). It owns entity
// records, canonical connection state, a reverse-dependency index for
// change notification, and per-typename indices for listKeysByTypename.
//
// The dependency-set-to-subscriber bookkeeping here is the same shape
// as the teacher's reactive.Resource/node (a leaf invalidates all
// computations that read it), but re-expressed without goroutines:
// §5 requires the core to be single-threaded
// and coalesce a synchronous region's touched keys into one
// notification pass, which reactive.Rerunner instead achieves with a
// background goroutine per live computation. We keep a single mutex,
// matching the teacher's own Executor/conn structs, purely to make the
// Graph safe to call from multiple goroutines (e.g. a UI thread and a
// network callback); it is never held across a notification callback.
type Graph struct {
	mu sync.Mutex

	keyFuncs       map[string]KeyFunc
	implementorOf  map[string]string // concrete typename -> interface name
	interfaceNames map[string]struct{}

	records        map[EntityKey]Record
	byCanonicalType map[string]map[EntityKey]struct{}
	byConcreteType  map[string]map[EntityKey]struct{}

	connections map[string]*conns.State

	reverse map[string]map[*subscriber]struct{}

	pending    map[string]struct{}
	batchDepth int
	nextSubID  uint64
}

type subscriber struct {
	id       uint64
	deps     map[string]struct{}
	onChange func(touched map[string]struct{})
}

// New constructs an empty Graph from the identity configuration.
func New(cfg Config) *Graph {
	g := &Graph{
		keyFuncs:        map[string]KeyFunc{},
		implementorOf:   map[string]string{},
		interfaceNames:  map[string]struct{}{},
		records:         map[EntityKey]Record{},
		byCanonicalType: map[string]map[EntityKey]struct{}{},
		byConcreteType:  map[string]map[EntityKey]struct{}{},
		connections:     map[string]*conns.State{},
		reverse:         map[string]map[*subscriber]struct{}{},
		pending:         map[string]struct{}{},
	}
	for t, kf := range cfg.Keys {
		g.keyFuncs[t] = kf
	}
	for iface, implementors := range cfg.Interfaces {
		g.interfaceNames[iface] = struct{}{}
		for _, t := range implementors {
			g.implementorOf[t] = iface
		}
	}
	return g
}

// Batch runs fn and flushes exactly one coalesced notification pass
// for every key touched during fn, including nested Batch calls (spec
// §5: "all touched keys from one synchronous region coalesce into one
// notification pass"). It returns the set of keys this call's fn
// touched, for callers (writeQuery, writeFragment) that need to report
// {touched: Set<Key>}; nested Batch calls return nil since the outer
// call owns the flush.
func (g *Graph) Batch(fn func()) map[string]struct{} {
	g.mu.Lock()
	g.batchDepth++
	g.mu.Unlock()

	fn()

	g.mu.Lock()
	g.batchDepth--
	flush := g.batchDepth == 0
	var touched map[string]struct{}
	if flush {
		touched = g.pending
		g.pending = map[string]struct{}{}
	}
	g.mu.Unlock()

	if flush && len(touched) > 0 {
		g.notify(touched)
	}
	return touched
}

func (g *Graph) touch(key string) {
	g.pending[key] = struct{}{}
	if g.batchDepth == 0 {
		touched := g.pending
		g.pending = map[string]struct{}{}
		g.mu.Unlock()
		g.notify(touched)
		g.mu.Lock()
	}
}

func (g *Graph) notify(touched map[string]struct{}) {
	affected := map[*subscriber]map[string]struct{}{}
	g.mu.Lock()
	for key := range touched {
		for sub := range g.reverse[key] {
			if affected[sub] == nil {
				affected[sub] = map[string]struct{}{}
			}
			affected[sub][key] = struct{}{}
		}
	}
	ordered := make([]*subscriber, 0, len(affected))
	for sub := range affected {
		ordered = append(ordered, sub)
	}
	g.mu.Unlock()

	// Invoke callbacks in registration order (spec §5 ordering
	// guarantee 2), not map iteration order, since callbacks may
	// re-enter the graph.
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })
	for _, sub := range ordered {
		sub.onChange(affected[sub])
	}
}

// Subscribe registers deps as a dependency set; onChange fires with
// the subset of deps touched by a write, once per batch. The returned
// func unsubscribes.
func (g *Graph) Subscribe(deps []string, onChange func(touched map[string]struct{})) func() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextSubID++
	sub := &subscriber{id: g.nextSubID, deps: map[string]struct{}{}, onChange: onChange}
	for _, d := range deps {
		sub.deps[d] = struct{}{}
		if g.reverse[d] == nil {
			g.reverse[d] = map[*subscriber]struct{}{}
		}
		g.reverse[d][sub] = struct{}{}
	}

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for d := range sub.deps {
			delete(g.reverse[d], sub)
			if len(g.reverse[d]) == 0 {
				delete(g.reverse, d)
			}
		}
	}
}

// GetRecord returns the record stored at key, if any.
func (g *Graph) GetRecord(key EntityKey) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.records[key]
	return r, ok
}

// HasRecord reports whether key has a stored record.
func (g *Graph) HasRecord(key EntityKey) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.records[key]
	return ok
}

// PutRecord writes fields into key under policy, returning whether any
// field actually changed or key had no record before (values equal by
// deep equality produce no change and no notification, per spec §3
// invariant 2 and the teacher's diff/merge minimal-delta behavior in
// merge/merge.go).
func (g *Graph) PutRecord(key EntityKey, fields Record, policy Policy) bool {
	g.mu.Lock()

	existing, had := g.records[key]
	var next Record
	changed := false

	switch policy {
	case Replace:
		next = clone(fields)
		for k := range existing {
			if _, ok := fields[k]; !ok {
				changed = true
			}
		}
		for k, v := range fields {
			if old, ok := existing[k]; !ok || !reflect.DeepEqual(old, v) {
				changed = true
			}
		}
	default: // Merge
		next = clone(existing)
		if next == nil {
			next = Record{}
		}
		for k, v := range fields {
			if old, ok := existing[k]; !ok || !reflect.DeepEqual(old, v) {
				changed = true
			}
			next[k] = v
		}
	}

	g.records[key] = next
	if tn, ok := next["__typename"].(string); ok {
		g.index(key, tn)
	}

	if changed {
		g.touch(string(key))
	}
	wasNew := !had
	g.mu.Unlock()

	return changed || wasNew
}

// index maintains the byCanonicalType/byConcreteType buckets used by
// ListKeysByTypename. Must be called with g.mu held.
func (g *Graph) index(key EntityKey, concreteTypename string) {
	canonical := concreteTypename
	if iface, ok := g.implementorOf[concreteTypename]; ok {
		canonical = iface
	}
	if g.byCanonicalType[canonical] == nil {
		g.byCanonicalType[canonical] = map[EntityKey]struct{}{}
	}
	g.byCanonicalType[canonical][key] = struct{}{}

	if g.byConcreteType[concreteTypename] == nil {
		g.byConcreteType[concreteTypename] = map[EntityKey]struct{}{}
	}
	g.byConcreteType[concreteTypename][key] = struct{}{}
}

// DeleteRecord removes key's record and clears its reverse
// dependencies, matching "entities live until explicitly deleted"
// (spec §1 non-goals: no GC). If a record existed, readers depending on
// key are notified once (or the key is queued, inside a Batch) before
// those dependencies are dropped; later writes to key no longer reach
// them.
func (g *Graph) DeleteRecord(key EntityKey) {
	g.mu.Lock()
	_, existed := g.records[key]
	delete(g.records, key)
	for _, bucket := range g.byCanonicalType {
		delete(bucket, key)
	}
	for _, bucket := range g.byConcreteType {
		delete(bucket, key)
	}
	if existed {
		// Notify (or queue, inside a Batch) while still holding deps for
		// key, then drop them: readers find nothing left to read.
		g.touch(string(key))
	}
	delete(g.reverse, string(key))
	g.mu.Unlock()
}

// ListKeysByTypename returns every entity key stored under t,
// expanding interface names to their implementors' stored records.
func (g *Graph) ListKeysByTypename(t string) []EntityKey {
	g.mu.Lock()
	defer g.mu.Unlock()

	var bucket map[EntityKey]struct{}
	if b, ok := g.byCanonicalType[t]; ok {
		bucket = b
	} else {
		bucket = g.byConcreteType[t]
	}

	out := make([]EntityKey, 0, len(bucket))
	for k := range bucket {
		out = append(out, k)
	}
	return out
}

// EnsureConnection returns the canonical connection state for connKey,
// creating it with the given mode if it doesn't exist yet.
func (g *Graph) EnsureConnection(connKey string, mode conns.Mode) *conns.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.connections[connKey]
	if !ok {
		c = conns.New(connKey, mode)
		g.connections[connKey] = c
	}
	return c
}

// GetConnection returns the connection state for connKey without
// creating it.
func (g *Graph) GetConnection(connKey string) (*conns.State, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.connections[connKey]
	return c, ok
}

// TouchConnection marks connKey as touched for the current batch,
// called after a connection write changes canonical state.
func (g *Graph) TouchConnection(connKey string) {
	g.mu.Lock()
	g.touch(connKey)
	g.mu.Unlock()
}

// Touch marks an arbitrary key (entity or connection key) as touched for
// the current batch, notifying its subscribers. Used by
// internal/optimistic to broadcast the effect of applying, committing,
// or reverting a layer without going through PutRecord/MergePage.
func (g *Graph) Touch(key string) {
	g.mu.Lock()
	g.touch(key)
	g.mu.Unlock()
}

// AllRecords returns a shallow copy of every stored record, keyed by
// entity key, for the persistence surface (spec §6 "dehydrate()").
func (g *Graph) AllRecords() map[EntityKey]Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[EntityKey]Record, len(g.records))
	for k, v := range g.records {
		out[k] = clone(v)
	}
	return out
}

// AllConnections returns every live canonical connection state, for the
// persistence surface.
func (g *Graph) AllConnections() map[string]*conns.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]*conns.State, len(g.connections))
	for k, v := range g.connections {
		out[k] = v
	}
	return out
}

// Restore replaces the entire base state -- records and connections --
// atomically, discarding whatever was there before; it does not touch
// the optimistic stack, which callers must clear separately (spec §6
// "hydrate(state) restores it atomically ... optimistic stack is
// cleared").
func (g *Graph) Restore(records map[EntityKey]Record, connections map[string]*conns.State) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.records = make(map[EntityKey]Record, len(records))
	g.byCanonicalType = map[string]map[EntityKey]struct{}{}
	g.byConcreteType = map[string]map[EntityKey]struct{}{}
	for k, v := range records {
		g.records[k] = clone(v)
		if tn, ok := v["__typename"].(string); ok {
			g.index(k, tn)
		}
	}

	g.connections = make(map[string]*conns.State, len(connections))
	for k, v := range connections {
		g.connections[k] = v
	}
}

// IdentifyFunc adapts Identify to the shape internal/optimistic needs
// for its Write(obj) mutator call: a plain obj -> (key, error) function
// with no parent context, for top-level optimistic writes.
func (g *Graph) IdentifyFunc() func(obj map[string]interface{}) (EntityKey, error) {
	return func(obj map[string]interface{}) (EntityKey, error) {
		return g.Identify(obj, "", "")
	}
}

// Identify computes the canonical entity key for obj, a normalized
// object with a __typename field. parentKey/storageKey are used to
// build a synthetic parent-embedded key when obj's typename has no
// configured KeyFunc (spec §3: "Types without a key function store
// under a synthetic parent-embedded key").
func (g *Graph) Identify(obj map[string]interface{}, parentKey EntityKey, storageKey string) (EntityKey, error) {
	typename, _ := obj["__typename"].(string)
	if typename == "" {
		return "", &MissingTypenameError{ParentKey: string(parentKey), StorageKey: storageKey}
	}

	g.mu.Lock()
	kf, hasKeyFunc := g.keyFuncs[typename]
	iface, isImplementor := g.implementorOf[typename]
	g.mu.Unlock()

	if hasKeyFunc {
		id, ok := kf(obj)
		if !ok || id == "" {
			return "", &NullKeyError{Typename: typename}
		}
		canonicalType := typename
		if isImplementor {
			canonicalType = iface
		}
		return EntityKey(canonicalType + ":" + id), nil
	}

	return EntityKey(string(parentKey) + "." + storageKey + "~" + typename), nil
}
