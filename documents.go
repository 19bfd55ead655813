package cachebay

import (
	"context"
	"sync"

	"github.com/cachebay/cachebay/internal/canonical"
	"github.com/cachebay/cachebay/internal/graph"
	"github.com/cachebay/cachebay/transport"
)

// DecisionMode selects how a connection read resolves against the
// canonical window (spec §4.3 "Read path", §9 open question).
type DecisionMode = canonical.DecisionMode

const (
	// Strict reconstructs only the page matching the read's variables.
	Strict = canonical.Strict
	// Canonical returns the full merged window for the connection key.
	Canonical = canonical.Canonical
)

// ReadQueryOptions are the parameters to ReadQuery (spec §4.6).
type ReadQueryOptions struct {
	Query        string
	Variables    map[string]interface{}
	DecisionMode DecisionMode // defaults to Strict
}

// ReadQuery reads query's plan back out of the cache starting at the
// query root. ok is false on any cache miss (spec §4.6 "reads never
// throw on missing data"); err is non-nil only for a PlanError.
func (c *Cache) ReadQuery(opts ReadQueryOptions) (data map[string]interface{}, ok bool, err error) {
	plan, err := c.plan(opts.Query)
	if err != nil {
		return nil, false, err
	}
	mode := opts.DecisionMode
	if mode == "" {
		mode = Strict
	}
	reader := canonical.NewReader(c.graph, c.stack)
	data, _, ok = reader.Read(plan, RootQuery, opts.Variables, mode)
	return data, ok, nil
}

// WriteQueryOptions are the parameters to WriteQuery (spec §4.6).
type WriteQueryOptions struct {
	Query     string
	Variables map[string]interface{}
	Data      map[string]interface{}
	// RootID overrides the default query root, e.g. with an ephemeral
	// "@subscription.<n>" root (spec §3). ExecuteSubscription does not go
	// through WriteQuery; it writes each event with its own Writer.
	RootID graph.EntityKey
}

// WriteQuery normalizes data against query into the Graph and
// Connections, as one batched write, and returns the set of keys
// touched (spec §4.6). err is a *SchemaError if data is structurally
// inconsistent with the plan, or a *PlanError if query fails to
// compile.
func (c *Cache) WriteQuery(opts WriteQueryOptions) (touched map[string]struct{}, err error) {
	plan, err := c.plan(opts.Query)
	if err != nil {
		return nil, err
	}
	root := opts.RootID
	if root == "" {
		root = RootQuery
	}
	writer := canonical.NewWriter(c.graph)
	touched, err = writer.Write(plan, root, opts.Variables, opts.Data)
	if err != nil {
		return nil, wrapSchemaError(err)
	}
	return touched, nil
}

// ReadFragmentOptions are the parameters to ReadFragment (spec §4.6).
type ReadFragmentOptions struct {
	ID           string
	Fragment     string
	Variables    map[string]interface{}
	DecisionMode DecisionMode
	// Materialized requests the pull-based overlay view
	// (MaterializeEntity) instead of walking Fragment's selection, for
	// framework adapters that want a stable per-entity proxy (spec §4.3,
	// §9 "Reactive proxies").
	Materialized bool
}

// ReadFragment reads a single entity identified by ID, either by
// walking Fragment's selection tree (the default) or, with
// Materialized set, as a plain overlay-merged field map.
func (c *Cache) ReadFragment(opts ReadFragmentOptions) (data map[string]interface{}, ok bool, err error) {
	reader := canonical.NewReader(c.graph, c.stack)

	if opts.Materialized {
		rec, exists := reader.MaterializeEntity(graph.EntityKey(opts.ID))
		if !exists {
			return nil, false, nil
		}
		return map[string]interface{}(rec), true, nil
	}

	plan, err := c.plan(opts.Fragment)
	if err != nil {
		return nil, false, err
	}
	mode := opts.DecisionMode
	if mode == "" {
		mode = Strict
	}
	data, _, ok = reader.Read(plan, graph.EntityKey(opts.ID), opts.Variables, mode)
	return data, ok, nil
}

// WriteFragmentOptions are the parameters to WriteFragment (spec §4.6).
type WriteFragmentOptions struct {
	ID        string
	Fragment  string
	Data      map[string]interface{}
	Variables map[string]interface{}
	// Defer, when true, skips the implicit Commit() below so the caller
	// must call it explicitly; the write itself always applies
	// immediately (see FragmentHandle doc).
	Defer bool
}

// FragmentHandle is the {commit(), revert()} pair WriteFragment
// returns. WriteFragment's data is always normalized into the Graph
// immediately, so Commit is a no-op confirming that; Revert restores
// every entity the write touched to its prior state (spec §4.6, §9
// open question: "recommended: auto-commit unless {defer:true} is
// passed" -- this repository resolves that question by always writing
// eagerly and using Defer only to decide whether the implicit commit
// call below is skipped).
type FragmentHandle struct {
	commit func()
	revert func()
}

// Commit is a no-op: WriteFragment's data is already part of base
// state by the time the handle is returned.
func (h *FragmentHandle) Commit() { h.commit() }

// Revert restores every entity WriteFragment touched to its
// pre-write state, as one batched notification.
func (h *FragmentHandle) Revert() { h.revert() }

// WriteFragment normalizes data against Fragment's selection starting
// at the entity identified by ID (spec §4.6).
func (c *Cache) WriteFragment(opts WriteFragmentOptions) (*FragmentHandle, error) {
	plan, err := c.plan(opts.Fragment)
	if err != nil {
		return nil, err
	}
	root := graph.EntityKey(opts.ID)
	writer := canonical.NewWriter(c.graph)

	keys, err := writer.PreviewKeys(plan, root, opts.Variables, opts.Data)
	if err != nil {
		return nil, wrapSchemaError(err)
	}
	before := make(map[graph.EntityKey]graph.Record, len(keys))
	existed := make(map[graph.EntityKey]bool, len(keys))
	for _, k := range keys {
		rec, ok := c.graph.GetRecord(k)
		before[k] = rec
		existed[k] = ok
	}

	if _, err := writer.Write(plan, root, opts.Variables, opts.Data); err != nil {
		return nil, wrapSchemaError(err)
	}

	reverted := false
	var mu sync.Mutex
	revert := func() {
		mu.Lock()
		defer mu.Unlock()
		if reverted {
			return
		}
		reverted = true
		c.graph.Batch(func() {
			for k, rec := range before {
				if existed[k] {
					c.graph.PutRecord(k, rec, graph.Replace)
				} else {
					c.graph.DeleteRecord(k)
				}
			}
		})
	}

	handle := &FragmentHandle{commit: func() {}, revert: revert}
	if !opts.Defer {
		handle.Commit()
	}
	return handle, nil
}

// WatchQueryOptions are the parameters to WatchQuery (spec §4.6).
type WatchQueryOptions struct {
	Query     string
	Variables map[string]interface{}
	// Canonical selects Canonical decision mode for connection reads
	// instead of the default Strict.
	Canonical bool
	// Immediate, when true, invokes OnData synchronously with the
	// current snapshot when WatchQuery is called, before returning.
	Immediate bool
	OnData    func(data map[string]interface{}, ok bool)
}

// WatchHandle is the {refetch(), unsubscribe()} pair WatchQuery returns
// (spec §4.6).
type WatchHandle struct {
	Refetch     func()
	Unsubscribe func()
}

// WatchQuery re-reads query's plan every time a write touches one of
// its dependencies, invoking OnData once per affected batch (spec §4.6,
// §8 "Dependency-tracked emission"). Every emission recomputes the
// dependency set and re-subscribes to it, so a read that was a miss and
// becomes a hit (or vice versa) keeps watching the right keys.
func (c *Cache) WatchQuery(opts WatchQueryOptions) (*WatchHandle, error) {
	plan, err := c.plan(opts.Query)
	if err != nil {
		return nil, err
	}
	mode := Strict
	if opts.Canonical {
		mode = Canonical
	}

	var mu sync.Mutex
	var unsub func()
	var disposed bool

	// session owns this watch's per-connection conns.Views for the
	// whole subscription lifetime, so repeated emissions project through
	// the same View across refreshes (spec §4.4 "View session"); the
	// data tree passed to OnData is built fresh on each emission.
	session := canonical.NewViewSession()

	var refresh func()
	refresh = func() {
		reader := canonical.NewReader(c.graph, c.stack)
		data, deps, ok := reader.ReadLive(plan, RootQuery, opts.Variables, mode, session)

		depList := make([]string, 0, len(deps))
		for d := range deps {
			depList = append(depList, d)
		}

		mu.Lock()
		if disposed {
			mu.Unlock()
			return
		}
		if unsub != nil {
			unsub()
		}
		unsub = c.graph.Subscribe(depList, func(map[string]struct{}) { refresh() })
		mu.Unlock()

		if opts.OnData != nil {
			opts.OnData(data, ok)
		}
	}

	reader := canonical.NewReader(c.graph, c.stack)
	data, deps, ok := reader.ReadLive(plan, RootQuery, opts.Variables, mode, session)
	depList := make([]string, 0, len(deps))
	for d := range deps {
		depList = append(depList, d)
	}
	unsub = c.graph.Subscribe(depList, func(map[string]struct{}) { refresh() })

	if opts.Immediate && opts.OnData != nil {
		opts.OnData(data, ok)
	}

	return &WatchHandle{
		Refetch: refresh,
		Unsubscribe: func() {
			mu.Lock()
			defer mu.Unlock()
			if disposed {
				return
			}
			disposed = true
			if unsub != nil {
				unsub()
			}
			session.Close()
		},
	}, nil
}

// ExecuteOptions are the parameters shared by ExecuteQuery,
// ExecuteMutation, and ExecuteSubscription (spec §4.6).
type ExecuteOptions struct {
	Query     string
	Variables map[string]interface{}
	Meta      map[string]interface{}
}

// ExecuteResult is what ExecuteQuery/ExecuteMutation return: the raw
// network data, the keys it normalized into, and any error (never
// raised -- spec §7 "Network errors from transports are propagated as
// result values, not raised").
type ExecuteResult struct {
	Data    map[string]interface{}
	Touched map[string]struct{}
	Error   error
}

// ExecuteQuery issues opts against Transport.Http and normalizes a
// successful response via WriteQuery at the query root (spec §4.6).
func (c *Cache) ExecuteQuery(ctx context.Context, opts ExecuteOptions) ExecuteResult {
	return c.execute(ctx, "query", opts, RootQuery)
}

// ExecuteMutation issues opts against Transport.Http as a mutation and
// normalizes a successful response via WriteQuery at a fresh ephemeral
// root that is discarded immediately after (spec §3 "Mutations do not
// persist a root record").
func (c *Cache) ExecuteMutation(ctx context.Context, opts ExecuteOptions) ExecuteResult {
	root := c.nextMutationRoot()
	result := c.execute(ctx, "mutation", opts, root)
	c.graph.DeleteRecord(root)
	return result
}

func (c *Cache) execute(ctx context.Context, operationType string, opts ExecuteOptions, root graph.EntityKey) ExecuteResult {
	if c.transport.Http == nil {
		return ExecuteResult{Error: newConfigurationError("execute%s requires an Http transport", operationType)}
	}

	plan, err := c.plan(opts.Query)
	if err != nil {
		return ExecuteResult{Error: err}
	}

	c.limiter.acquire()
	res := c.transport.Http(ctx, transport.HttpContext{
		OperationType: operationType,
		Query:         plan.NetworkDocument,
		Variables:     opts.Variables,
		Meta:          opts.Meta,
	})
	c.limiter.release()

	if res.Error != nil {
		return ExecuteResult{Error: newTransportError(res.Error)}
	}

	writer := canonical.NewWriter(c.graph)
	touched, err := writer.Write(plan, root, opts.Variables, res.Data)
	if err != nil {
		return ExecuteResult{Data: res.Data, Error: wrapSchemaError(err)}
	}
	return ExecuteResult{Data: res.Data, Touched: touched}
}

// SubscriptionHandle is the disposer ExecuteSubscription returns.
type SubscriptionHandle struct {
	Unsubscribe func()
}

// ExecuteSubscription opens a subscription stream via Transport.Ws and
// normalizes every event under its own fresh "@subscription.<n>" root
// (spec §3, §4.6). It raises *ConfigurationError synchronously if no Ws
// transport is configured (spec §7). In-flight results after
// Unsubscribe is called are dropped (spec §5).
func (c *Cache) ExecuteSubscription(ctx context.Context, opts ExecuteOptions, onData func(ExecuteResult)) (*SubscriptionHandle, error) {
	if c.transport.Ws == nil {
		return nil, newConfigurationError("executeSubscription requires a Ws transport")
	}

	plan, err := c.plan(opts.Query)
	if err != nil {
		return nil, err
	}

	root := c.nextSubscriptionRoot()

	var mu sync.Mutex
	disposed := false

	conn := c.transport.Ws(ctx, transport.WsContext{Query: plan.NetworkDocument, Variables: opts.Variables})
	sub := conn.Subscribe(transport.Observer{
		Next: func(res transport.Result) {
			mu.Lock()
			d := disposed
			mu.Unlock()
			if d {
				return
			}
			if res.Error != nil {
				if onData != nil {
					onData(ExecuteResult{Error: newTransportError(res.Error)})
				}
				return
			}
			root = c.nextSubscriptionRoot()
			writer := canonical.NewWriter(c.graph)
			touched, err := writer.Write(plan, root, opts.Variables, res.Data)
			if onData != nil {
				onData(ExecuteResult{Data: res.Data, Touched: touched, Error: wrapSchemaErrorOrNil(err)})
			}
		},
		Error: func(err error) {
			mu.Lock()
			d := disposed
			mu.Unlock()
			if d {
				return
			}
			if onData != nil {
				onData(ExecuteResult{Error: newTransportError(err)})
			}
		},
	})

	return &SubscriptionHandle{
		Unsubscribe: func() {
			mu.Lock()
			disposed = true
			mu.Unlock()
			sub.Unsubscribe()
		},
	}, nil
}

func wrapSchemaError(err error) error {
	if err == nil {
		return nil
	}
	return &SchemaError{cause: err}
}

func wrapSchemaErrorOrNil(err error) error {
	if err == nil {
		return nil
	}
	return wrapSchemaError(err)
}
