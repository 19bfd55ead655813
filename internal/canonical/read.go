package canonical

import (
	"github.com/cachebay/cachebay/internal/conns"
	"github.com/cachebay/cachebay/internal/graph"
	"github.com/cachebay/cachebay/internal/optimistic"
	"github.com/cachebay/cachebay/internal/planner"
)

// DecisionMode selects how a connection read resolves against the
// canonical window (spec §4.3 "Read path").
type DecisionMode string

const (
	// Strict reconstructs only the page matching the read's variables.
	Strict DecisionMode = "strict"
	// Canonical returns the full merged window for the connection key.
	Canonical DecisionMode = "canonical"
)

// Reader walks a Plan's selection tree against the Graph, optionally
// folding reads through an active optimistic Stack.
type Reader struct {
	g     *graph.Graph
	stack *optimistic.Stack
}

// NewReader constructs a Reader. stack may be nil to read only base
// (non-optimistic) state.
func NewReader(g *graph.Graph, stack *optimistic.Stack) *Reader {
	return &Reader{g: g, stack: stack}
}

// Read walks plan.Root starting at rootKey, returning the snapshot
// (nil, false on any required-field miss -- spec §4.3 "If any required
// field is absent, return undefined"), plus the set of keys/connection
// keys the read depended on, for subscribe(). It never reuses view
// containers across calls; use ReadLive for that.
func (r *Reader) Read(plan *planner.Plan, rootKey graph.EntityKey, variables map[string]interface{}, mode DecisionMode) (map[string]interface{}, map[string]struct{}, bool) {
	return r.read(plan, rootKey, variables, mode, nil)
}

// ReadLive is Read's counterpart for a live reader (watchQuery,
// executeSubscription's consumer): every connection touched during the
// walk is projected through session's conns.View, so the same View, and
// the Entry slice it syncs in place, serves every read made with that
// session (spec §4.4 "View session"). The edges list and pageInfo map
// in the returned snapshot are built fresh on each call; they are not
// the same objects across emissions.
func (r *Reader) ReadLive(plan *planner.Plan, rootKey graph.EntityKey, variables map[string]interface{}, mode DecisionMode, session *ViewSession) (map[string]interface{}, map[string]struct{}, bool) {
	return r.read(plan, rootKey, variables, mode, session)
}

func (r *Reader) read(plan *planner.Plan, rootKey graph.EntityKey, variables map[string]interface{}, mode DecisionMode, session *ViewSession) (map[string]interface{}, map[string]struct{}, bool) {
	deps := map[string]struct{}{}
	visiting := map[graph.EntityKey]bool{}
	val, ok := r.readSelection(plan.Root, rootKey, variables, mode, deps, visiting, session)
	return val, deps, ok
}

func (r *Reader) record(key graph.EntityKey) (graph.Record, bool) {
	base, baseExists := r.g.GetRecord(key)
	if r.stack == nil {
		return base, baseExists
	}
	return r.stack.Materialize(base, baseExists, key)
}

func (r *Reader) readSelection(sel *planner.SelectionSet, key graph.EntityKey, vars map[string]interface{}, mode DecisionMode, deps map[string]struct{}, visiting map[graph.EntityKey]bool, session *ViewSession) (map[string]interface{}, bool) {
	deps[string(key)] = struct{}{}

	rec, exists := r.record(key)
	if !exists {
		return nil, false
	}

	out := map[string]interface{}{}
	if tn, ok := rec["__typename"].(string); ok {
		out["__typename"] = tn
	}

	for _, field := range sel.Fields {
		if field.TypeCondition != "" {
			if tn, ok := rec["__typename"].(string); ok && tn != field.TypeCondition {
				continue
			}
		}

		args := field.BuildArgs(vars)
		storageKey := planner.StorageKey(field.FieldName, args)

		if field.IsConnection {
			connKey := planner.ConnectionKey(string(key), field.ConnKey, args, field.ConnFilters)
			val, ok := r.readConnection(field, connKey, vars, mode, deps, visiting, session)
			if !ok {
				return nil, false
			}
			out[field.ResponseKey] = val
			continue
		}

		raw, present := rec[storageKey]
		if !present {
			return nil, false
		}
		val, ok := r.readValue(field, raw, vars, mode, deps, visiting, session)
		if !ok {
			return nil, false
		}
		out[field.ResponseKey] = val
	}

	return out, true
}

func (r *Reader) readValue(field *planner.Field, raw interface{}, vars map[string]interface{}, mode DecisionMode, deps map[string]struct{}, visiting map[graph.EntityKey]bool, session *ViewSession) (interface{}, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, true

	case graph.Ref:
		if field.Selection == nil {
			return r.identityStub(v.Key), true
		}
		if visiting[v.Key] {
			// Cycle: don't re-expand, just surface identity (spec §9
			// "readers expand references lazily, so cycles are
			// traversable without infinite recursion").
			return r.identityStub(v.Key), true
		}
		visiting[v.Key] = true
		child, ok := r.readSelection(field.Selection, v.Key, vars, mode, deps, visiting, session)
		delete(visiting, v.Key)
		return child, ok

	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			val, ok := r.readValue(field, item, vars, mode, deps, visiting, session)
			if !ok {
				return nil, false
			}
			out[i] = val
		}
		return out, true

	default:
		return v, true
	}
}

func (r *Reader) identityStub(key graph.EntityKey) map[string]interface{} {
	rec, ok := r.g.GetRecord(key)
	if !ok {
		return map[string]interface{}{}
	}
	if tn, ok := rec["__typename"].(string); ok {
		return map[string]interface{}{"__typename": tn}
	}
	return map[string]interface{}{}
}

func (r *Reader) readConnection(field *planner.Field, connKey string, vars map[string]interface{}, mode DecisionMode, deps map[string]struct{}, visiting map[graph.EntityKey]bool, session *ViewSession) (interface{}, bool) {
	deps[connKey] = struct{}{}

	state, ok := r.g.GetConnection(connKey)
	if !ok {
		return nil, false
	}

	var ops []conns.Op
	if r.stack != nil {
		ops = r.stack.ConnOps(connKey)
	}

	var list []conns.Entry
	var page conns.PageInfo
	var meta conns.Meta
	if session != nil {
		// Live reads project through this session's stable View, whose
		// Entry slice is synced in place across repeated reads (spec
		// §4.4 "View projection").
		view := session.viewFor(state, connKey)
		view.SetOverlay(ops)
		list, page, meta = view.Edges, view.Page, view.Meta
	} else if len(ops) > 0 {
		list, page, meta = state.ApplyOptimistic(ops)
	} else {
		list, page, meta = state.List, state.Page, state.Meta
	}

	if mode == Strict {
		args := field.BuildArgs(vars)
		list, page = sliceStrict(list, page, args)
	}

	edgesField := lookupOne(field.Selection, "edges")
	var nodeField *planner.Field
	if edgesField != nil {
		nodeField = lookupOne(edgesField.Selection, "node")
	}
	pageInfoField := lookupOne(field.Selection, "pageInfo")

	edges := make([]interface{}, len(list))
	for i, entry := range list {
		edgeOut := map[string]interface{}{}
		for k, v := range entry.Edge {
			edgeOut[k] = v
		}
		edgeOut["cursor"] = entry.Cursor

		if nodeField != nil && nodeField.Selection != nil {
			if visiting[graph.EntityKey(entry.EntityKey)] {
				edgeOut["node"] = r.identityStub(graph.EntityKey(entry.EntityKey))
			} else {
				visiting[graph.EntityKey(entry.EntityKey)] = true
				nodeVal, ok := r.readSelection(nodeField.Selection, graph.EntityKey(entry.EntityKey), vars, mode, deps, visiting, session)
				delete(visiting, graph.EntityKey(entry.EntityKey))
				if !ok {
					return nil, false
				}
				edgeOut["node"] = nodeVal
			}
		}
		edges[i] = edgeOut
	}

	out := map[string]interface{}{
		"edges":    edges,
		"pageInfo": pageInfoOutput(pageInfoField, page),
	}
	for _, mf := range metaFields(field.Selection) {
		out[mf.ResponseKey] = meta[mf.ResponseKey]
	}
	return out, true
}

func pageInfoOutput(pageInfoField *planner.Field, page conns.PageInfo) map[string]interface{} {
	out := map[string]interface{}{}
	if pageInfoField == nil || pageInfoField.Selection == nil {
		return out
	}
	for _, f := range pageInfoField.Selection.Fields {
		switch f.FieldName {
		case "hasNextPage":
			out[f.ResponseKey] = page.HasNextPage
		case "hasPreviousPage":
			out[f.ResponseKey] = page.HasPreviousPage
		case "startCursor":
			out[f.ResponseKey] = page.StartCursor
		case "endCursor":
			out[f.ResponseKey] = page.EndCursor
		}
	}
	return out
}

// sliceStrict reconstructs the single page matching args (first/last/
// after/before) out of the canonical merged list -- recommended
// resolution of spec §9's open question on nested/strict connection
// reads, since the cache keeps only the merged window, not a history of
// individually written pages.
func sliceStrict(list []conns.Entry, page conns.PageInfo, args map[string]interface{}) ([]conns.Entry, conns.PageInfo) {
	after, _ := args["after"].(string)
	before, _ := args["before"].(string)
	first, hasFirst := toInt(args["first"])
	last, hasLast := toInt(args["last"])

	start, end := 0, len(list)
	if after != "" {
		if idx := cursorIndex(list, after); idx >= 0 {
			start = idx + 1
		}
	}
	if before != "" {
		if idx := cursorIndex(list, before); idx >= 0 {
			end = idx
		}
	}
	if hasFirst && start+first < end {
		end = start + first
	}
	if hasLast && end-last > start {
		start = end - last
	}
	if start < 0 {
		start = 0
	}
	if end > len(list) {
		end = len(list)
	}
	if start > end {
		start = end
	}

	sliced := list[start:end]
	out := conns.PageInfo{
		HasNextPage:     end < len(list),
		HasPreviousPage: start > 0,
	}
	if len(sliced) > 0 {
		out.StartCursor = sliced[0].Cursor
		out.EndCursor = sliced[len(sliced)-1].Cursor
	}
	return sliced, out
}

func cursorIndex(list []conns.Entry, cursor string) int {
	for i, e := range list {
		if e.Cursor == cursor {
			return i
		}
	}
	return -1
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
