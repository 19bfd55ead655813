// Package canonical ties the Planner, Graph, Connections, and
// Optimistic subsystems together into the read/write traversal
// described in spec §4.3: writing a normalized payload against a Plan,
// and reading a Plan's shape back out of the Graph (optionally folded
// through an active optimistic overlay).
package canonical

import (
	"fmt"

	"github.com/cachebay/cachebay/internal/conns"
	"github.com/cachebay/cachebay/internal/graph"
	"github.com/cachebay/cachebay/internal/planner"
)

// Writer normalizes a payload shaped like plan.Root into Graph records
// and ConnectionStates.
type Writer struct {
	g *graph.Graph
}

// NewWriter constructs a Writer bound to g.
func NewWriter(g *graph.Graph) *Writer {
	return &Writer{g: g}
}

// Write normalizes data against plan starting at rootKey, as one
// batched write, and returns the set of keys touched (spec §4.3 "Write
// path", §4.6 "writeQuery ... {touched: Set<Key>}").
func (w *Writer) Write(plan *planner.Plan, rootKey graph.EntityKey, variables map[string]interface{}, data map[string]interface{}) (map[string]struct{}, error) {
	var writeErr error
	touched := w.g.Batch(func() {
		writeErr = w.writeSelection(plan.Root, rootKey, variables, data)
	})
	if writeErr != nil {
		return nil, writeErr
	}
	return touched, nil
}

func (w *Writer) writeSelection(sel *planner.SelectionSet, parentKey graph.EntityKey, vars map[string]interface{}, obj map[string]interface{}) error {
	fields := graph.Record{}
	// __typename is never a compiled Field; store it from the payload so
	// reads can surface it and check type conditions against it.
	if tn, ok := obj["__typename"].(string); ok {
		fields["__typename"] = tn
	}

	for _, field := range sel.Fields {
		if field.TypeCondition != "" {
			if tn, ok := obj["__typename"].(string); ok && tn != field.TypeCondition {
				continue
			}
		}

		raw, present := obj[field.ResponseKey]
		if !present {
			continue
		}

		args := field.BuildArgs(vars)
		storageKey := planner.StorageKey(field.FieldName, args)

		if field.IsConnection {
			connKey := planner.ConnectionKey(string(parentKey), field.ConnKey, args, field.ConnFilters)
			if err := w.writeConnection(field, connKey, vars, raw); err != nil {
				return fmt.Errorf("field %s: %w", field.ResponseKey, err)
			}
			fields[storageKey] = graph.Ref{Key: graph.EntityKey(connKey)}
			continue
		}

		value, err := w.writeField(field, parentKey, storageKey, vars, raw)
		if err != nil {
			return fmt.Errorf("field %s: %w", field.ResponseKey, err)
		}
		fields[storageKey] = value
	}

	if len(fields) == 0 {
		return nil
	}
	w.g.PutRecord(parentKey, fields, graph.Merge)
	return nil
}

// writeField writes a scalar, list, or object value for field, returning
// the value to store on the parent record: the raw value for
// scalars/selection-less objects, recursively-written []interface{} for
// lists, or graph.Ref{} for an identifiable nested entity.
func (w *Writer) writeField(field *planner.Field, parentKey graph.EntityKey, storageKey string, vars map[string]interface{}, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	if list, ok := value.([]interface{}); ok {
		out := make([]interface{}, len(list))
		for i, item := range list {
			itemKey := fmt.Sprintf("%s[%d]", storageKey, i)
			written, err := w.writeField(field, parentKey, itemKey, vars, item)
			if err != nil {
				return nil, err
			}
			out[i] = written
		}
		return out, nil
	}

	obj, ok := value.(map[string]interface{})
	if !ok {
		return value, nil
	}
	if field == nil || field.Selection == nil {
		// An object with no compiled sub-selection is an opaque JSON
		// scalar (e.g. a `meta: JSON` field) -- store it verbatim.
		return obj, nil
	}

	entityKey, err := w.g.Identify(obj, parentKey, storageKey)
	if err != nil {
		return nil, newSchemaError(err)
	}
	if err := w.writeSelection(field.Selection, entityKey, vars, obj); err != nil {
		return nil, err
	}
	return graph.Ref{Key: entityKey}, nil
}

// writeConnection normalizes a connection field's payload -- edges,
// pageInfo, and any other top-level meta fields (e.g. totalCount) --
// into the Graph's ConnectionState for connKey (spec §4.3 step 3,
// §4.4).
func (w *Writer) writeConnection(field *planner.Field, connKey string, vars map[string]interface{}, value interface{}) error {
	obj, ok := value.(map[string]interface{})
	if !ok {
		return newSchemaError(fmt.Errorf("connection payload is not an object"))
	}
	if field.Selection == nil {
		return newSchemaError(fmt.Errorf("connection field has no compiled selection"))
	}

	edgesField := lookupOne(field.Selection, "edges")
	var nodeField *planner.Field
	if edgesField != nil && edgesField.Selection != nil {
		nodeField = lookupOne(edgesField.Selection, "node")
	}

	edgesRaw, _ := obj["edges"].([]interface{})
	entries := make([]conns.Entry, 0, len(edgesRaw))
	for i, e := range edgesRaw {
		edgeObj, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		storageKey := fmt.Sprintf("%s.edges[%d].node", connKey, i)
		written, err := w.writeField(nodeField, graph.EntityKey(connKey), storageKey, vars, edgeObj["node"])
		if err != nil {
			return err
		}
		ref, ok := written.(graph.Ref)
		if !ok {
			return newSchemaError(fmt.Errorf("connection node at index %d has no identity", i))
		}

		cursor, _ := edgeObj["cursor"].(string)
		extras := graph.Record{}
		for k, v := range edgeObj {
			if k == "node" || k == "cursor" {
				continue
			}
			extras[k] = v
		}
		entries = append(entries, conns.Entry{EntityKey: string(ref.Key), Cursor: cursor, Edge: extras})
	}

	pageInfoObj, _ := obj["pageInfo"].(map[string]interface{})
	pageInfo := conns.PageInfo{}
	if pageInfoObj != nil {
		pageInfo.HasNextPage, _ = pageInfoObj["hasNextPage"].(bool)
		pageInfo.HasPreviousPage, _ = pageInfoObj["hasPreviousPage"].(bool)
		pageInfo.StartCursor, _ = pageInfoObj["startCursor"].(string)
		pageInfo.EndCursor, _ = pageInfoObj["endCursor"].(string)
	}

	meta := conns.Meta{}
	for _, mf := range metaFields(field.Selection) {
		if v, ok := obj[mf.ResponseKey]; ok {
			meta[mf.ResponseKey] = v
		}
	}

	args := field.BuildArgs(vars)
	after, _ := args["after"].(string)
	before, _ := args["before"].(string)

	state := w.g.EnsureConnection(connKey, conns.Mode(field.ConnMode))
	changed := state.MergePage(conns.IncomingPage{
		Edges:    entries,
		PageInfo: pageInfo,
		Meta:     meta,
		After:    after,
		Before:   before,
	})
	if changed {
		w.g.TouchConnection(connKey)
	}
	return nil
}

// PreviewKeys walks data against plan the same way Write does, but only
// identifies entities -- it never calls PutRecord/EnsureConnection --
// returning every entity key the write would touch. writeFragment (§4.6)
// uses this to snapshot prior record state before writing, so its
// returned handle's Revert() can restore it.
func (w *Writer) PreviewKeys(plan *planner.Plan, rootKey graph.EntityKey, variables map[string]interface{}, data map[string]interface{}) ([]graph.EntityKey, error) {
	keys := map[graph.EntityKey]struct{}{rootKey: {}}
	if err := w.previewSelection(plan.Root, rootKey, variables, data, keys); err != nil {
		return nil, err
	}
	out := make([]graph.EntityKey, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	return out, nil
}

func (w *Writer) previewSelection(sel *planner.SelectionSet, parentKey graph.EntityKey, vars map[string]interface{}, obj map[string]interface{}, keys map[graph.EntityKey]struct{}) error {
	for _, field := range sel.Fields {
		if field.TypeCondition != "" {
			if tn, ok := obj["__typename"].(string); ok && tn != field.TypeCondition {
				continue
			}
		}
		raw, present := obj[field.ResponseKey]
		if !present {
			continue
		}
		args := field.BuildArgs(vars)
		storageKey := planner.StorageKey(field.FieldName, args)
		if field.IsConnection {
			connKey := planner.ConnectionKey(string(parentKey), field.ConnKey, args, field.ConnFilters)
			if err := w.previewConnection(field, connKey, vars, raw, keys); err != nil {
				return err
			}
			continue
		}
		if err := w.previewValue(field, parentKey, storageKey, vars, raw, keys); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) previewValue(field *planner.Field, parentKey graph.EntityKey, storageKey string, vars map[string]interface{}, value interface{}, keys map[graph.EntityKey]struct{}) error {
	if value == nil {
		return nil
	}
	if list, ok := value.([]interface{}); ok {
		for i, item := range list {
			if err := w.previewValue(field, parentKey, fmt.Sprintf("%s[%d]", storageKey, i), vars, item, keys); err != nil {
				return err
			}
		}
		return nil
	}
	obj, ok := value.(map[string]interface{})
	if !ok || field == nil || field.Selection == nil {
		return nil
	}
	entityKey, err := w.g.Identify(obj, parentKey, storageKey)
	if err != nil {
		return newSchemaError(err)
	}
	keys[entityKey] = struct{}{}
	return w.previewSelection(field.Selection, entityKey, vars, obj, keys)
}

func (w *Writer) previewConnection(field *planner.Field, connKey string, vars map[string]interface{}, value interface{}, keys map[graph.EntityKey]struct{}) error {
	obj, ok := value.(map[string]interface{})
	if !ok || field.Selection == nil {
		return nil
	}
	edgesField := lookupOne(field.Selection, "edges")
	var nodeField *planner.Field
	if edgesField != nil && edgesField.Selection != nil {
		nodeField = lookupOne(edgesField.Selection, "node")
	}
	edgesRaw, _ := obj["edges"].([]interface{})
	for i, e := range edgesRaw {
		edgeObj, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		if err := w.previewValue(nodeField, graph.EntityKey(connKey), fmt.Sprintf("%s.edges[%d].node", connKey, i), vars, edgeObj["node"], keys); err != nil {
			return err
		}
	}
	return nil
}

func lookupOne(sel *planner.SelectionSet, responseKey string) *planner.Field {
	fs := sel.Lookup(responseKey)
	if len(fs) == 0 {
		return nil
	}
	return fs[0]
}

// metaFields returns every top-level field of a connection's selection
// other than edges/pageInfo -- the connection-level extras like
// totalCount (spec §4.4 "meta").
func metaFields(sel *planner.SelectionSet) []*planner.Field {
	var out []*planner.Field
	for _, f := range sel.Fields {
		if f.ResponseKey == "edges" || f.ResponseKey == "pageInfo" {
			continue
		}
		out = append(out, f)
	}
	return out
}
