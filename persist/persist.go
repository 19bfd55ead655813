// Package persist implements the dehydrate/hydrate boundary described
// in spec §6: a JSON-serializable snapshot of a cache's base state,
// independent of any particular storage medium, the same json.Marshal
// convention the teacher uses for its schemabuilder introspection
// result rather than a bespoke binary format.
package persist

import (
	"encoding/json"

	"github.com/cachebay/cachebay/internal/conns"
	"github.com/cachebay/cachebay/internal/graph"
	"github.com/cachebay/cachebay/internal/optimistic"
)

// Snapshot is the wire form of a cache's base state (spec §6
// "dehydrate() returns a JSON-serializable snapshot of base state").
// The optimistic stack is never included -- it is transient, in-memory
// overlay state and is always discarded by hydrate().
type Snapshot struct {
	Records     map[string]map[string]interface{} `json:"records"`
	Connections map[string]ConnectionSnapshot      `json:"connections"`
}

// ConnectionSnapshot is the wire form of one canonical connection
// window.
type ConnectionSnapshot struct {
	Mode  conns.Mode             `json:"mode"`
	List  []conns.Entry          `json:"list"`
	Page  conns.PageInfo         `json:"page"`
	Meta  map[string]interface{} `json:"meta,omitempty"`
}

// Dehydrate captures g's current base state as a Snapshot (spec §6).
// It never reads the optimistic overlay: a dehydrated snapshot always
// reflects confirmed, non-speculative state.
func Dehydrate(g *graph.Graph) Snapshot {
	records := g.AllRecords()
	out := Snapshot{
		Records:     make(map[string]map[string]interface{}, len(records)),
		Connections: make(map[string]ConnectionSnapshot),
	}
	for k, rec := range records {
		out.Records[string(k)] = map[string]interface{}(rec)
	}

	for key, state := range g.AllConnections() {
		out.Connections[key] = ConnectionSnapshot{
			Mode:  state.Mode,
			List:  append([]conns.Entry{}, state.List...),
			Page:  state.Page,
			Meta:  map[string]interface{}(state.Meta),
		}
	}
	return out
}

// Marshal serializes a Snapshot to JSON bytes.
func Marshal(snap Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// Unmarshal parses JSON bytes produced by Marshal back into a Snapshot.
// Record fields decode through a generic interface{} tree, so a
// graph.Ref never reaches its own UnmarshalJSON -- reviveRefs walks that
// tree afterward and turns the {"__ref": "<EntityKey>"} shape back into
// a graph.Ref wherever it appears, including inside lists.
func Unmarshal(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	for k, fields := range snap.Records {
		for field, v := range fields {
			fields[field] = reviveRefs(v)
		}
		snap.Records[k] = fields
	}
	return snap, nil
}

// reviveRefs recursively replaces any {"__ref": "<EntityKey>"} object
// decoded by encoding/json with the graph.Ref it denotes.
func reviveRefs(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		if ref, ok := graph.RefFromWire(val); ok {
			return ref
		}
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = reviveRefs(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = reviveRefs(item)
		}
		return out
	default:
		return v
	}
}

// Hydrate replaces g's base state with snap's contents atomically and
// clears stack, the optimistic overlay (spec §6 "hydrate(state)
// restores it atomically ... optimistic stack is cleared"). It does
// not validate snap against any particular schema: a record that no
// longer matches the application's current Keys/Interfaces config is
// restored as-is and simply won't be reachable from a plan that no
// longer queries it.
func Hydrate(g *graph.Graph, stack *optimistic.Stack, snap Snapshot) {
	records := make(map[graph.EntityKey]graph.Record, len(snap.Records))
	for k, fields := range snap.Records {
		records[graph.EntityKey(k)] = graph.Record(fields)
	}

	connections := make(map[string]*conns.State, len(snap.Connections))
	for key, cs := range snap.Connections {
		state := conns.New(key, cs.Mode)
		state.List = append([]conns.Entry{}, cs.List...)
		state.Page = cs.Page
		state.Meta = conns.Meta(cs.Meta)
		connections[key] = state
	}

	g.Restore(records, connections)
	if stack != nil {
		stack.Clear()
	}
}
