// Package optimistic implements the ordered overlay of provisional
// mutations described in spec §4.5: named, revertible layers of entity
// patches and connection ops, folded over base state at read time
// (materialize(key) = fold(base, layers_in_order)).
package optimistic

import (
	"github.com/google/uuid"

	"github.com/cachebay/cachebay/internal/conns"
	"github.com/cachebay/cachebay/internal/graph"
)

// Kind selects how a layer's patch reconciles with whatever is beneath
// it when folded.
type Kind int

const (
	// Set overlays fields onto whatever is beneath (shallow per-field
	// merge: each top-level field in Fields replaces the one beneath
	// whole; nested maps are not merged).
	Set Kind = iota
	// Replace discards everything beneath and substitutes Fields whole.
	Replace
	// Delete removes the record entirely for everything above this
	// layer; a lower layer (or base) is never consulted again once a
	// Delete is folded.
	Delete
)

// Patch is one layer's edit to a single entity key.
type Patch struct {
	Kind   Kind
	Fields graph.Record
}

// Layer is one transaction pushed by ModifyOptimistic: a set of entity
// patches plus a set of per-connection op lists, all applied together
// and reverted together (spec §4.5, §3 "Optimistic layer").
type Layer struct {
	ID       string
	patches  map[graph.EntityKey]Patch
	connOps  map[string][]conns.Op
}

func newLayer() *Layer {
	return &Layer{
		ID:      uuid.NewString(),
		patches: map[graph.EntityKey]Patch{},
		connOps: map[string][]conns.Op{},
	}
}

// Keys returns every entity key this layer patches, for notification.
func (l *Layer) Keys() []graph.EntityKey {
	out := make([]graph.EntityKey, 0, len(l.patches))
	for k := range l.patches {
		out = append(out, k)
	}
	return out
}

// ConnKeys returns every connection key this layer edits, for
// notification.
func (l *Layer) ConnKeys() []string {
	out := make([]string, 0, len(l.connOps))
	for k := range l.connOps {
		out = append(out, k)
	}
	return out
}

func (l *Layer) setPatch(key graph.EntityKey, kind Kind, fields graph.Record) {
	if kind == Delete {
		l.patches[key] = Patch{Kind: Delete}
		return
	}
	existing, ok := l.patches[key]
	if ok && existing.Kind == kind {
		merged := graph.Record{}
		for k, v := range existing.Fields {
			merged[k] = v
		}
		for k, v := range fields {
			merged[k] = v
		}
		l.patches[key] = Patch{Kind: kind, Fields: merged}
		return
	}
	l.patches[key] = Patch{Kind: kind, Fields: fields}
}
