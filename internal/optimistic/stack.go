package optimistic

import (
	"sync"

	"github.com/cachebay/cachebay/internal/conns"
	"github.com/cachebay/cachebay/internal/graph"
)

// Stack is the ordered sequence of active optimistic layers for one
// cache instance (spec §3 "Optimistic layer": "Ordered stack of
// transactions").
type Stack struct {
	mu     sync.Mutex
	layers []*Layer
}

// NewStack constructs an empty layer stack.
func NewStack() *Stack {
	return &Stack{}
}

// Handle is the {commit(), revert()} pair returned to callers of
// ModifyOptimistic (spec §4.5).
type Handle struct {
	stack *Stack
	layer *Layer
	g     *graph.Graph
}

// ModifyOptimistic stages fn's edits as a new layer pushed onto the
// stack, then broadcasts one batched notification for every key/
// connection it touches (the layer is visible to reads immediately,
// before commit or revert).
func (s *Stack) ModifyOptimistic(g *graph.Graph, fn func(*Mutator)) *Handle {
	layer := newLayer()
	m := &Mutator{layer: layer, identify: g.IdentifyFunc()}
	fn(m)

	s.mu.Lock()
	s.layers = append(s.layers, layer)
	s.mu.Unlock()

	h := &Handle{stack: s, layer: layer, g: g}
	h.broadcast()
	return h
}

func (h *Handle) broadcast() {
	h.g.Batch(func() {
		for _, k := range h.layer.Keys() {
			h.g.Touch(string(k))
		}
		for _, ck := range h.layer.ConnKeys() {
			h.g.TouchConnection(ck)
		}
	})
}

// Commit squashes the layer's patches into the Graph and its
// connection ops into any already-established ConnectionStates (spec
// §4.5), as one batched write, then drops the layer from the stack.
// A connection op targeting a connection key with no established
// ConnectionState yet has nothing to squash into and is dropped along
// with the layer -- there is no base window for it to become part of.
func (h *Handle) Commit() {
	h.g.Batch(func() {
		for key, patch := range h.layer.patches {
			switch patch.Kind {
			case Delete:
				h.g.DeleteRecord(key)
			case Replace:
				h.g.PutRecord(key, patch.Fields, graph.Replace)
			default: // Set
				h.g.PutRecord(key, patch.Fields, graph.Merge)
			}
		}
		for connKey, ops := range h.layer.connOps {
			if state, ok := h.g.GetConnection(connKey); ok {
				if state.ApplyAndCommit(ops) {
					h.g.TouchConnection(connKey)
				}
			}
		}
	})
	h.stack.remove(h.layer)
}

// Revert drops the layer without squashing it, then notifies every key
// and connection it touched so readers fall back to whatever is
// beneath it (spec §4.5 "revert() removes the layer and notifies all
// keys it touched").
func (h *Handle) Revert() {
	h.stack.remove(h.layer)
	h.broadcast()
}

func (s *Stack) remove(layer *Layer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.layers {
		if l == layer {
			s.layers = append(s.layers[:i], s.layers[i+1:]...)
			return
		}
	}
}

func (s *Stack) snapshot() []*Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Layer, len(s.layers))
	copy(out, s.layers)
	return out
}

// Materialize folds every active layer's patch for key over base (in
// push order, oldest first, so the most recently staged layer wins on
// conflicting fields), per spec §3 invariant 5:
// materialize(key) = fold(base_record, layers_in_order).
func (s *Stack) Materialize(base graph.Record, baseExists bool, key graph.EntityKey) (graph.Record, bool) {
	rec, exists := base, baseExists

	for _, layer := range s.snapshot() {
		patch, ok := layer.patches[key]
		if !ok {
			continue
		}
		switch patch.Kind {
		case Delete:
			rec, exists = nil, false
		case Replace:
			rec, exists = cloneRecord(patch.Fields), true
		default: // Set
			next := graph.Record{}
			for k, v := range rec {
				next[k] = v
			}
			for k, v := range patch.Fields {
				next[k] = v
			}
			rec, exists = next, true
		}
	}
	return rec, exists
}

func cloneRecord(r graph.Record) graph.Record {
	out := make(graph.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ConnOps returns the ordered ops every active layer stages for
// connKey, concatenated in push order, for folding over canonical
// connection state at read time (conns.State.ApplyOptimistic).
func (s *Stack) ConnOps(connKey string) []conns.Op {
	var out []conns.Op
	for _, layer := range s.snapshot() {
		if ops, ok := layer.connOps[connKey]; ok {
			out = append(out, ops...)
		}
	}
	return out
}

// Active reports whether any layer is currently staged.
func (s *Stack) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.layers) > 0
}

// Clear drops every active layer without folding or notifying (used by
// hydrate(), spec §6: "optimistic stack is cleared").
func (s *Stack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = nil
}
