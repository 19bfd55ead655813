package conns

import "reflect"

// View is a per-subscriber projection of a State: it owns a stable
// edges slice and a stable PageInfo value that are synced in place on
// every write, instead of being reallocated wholesale (spec §4.4
// "View projection").
type View struct {
	state *State

	Edges    []Entry
	Page     PageInfo
	Meta     Meta
	Version  uint64
	overlay  []Op
}

// NewView creates a view session bound to s and performs the initial
// sync.
func (s *State) NewView() *View {
	v := &View{state: s}
	s.views[v] = struct{}{}
	v.Sync()
	return v
}

// SetOverlay installs the ordered optimistic ops that should be folded
// on top of canonical state for this view (nil clears it), and
// re-syncs immediately.
func (v *View) SetOverlay(ops []Op) {
	v.overlay = ops
	v.Sync()
}

// Close detaches the view from its state; it will no longer be synced.
func (v *View) Close() {
	delete(v.state.views, v)
}

// Sync recomputes the view's window from current canonical state (plus
// any installed optimistic overlay) and reassigns the reused Edges
// slice in place: unchanged entries keep their slot untouched, only
// genuinely different slots are overwritten, and the slice is
// truncated or extended with append (which grows the backing array
// only when its capacity is exceeded) when the length changes.
func (v *View) Sync() {
	list, page, meta := v.state.List, v.state.Page, v.state.Meta
	if len(v.overlay) > 0 {
		list, page, meta = v.state.ApplyOptimistic(v.overlay)
	}

	n := len(list)
	switch {
	case len(v.Edges) > n:
		v.Edges = v.Edges[:n]
	case len(v.Edges) < n:
		v.Edges = append(v.Edges, make([]Entry, n-len(v.Edges))...)
	}
	for i := range list {
		if !reflect.DeepEqual(v.Edges[i], list[i]) {
			v.Edges[i] = list[i]
		}
	}

	v.Page = page
	v.Meta = meta
	v.Version = v.state.Version
}

func (s *State) syncViews() {
	for v := range s.views {
		v.Sync()
	}
}
