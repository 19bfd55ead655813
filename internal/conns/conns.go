// Package conns implements the canonical connection state and
// per-subscriber view projection described in spec §4.4: cursor-paged
// writes merge into one ordered window per connection key, and each
// live reader gets a stable, in-place-synced slice of that window.
//
// The merge policy table (infinite/page × baseline/forward/backward)
// generalizes the edge/cursor bookkeeping in the teacher's
// schemabuilder/pagination.go (Edge, PageInfo, cursor-based
// pagination) from "paginate an in-memory Go slice" to "merge
// independently-arriving pages of normalized nodes into one window".
package conns

import "reflect"

// Mode is the connection's merge policy, set by @connection(mode: ...).
type Mode string

const (
	Infinite Mode = "infinite"
	Page     Mode = "page"
)

// Entry is one node in a canonical connection window.
type Entry struct {
	EntityKey string
	Cursor    string
	Edge      map[string]interface{} // edge-level extras besides node/cursor
}

// PageInfo mirrors the Relay PageInfo shape used throughout the
// teacher's pagination code (schemabuilder/pagination.go PageInfo).
type PageInfo struct {
	HasNextPage     bool
	HasPreviousPage bool
	StartCursor     string
	EndCursor       string
}

// Meta carries any connection-level metadata beyond pageInfo (e.g.
// totalCount) that a page write or optimistic patch wants to stash.
type Meta map[string]interface{}

// IncomingPage is what canonical passes in after normalizing one
// written page of a connection field.
type IncomingPage struct {
	Edges    []Entry
	PageInfo PageInfo
	Meta     Meta
	// After/Before echo the pagination variables used to fetch this
	// page; they drive baseline/forward/backward classification and
	// never enter the connection key itself.
	After  string
	Before string
}

func (p IncomingPage) classify() classification {
	switch {
	case p.After != "":
		return forward
	case p.Before != "":
		return backward
	default:
		return baseline
	}
}

type classification int

const (
	baseline classification = iota
	forward
	backward
)

// State is the canonical per-connection record: an ordered list of
// entries, the merged pageInfo/meta, a monotonic version counter bumped
// on every mutation, and the set of view sessions subscribed to it.
type State struct {
	Key     string
	Mode    Mode
	List    []Entry
	Page    PageInfo
	Meta    Meta
	Version uint64

	views map[*View]struct{}
}

// New creates an empty canonical connection state for key.
func New(key string, mode Mode) *State {
	if mode == "" {
		mode = Infinite
	}
	return &State{Key: key, Mode: mode, views: make(map[*View]struct{})}
}

func indexOf(list []Entry, entityKey string) int {
	for i, e := range list {
		if e.EntityKey == entityKey {
			return i
		}
	}
	return -1
}

// dedupe collapses duplicate entity keys within a single incoming
// page, keeping the earliest position and the latest cursor/edge
// extras (spec §3 invariant 3).
func dedupe(edges []Entry) []Entry {
	out := make([]Entry, 0, len(edges))
	seen := make(map[string]int, len(edges))
	for _, e := range edges {
		if idx, ok := seen[e.EntityKey]; ok {
			out[idx] = e
			continue
		}
		seen[e.EntityKey] = len(out)
		out = append(out, e)
	}
	return out
}

// MergePage applies an incoming page write per the mode/classification
// table in spec §4.4, returning whether the canonical state actually
// changed (for notification minimality).
func (s *State) MergePage(p IncomingPage) bool {
	before := s.snapshot()

	edges := dedupe(p.Edges)

	switch s.Mode {
	case Page:
		s.List = edges
		s.Page = p.PageInfo
	case Infinite:
		switch p.classify() {
		case baseline:
			s.List = edges
			s.Page = p.PageInfo
		case forward:
			s.List = mergeOrdered(s.List, edges, true)
			s.Page.EndCursor = p.PageInfo.EndCursor
			s.Page.HasNextPage = p.PageInfo.HasNextPage
		case backward:
			s.List = mergeOrdered(s.List, edges, false)
			s.Page.StartCursor = p.PageInfo.StartCursor
			s.Page.HasPreviousPage = p.PageInfo.HasPreviousPage
		}
	}

	if p.Meta != nil {
		s.Meta = p.Meta
	}

	changed := !reflect.DeepEqual(before, s.snapshot())
	if changed {
		s.Version++
		s.syncViews()
	}
	return changed
}

// mergeOrdered appends (forward) or prepends (backward) edges that
// aren't already present, and updates cursor/edge extras in place for
// ones that are, per spec §3 invariant 3.
func mergeOrdered(list []Entry, incoming []Entry, append_ bool) []Entry {
	out := make([]Entry, len(list))
	copy(out, list)

	var fresh []Entry
	for _, e := range incoming {
		if idx := indexOf(out, e.EntityKey); idx >= 0 {
			out[idx] = e
			continue
		}
		fresh = append(fresh, e)
	}

	if len(fresh) == 0 {
		return out
	}
	if append_ {
		return append(out, fresh...)
	}
	return append(append([]Entry{}, fresh...), out...)
}

type snapshotView struct {
	list []Entry
	page PageInfo
	meta Meta
}

func (s *State) snapshot() snapshotView {
	list := make([]Entry, len(s.List))
	copy(list, s.List)
	return snapshotView{list: list, page: s.Page, meta: s.Meta}
}

// ApplyAndCommit permanently folds ops onto canonical state (used when
// an optimistic layer commits, squashing its connection ops into base
// -- spec §4.5 "commit() squashes the layer into base"), bumping
// Version and syncing views only if something actually changed.
func (s *State) ApplyAndCommit(ops []Op) bool {
	before := s.snapshot()
	s.List, s.Page, s.Meta = s.ApplyOptimistic(ops)
	changed := !reflect.DeepEqual(before, s.snapshot())
	if changed {
		s.Version++
		s.syncViews()
	}
	return changed
}

// ApplyOptimistic recomputes a connection projection by folding one or
// more ordered op sets (from active optimistic layers) over the base
// state, without mutating the canonical State itself. Used by
// internal/canonical when materializing a connection read under an
// active optimistic overlay.
func (s *State) ApplyOptimistic(ops []Op) (list []Entry, page PageInfo, meta Meta) {
	list = append([]Entry{}, s.List...)
	page = s.Page
	meta = s.Meta
	for _, op := range ops {
		list, page, meta = op.apply(list, page, meta)
	}
	return list, page, meta
}
