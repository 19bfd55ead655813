package conns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries(keys ...string) []Entry {
	out := make([]Entry, len(keys))
	for i, k := range keys {
		out[i] = Entry{EntityKey: k, Cursor: k}
	}
	return out
}

func keysOf(list []Entry) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.EntityKey
	}
	return out
}

func TestMergePageInfiniteForwardAppends(t *testing.T) {
	s := New("Query.posts", Infinite)

	changed := s.MergePage(IncomingPage{
		Edges:    entries("A", "B"),
		PageInfo: PageInfo{EndCursor: "B", HasNextPage: true},
	})
	require.True(t, changed)

	changed = s.MergePage(IncomingPage{
		Edges:    entries("C", "D"),
		PageInfo: PageInfo{EndCursor: "D", HasNextPage: false},
		After:    "B",
	})
	require.True(t, changed)

	assert.Equal(t, []string{"A", "B", "C", "D"}, keysOf(s.List))
	assert.Equal(t, "D", s.Page.EndCursor)
	assert.False(t, s.Page.HasNextPage)
}

func TestMergePageInfiniteBackwardPrepends(t *testing.T) {
	s := New("Query.posts", Infinite)
	s.MergePage(IncomingPage{Edges: entries("C", "D"), PageInfo: PageInfo{StartCursor: "C"}})

	s.MergePage(IncomingPage{
		Edges:    entries("A", "B"),
		PageInfo: PageInfo{StartCursor: "A", HasPreviousPage: true},
		Before:   "C",
	})

	assert.Equal(t, []string{"A", "B", "C", "D"}, keysOf(s.List))
	assert.Equal(t, "A", s.Page.StartCursor)
	assert.True(t, s.Page.HasPreviousPage)
}

func TestMergePageDedupesKeepingEarliestPosition(t *testing.T) {
	s := New("Query.posts", Infinite)
	s.MergePage(IncomingPage{Edges: entries("A", "B")})

	s.MergePage(IncomingPage{Edges: entries("B", "C"), After: "B"})

	assert.Equal(t, []string{"A", "B", "C"}, keysOf(s.List))
}

func TestMergePagePageModeReplacesWindowEachWrite(t *testing.T) {
	s := New("Query.posts", Page)
	s.MergePage(IncomingPage{Edges: entries("A", "B")})
	s.MergePage(IncomingPage{Edges: entries("C", "D")})

	assert.Equal(t, []string{"C", "D"}, keysOf(s.List))
}

func TestMergePageBaselineResetsWindow(t *testing.T) {
	s := New("Query.posts", Infinite)
	s.MergePage(IncomingPage{Edges: entries("A", "B", "C")})

	// A refetch with neither after nor before is a baseline write and
	// discards whatever was merged in before it.
	s.MergePage(IncomingPage{Edges: entries("X")})

	assert.Equal(t, []string{"X"}, keysOf(s.List))
}

func TestMergePageReportsNoChangeForIdenticalWrite(t *testing.T) {
	s := New("Query.posts", Infinite)
	s.MergePage(IncomingPage{Edges: entries("A"), PageInfo: PageInfo{EndCursor: "A"}})
	versionAfterFirst := s.Version

	changed := s.MergePage(IncomingPage{Edges: entries("A"), PageInfo: PageInfo{EndCursor: "A"}})
	assert.False(t, changed)
	assert.Equal(t, versionAfterFirst, s.Version)
}

func TestApplyOptimisticDoesNotMutateCanonicalState(t *testing.T) {
	s := New("Query.posts", Infinite)
	s.MergePage(IncomingPage{Edges: entries("A", "B")})

	list, _, _ := s.ApplyOptimistic([]Op{AddNode(Entry{EntityKey: "Z"}, Start, "")})
	assert.Equal(t, []string{"Z", "A", "B"}, keysOf(list))
	assert.Equal(t, []string{"A", "B"}, keysOf(s.List), "canonical state must be untouched by a non-committing fold")
}

func TestAddNodeBeforeAndAfterAnchor(t *testing.T) {
	s := New("Query.posts", Infinite)
	s.MergePage(IncomingPage{Edges: entries("A", "C")})

	list, _, _ := s.ApplyOptimistic([]Op{AddNode(Entry{EntityKey: "B"}, After, "A")})
	assert.Equal(t, []string{"A", "B", "C"}, keysOf(list))

	list, _, _ = s.ApplyOptimistic([]Op{AddNode(Entry{EntityKey: "B"}, Before, "C")})
	assert.Equal(t, []string{"A", "B", "C"}, keysOf(list))
}

func TestRemoveNodeOp(t *testing.T) {
	s := New("Query.posts", Infinite)
	s.MergePage(IncomingPage{Edges: entries("A", "B", "C")})

	list, _, _ := s.ApplyOptimistic([]Op{RemoveNode("B")})
	assert.Equal(t, []string{"A", "C"}, keysOf(list))
}

func TestApplyAndCommitFoldsOpsPermanentlyAndBumpsVersion(t *testing.T) {
	s := New("Query.posts", Infinite)
	s.MergePage(IncomingPage{Edges: entries("A")})
	before := s.Version

	changed := s.ApplyAndCommit([]Op{AddNode(Entry{EntityKey: "B"}, End, "")})
	assert.True(t, changed)
	assert.Greater(t, s.Version, before)
	assert.Equal(t, []string{"A", "B"}, keysOf(s.List))
}

func TestViewSyncsInPlaceAndTracksOverlay(t *testing.T) {
	s := New("Query.posts", Infinite)
	s.MergePage(IncomingPage{Edges: entries("A", "B")})

	view := s.NewView()
	assert.Equal(t, []string{"A", "B"}, keysOf(view.Edges))

	view.SetOverlay([]Op{AddNode(Entry{EntityKey: "Z"}, Start, "")})
	assert.Equal(t, []string{"Z", "A", "B"}, keysOf(view.Edges))

	s.MergePage(IncomingPage{Edges: entries("C"), After: "B"})
	assert.Equal(t, []string{"Z", "A", "B", "C"}, keysOf(view.Edges), "a canonical write must re-sync a view with an active overlay")

	view.SetOverlay(nil)
	assert.Equal(t, []string{"A", "B", "C"}, keysOf(view.Edges))
}

func TestViewCloseStopsFurtherSync(t *testing.T) {
	s := New("Query.posts", Infinite)
	s.MergePage(IncomingPage{Edges: entries("A")})

	view := s.NewView()
	view.Close()

	s.MergePage(IncomingPage{Edges: entries("B"), After: "A"})
	assert.Equal(t, []string{"A"}, keysOf(view.Edges), "a closed view must not be synced by subsequent writes")
}
