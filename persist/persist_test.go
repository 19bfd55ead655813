package persist

import (
	"testing"

	"github.com/cachebay/cachebay/internal/conns"
	"github.com/cachebay/cachebay/internal/graph"
	"github.com/cachebay/cachebay/internal/optimistic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDehydrateCapturesRecordsAndConnections(t *testing.T) {
	g := graph.New(graph.Config{})
	g.PutRecord("User:1", graph.Record{"__typename": "User", "id": "1", "name": "Ada"}, graph.Merge)

	conn := g.EnsureConnection("User:1.posts", conns.Infinite)
	conn.MergePage(conns.IncomingPage{
		Edges:    []conns.Entry{{EntityKey: "Post:1", Cursor: "c1"}},
		PageInfo: conns.PageInfo{EndCursor: "c1"},
	})

	snap := Dehydrate(g)
	require.Contains(t, snap.Records, "User:1")
	assert.Equal(t, "Ada", snap.Records["User:1"]["name"])

	require.Contains(t, snap.Connections, "User:1.posts")
	assert.Len(t, snap.Connections["User:1.posts"].List, 1)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	snap := Snapshot{
		Records: map[string]map[string]interface{}{
			"User:1": {"__typename": "User", "id": "1", "name": "Ada"},
		},
		Connections: map[string]ConnectionSnapshot{
			"User:1.posts": {
				Mode: conns.Infinite,
				List: []conns.Entry{{EntityKey: "Post:1", Cursor: "c1"}},
				Page: conns.PageInfo{EndCursor: "c1"},
			},
		},
	}

	data, err := Marshal(snap)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, "Ada", decoded.Records["User:1"]["name"])
	assert.Equal(t, "Post:1", decoded.Connections["User:1.posts"].List[0].EntityKey)
}

func TestMarshalUnmarshalRevivesRefsIncludingLists(t *testing.T) {
	snap := Snapshot{
		Records: map[string]map[string]interface{}{
			"User:1": {
				"__typename": "User",
				"id":         "1",
				"bestFriend": graph.Ref{Key: "User:2"},
				"friends": []interface{}{
					graph.Ref{Key: "User:2"},
					graph.Ref{Key: "User:3"},
				},
			},
		},
	}

	data, err := Marshal(snap)
	require.NoError(t, err)
	require.Contains(t, string(data), `"__ref":"User:2"`)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	rec := decoded.Records["User:1"]
	assert.Equal(t, graph.Ref{Key: "User:2"}, rec["bestFriend"])

	friends, ok := rec["friends"].([]interface{})
	require.True(t, ok)
	require.Len(t, friends, 2)
	assert.Equal(t, graph.Ref{Key: "User:2"}, friends[0])
	assert.Equal(t, graph.Ref{Key: "User:3"}, friends[1])
}

func TestHydrateReplacesBaseStateAndClearsStack(t *testing.T) {
	g := graph.New(graph.Config{
		Keys: map[string]graph.KeyFunc{
			"User": func(obj map[string]interface{}) (string, bool) {
				id, ok := obj["id"].(string)
				return id, ok
			},
		},
	})
	stack := optimistic.NewStack()

	stack.ModifyOptimistic(g, func(m *optimistic.Mutator) {
		m.Write(map[string]interface{}{"__typename": "User", "id": "99", "name": "Ghost"})
	})
	require.True(t, stack.Active())

	snap := Snapshot{
		Records: map[string]map[string]interface{}{
			"User:1": {"__typename": "User", "id": "1", "name": "Ada"},
		},
	}
	Hydrate(g, stack, snap)

	rec, ok := g.GetRecord("User:1")
	require.True(t, ok)
	assert.Equal(t, "Ada", rec["name"])
	assert.False(t, stack.Active())
}
