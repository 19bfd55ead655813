package canonical

import (
	"testing"

	"github.com/cachebay/cachebay/internal/conns"
	"github.com/cachebay/cachebay/internal/graph"
	"github.com/cachebay/cachebay/internal/optimistic"
	"github.com/cachebay/cachebay/internal/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph() *graph.Graph {
	return graph.New(graph.Config{
		Keys: map[string]graph.KeyFunc{
			"User": func(obj map[string]interface{}) (string, bool) {
				id, ok := obj["id"].(string)
				return id, ok
			},
			"Post": func(obj map[string]interface{}) (string, bool) {
				id, ok := obj["id"].(string)
				return id, ok
			},
		},
	})
}

func compile(t *testing.T, doc string) *planner.Plan {
	t.Helper()
	plan, err := planner.Compile(doc)
	require.NoError(t, err)
	return plan
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	g := newTestGraph()
	plan := compile(t, `
		query {
			viewer {
				__typename
				id
				name
			}
		}
	`)

	_, err := NewWriter(g).Write(plan, "@", nil, map[string]interface{}{
		"viewer": map[string]interface{}{
			"__typename": "User",
			"id":         "1",
			"name":       "Ada",
		},
	})
	require.NoError(t, err)

	data, _, ok := NewReader(g, nil).Read(plan, "@", nil, Strict)
	require.True(t, ok)

	viewer := data["viewer"].(map[string]interface{})
	assert.Equal(t, "Ada", viewer["name"])
	assert.Equal(t, "User", viewer["__typename"])
}

func TestReadMissingFieldReturnsNotOk(t *testing.T) {
	g := newTestGraph()
	plan := compile(t, `
		query {
			viewer {
				__typename
				id
				name
			}
		}
	`)

	_, _, ok := NewReader(g, nil).Read(plan, "@", nil, Strict)
	assert.False(t, ok, "reading against an empty graph must miss, not panic")
}

func TestWriteNestedEntityIdentity(t *testing.T) {
	g := newTestGraph()
	plan := compile(t, `
		query {
			viewer {
				__typename
				id
				posts @connection {
					edges {
						cursor
						node { __typename id title }
					}
					pageInfo { hasNextPage endCursor }
				}
			}
		}
	`)

	_, err := NewWriter(g).Write(plan, "@", nil, map[string]interface{}{
		"viewer": map[string]interface{}{
			"__typename": "User",
			"id":         "1",
			"posts": map[string]interface{}{
				"edges": []interface{}{
					map[string]interface{}{
						"cursor": "c1",
						"node":   map[string]interface{}{"__typename": "Post", "id": "1", "title": "Hello"},
					},
				},
				"pageInfo": map[string]interface{}{"hasNextPage": false, "endCursor": "c1"},
			},
		},
	})
	require.NoError(t, err)

	rec, ok := g.GetRecord("Post:1")
	require.True(t, ok)
	assert.Equal(t, "Hello", rec["title"])
}

func TestWriteConnectionMergesAcrossPages(t *testing.T) {
	g := newTestGraph()
	plan := compile(t, `
		query($after: String) {
			viewer {
				__typename
				id
				posts(after: $after) @connection {
					edges { cursor node { __typename id } }
					pageInfo { hasNextPage endCursor }
				}
			}
		}
	`)
	writer := NewWriter(g)

	_, err := writer.Write(plan, "@", map[string]interface{}{}, map[string]interface{}{
		"viewer": map[string]interface{}{
			"__typename": "User", "id": "1",
			"posts": map[string]interface{}{
				"edges": []interface{}{
					edge("c1", "Post", "1"),
					edge("c2", "Post", "2"),
				},
				"pageInfo": map[string]interface{}{"hasNextPage": true, "endCursor": "c2"},
			},
		},
	})
	require.NoError(t, err)

	_, err = writer.Write(plan, "@", map[string]interface{}{"after": "c2"}, map[string]interface{}{
		"viewer": map[string]interface{}{
			"__typename": "User", "id": "1",
			"posts": map[string]interface{}{
				"edges": []interface{}{edge("c3", "Post", "3")},
				"pageInfo": map[string]interface{}{"hasNextPage": false, "endCursor": "c3"},
			},
		},
	})
	require.NoError(t, err)

	data, _, ok := NewReader(g, nil).Read(plan, "@", map[string]interface{}{}, Canonical)
	require.True(t, ok)

	edges := data["viewer"].(map[string]interface{})["posts"].(map[string]interface{})["edges"].([]interface{})
	require.Len(t, edges, 3)
	assert.Equal(t, "c3", edges[2].(map[string]interface{})["cursor"])
}

func edge(cursor, typename, id string) map[string]interface{} {
	return map[string]interface{}{
		"cursor": cursor,
		"node":   map[string]interface{}{"__typename": typename, "id": id},
	}
}

func TestStrictModeSlicesToRequestedPage(t *testing.T) {
	g := newTestGraph()
	plan := compile(t, `
		query($first: Int, $after: String) {
			viewer {
				__typename
				id
				posts(first: $first, after: $after) @connection {
					edges { cursor node { __typename id } }
					pageInfo { hasNextPage hasPreviousPage startCursor endCursor }
				}
			}
		}
	`)
	writer := NewWriter(g)
	_, err := writer.Write(plan, "@", map[string]interface{}{}, map[string]interface{}{
		"viewer": map[string]interface{}{
			"__typename": "User", "id": "1",
			"posts": map[string]interface{}{
				"edges": []interface{}{
					edge("c1", "Post", "1"),
					edge("c2", "Post", "2"),
					edge("c3", "Post", "3"),
				},
				"pageInfo": map[string]interface{}{"hasNextPage": false, "endCursor": "c3"},
			},
		},
	})
	require.NoError(t, err)

	data, _, ok := NewReader(g, nil).Read(plan, "@", map[string]interface{}{"first": 2}, Strict)
	require.True(t, ok)
	edges := data["viewer"].(map[string]interface{})["posts"].(map[string]interface{})["edges"].([]interface{})
	assert.Len(t, edges, 2)
	pageInfo := data["viewer"].(map[string]interface{})["posts"].(map[string]interface{})["pageInfo"].(map[string]interface{})
	assert.True(t, pageInfo["hasNextPage"].(bool))
}

func TestReadFoldsActiveOptimisticLayer(t *testing.T) {
	g := newTestGraph()
	stack := optimistic.NewStack()
	plan := compile(t, `
		query {
			viewer { __typename id name }
		}
	`)

	_, err := NewWriter(g).Write(plan, "@", nil, map[string]interface{}{
		"viewer": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
	})
	require.NoError(t, err)

	stack.ModifyOptimistic(g, func(m *optimistic.Mutator) {
		m.Patch("User:1", graph.Record{"name": "Ada (pending)"})
	})

	data, _, ok := NewReader(g, stack).Read(plan, "@", nil, Strict)
	require.True(t, ok)
	viewer := data["viewer"].(map[string]interface{})
	assert.Equal(t, "Ada (pending)", viewer["name"])

	baseData, _, ok := NewReader(g, nil).Read(plan, "@", nil, Strict)
	require.True(t, ok)
	assert.Equal(t, "Ada", baseData["viewer"].(map[string]interface{})["name"])
}

func TestPreviewKeysMatchesWriteWithoutMutating(t *testing.T) {
	g := newTestGraph()
	plan := compile(t, `
		fragment UserFields on User {
			__typename
			id
			name
		}
	`)
	writer := NewWriter(g)

	keys, err := writer.PreviewKeys(plan, "User:1", nil, map[string]interface{}{
		"__typename": "User", "id": "1", "name": "Ada",
	})
	require.NoError(t, err)
	assert.Contains(t, keys, graph.EntityKey("User:1"))
	assert.False(t, g.HasRecord("User:1"), "PreviewKeys must not write anything")
}

func TestMaterializeEntityReturnsOverlayMergedRecord(t *testing.T) {
	g := newTestGraph()
	stack := optimistic.NewStack()
	g.PutRecord("User:1", graph.Record{"__typename": "User", "id": "1", "name": "Ada"}, graph.Merge)

	stack.ModifyOptimistic(g, func(m *optimistic.Mutator) {
		m.Patch("User:1", graph.Record{"name": "Ada (pending)"})
	})

	rec, ok := NewReader(g, stack).MaterializeEntity("User:1")
	require.True(t, ok)
	assert.Equal(t, "Ada (pending)", rec["name"])
}

func TestReadLiveReusesViewSessionContainersAcrossWrites(t *testing.T) {
	g := newTestGraph()
	plan := compile(t, `
		query($after: String) {
			viewer {
				__typename
				id
				posts(after: $after) @connection {
					edges { cursor node { __typename id } }
					pageInfo { hasNextPage endCursor }
				}
			}
		}
	`)
	writer := NewWriter(g)
	_, err := writer.Write(plan, "@", map[string]interface{}{}, map[string]interface{}{
		"viewer": map[string]interface{}{
			"__typename": "User", "id": "1",
			"posts": map[string]interface{}{
				"edges": []interface{}{
					edge("c1", "Post", "1"),
					edge("c2", "Post", "2"),
				},
				"pageInfo": map[string]interface{}{"hasNextPage": true, "endCursor": "c2"},
			},
		},
	})
	require.NoError(t, err)

	session := NewViewSession()
	reader := NewReader(g, nil)

	data1, _, ok := reader.ReadLive(plan, "@", map[string]interface{}{}, Canonical, session)
	require.True(t, ok)
	edges1 := data1["viewer"].(map[string]interface{})["posts"].(map[string]interface{})["edges"].([]interface{})
	require.Len(t, edges1, 2)
	require.Len(t, session.views, 1)
	var view1 *conns.View
	for _, v := range session.views {
		view1 = v
	}

	_, err = writer.Write(plan, "@", map[string]interface{}{"after": "c2"}, map[string]interface{}{
		"viewer": map[string]interface{}{
			"__typename": "User", "id": "1",
			"posts": map[string]interface{}{
				"edges":    []interface{}{edge("c3", "Post", "3")},
				"pageInfo": map[string]interface{}{"hasNextPage": false, "endCursor": "c3"},
			},
		},
	})
	require.NoError(t, err)

	data2, _, ok := reader.ReadLive(plan, "@", map[string]interface{}{}, Canonical, session)
	require.True(t, ok)
	edges2 := data2["viewer"].(map[string]interface{})["posts"].(map[string]interface{})["edges"].([]interface{})
	require.Len(t, edges2, 3)
	assert.Equal(t, "c1", edges2[0].(map[string]interface{})["cursor"])
	assert.Equal(t, "c3", edges2[2].(map[string]interface{})["cursor"])
	require.Len(t, session.views, 1)
	for _, v := range session.views {
		assert.Same(t, view1, v, "the session must keep projecting through the same View")
	}

	session.Close()
}
