package cachebay

import (
	"context"
	"testing"
	"time"

	"github.com/cachebay/cachebay/internal/graph"
	"github.com/cachebay/cachebay/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userKeyFunc(obj map[string]interface{}) (string, bool) {
	id, ok := obj["id"].(string)
	return id, ok
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(Config{
		Keys: map[string]KeyFunc{"User": userKeyFunc, "Post": userKeyFunc},
	})
	require.NoError(t, err)
	return c
}

func TestReadWriteQueryRoundTrip(t *testing.T) {
	c := newTestCache(t)
	query := `query { viewer { __typename id name } }`

	touched, err := c.WriteQuery(WriteQueryOptions{
		Query: query,
		Data: map[string]interface{}{
			"viewer": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, touched, "User:1")

	data, ok, err := c.ReadQuery(ReadQueryOptions{Query: query})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", data["viewer"].(map[string]interface{})["name"])
}

func TestReadQueryMissReturnsOkFalse(t *testing.T) {
	c := newTestCache(t)
	_, ok, err := c.ReadQuery(ReadQueryOptions{Query: `query { viewer { __typename id name } }`})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadQueryInvalidDocumentReturnsPlanError(t *testing.T) {
	c := newTestCache(t)
	_, _, err := c.ReadQuery(ReadQueryOptions{Query: `not valid graphql {{{`})
	require.Error(t, err)
	var planErr *PlanError
	assert.ErrorAs(t, err, &planErr)
}

func TestWriteFragmentCommitAndRevert(t *testing.T) {
	c := newTestCache(t)
	fragment := `fragment UserFields on User { __typename id name }`

	handle, err := c.WriteFragment(WriteFragmentOptions{
		ID:       "User:1",
		Fragment: fragment,
		Data:     map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
	})
	require.NoError(t, err)
	handle.Commit()

	data, ok, err := c.ReadFragment(ReadFragmentOptions{ID: "User:1", Fragment: fragment})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", data["name"])

	handle2, err := c.WriteFragment(WriteFragmentOptions{
		ID:       "User:1",
		Fragment: fragment,
		Defer:    true,
		Data:     map[string]interface{}{"__typename": "User", "id": "1", "name": "Grace"},
	})
	require.NoError(t, err)

	data, _, _ = c.ReadFragment(ReadFragmentOptions{ID: "User:1", Fragment: fragment})
	assert.Equal(t, "Grace", data["name"])

	handle2.Revert()
	data, _, _ = c.ReadFragment(ReadFragmentOptions{ID: "User:1", Fragment: fragment})
	assert.Equal(t, "Ada", data["name"])
}

func TestReadFragmentMaterializedReflectsOptimisticOverlay(t *testing.T) {
	c := newTestCache(t)
	c.WriteFragment(WriteFragmentOptions{
		ID:       "User:1",
		Fragment: `fragment F on User { __typename id name }`,
		Data:     map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
	})

	h := c.ModifyOptimistic(func(m *OptimisticMutator) {
		m.Patch(graph.EntityKey("User:1"), map[string]interface{}{"name": "Ada (pending)"})
	})
	defer h.Commit()

	data, ok, err := c.ReadFragment(ReadFragmentOptions{ID: "User:1", Materialized: true})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada (pending)", data["name"])
}

func TestWatchQueryEmitsOnWriteAndCanUnsubscribe(t *testing.T) {
	c := newTestCache(t)
	query := `query { viewer { __typename id name } }`

	var emissions int
	handle, err := c.WatchQuery(WatchQueryOptions{
		Query: query,
		OnData: func(data map[string]interface{}, ok bool) {
			emissions++
		},
	})
	require.NoError(t, err)
	defer handle.Unsubscribe()

	c.WriteQuery(WriteQueryOptions{
		Query: query,
		Data: map[string]interface{}{
			"viewer": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
		},
	})
	assert.Equal(t, 1, emissions)

	c.WriteQuery(WriteQueryOptions{
		Query: query,
		Data: map[string]interface{}{
			"viewer": map[string]interface{}{"__typename": "User", "id": "1", "name": "Grace"},
		},
	})
	assert.Equal(t, 2, emissions)

	handle.Unsubscribe()
	c.WriteQuery(WriteQueryOptions{
		Query: query,
		Data: map[string]interface{}{
			"viewer": map[string]interface{}{"__typename": "User", "id": "1", "name": "Hedy"},
		},
	})
	assert.Equal(t, 2, emissions, "no further emissions after Unsubscribe")
}

func TestWatchQueryImmediateEmitsCurrentSnapshotSynchronously(t *testing.T) {
	c := newTestCache(t)
	query := `query { viewer { __typename id name } }`
	c.WriteQuery(WriteQueryOptions{
		Query: query,
		Data: map[string]interface{}{
			"viewer": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
		},
	})

	var got map[string]interface{}
	handle, err := c.WatchQuery(WatchQueryOptions{
		Query:     query,
		Immediate: true,
		OnData:    func(data map[string]interface{}, ok bool) { got = data },
	})
	require.NoError(t, err)
	defer handle.Unsubscribe()

	require.NotNil(t, got)
	assert.Equal(t, "Ada", got["viewer"].(map[string]interface{})["name"])
}

func TestExecuteQueryNormalizesNetworkResponse(t *testing.T) {
	c, err := New(Config{
		Keys: map[string]KeyFunc{"User": userKeyFunc},
		Transport: transport.Transport{
			Http: func(ctx context.Context, hctx transport.HttpContext) transport.Result {
				return transport.Result{Data: map[string]interface{}{
					"viewer": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
				}}
			},
		},
	})
	require.NoError(t, err)

	query := `query { viewer { __typename id name } }`
	res := c.ExecuteQuery(context.Background(), ExecuteOptions{Query: query})
	require.NoError(t, res.Error)
	assert.Contains(t, res.Touched, "User:1")

	data, ok, err := c.ReadQuery(ReadQueryOptions{Query: query})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", data["viewer"].(map[string]interface{})["name"])
}

func TestExecuteQueryWithoutHttpTransportIsConfigurationError(t *testing.T) {
	c := newTestCache(t)
	res := c.ExecuteQuery(context.Background(), ExecuteOptions{Query: `query { viewer { id } }`})
	require.Error(t, res.Error)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, res.Error, &cfgErr)
}

func TestExecuteMutationDiscardsEphemeralRoot(t *testing.T) {
	c, err := New(Config{
		Keys: map[string]KeyFunc{"User": userKeyFunc},
		Transport: transport.Transport{
			Http: func(ctx context.Context, hctx transport.HttpContext) transport.Result {
				return transport.Result{Data: map[string]interface{}{
					"updateUser": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada Lovelace"},
				}}
			},
		},
	})
	require.NoError(t, err)

	res := c.ExecuteMutation(context.Background(), ExecuteOptions{
		Query: `mutation { updateUser { __typename id name } }`,
	})
	require.NoError(t, res.Error)

	rec, ok := c.graph.GetRecord("User:1")
	require.True(t, ok)
	assert.Equal(t, "Ada Lovelace", rec["name"])

	// The ephemeral mutation root itself must not survive.
	assert.False(t, c.graph.HasRecord(graph.EntityKey("@mutation.0")))
}

type fakeConn struct {
	observer transport.Observer
}

func (f *fakeConn) Subscribe(observer transport.Observer) transport.Subscription {
	f.observer = observer
	return &fakeSub{}
}

type fakeSub struct{ unsubscribed bool }

func (s *fakeSub) Unsubscribe() { s.unsubscribed = true }

func TestExecuteSubscriptionNormalizesEachEventUnderFreshRoot(t *testing.T) {
	fc := &fakeConn{}
	c, err := New(Config{
		Keys: map[string]KeyFunc{"User": userKeyFunc},
		Transport: transport.Transport{
			Ws: func(ctx context.Context, wctx transport.WsContext) transport.Conn { return fc },
		},
	})
	require.NoError(t, err)

	results := make(chan ExecuteResult, 2)
	sub, err := c.ExecuteSubscription(context.Background(), ExecuteOptions{
		Query: `subscription { userUpdated { __typename id name } }`,
	}, func(r ExecuteResult) { results <- r })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	fc.observer.Next(transport.Result{Data: map[string]interface{}{
		"userUpdated": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
	}})

	select {
	case r := <-results:
		require.NoError(t, r.Error)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription event")
	}

	rec, ok := c.graph.GetRecord("User:1")
	require.True(t, ok)
	assert.Equal(t, "Ada", rec["name"])
}

func TestExecuteSubscriptionWithoutWsTransportIsConfigurationError(t *testing.T) {
	c := newTestCache(t)
	_, err := c.ExecuteSubscription(context.Background(), ExecuteOptions{Query: `subscription { x }`}, nil)
	require.Error(t, err)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestModifyOptimisticConnectionAddNodeIsVisibleThenRevertible(t *testing.T) {
	c := newTestCache(t)
	query := `
		query {
			viewer {
				__typename
				id
				posts @connection {
					edges { cursor node { __typename id } }
					pageInfo { hasNextPage endCursor }
				}
			}
		}
	`

	_, err := c.WriteQuery(WriteQueryOptions{
		Query: query,
		Data: map[string]interface{}{
			"viewer": map[string]interface{}{
				"__typename": "User", "id": "1",
				"posts": map[string]interface{}{
					"edges":    []interface{}{},
					"pageInfo": map[string]interface{}{"hasNextPage": false, "endCursor": ""},
				},
			},
		},
	})
	require.NoError(t, err)

	handle := c.ModifyOptimistic(func(m *OptimisticMutator) {
		m.Write(map[string]interface{}{"__typename": "Post", "id": "1"})
		m.Connection("User:1.posts()").AddNode(Entry{EntityKey: "Post:1", Cursor: "c1"}, PositionEnd, "")
	})

	data, ok, err := c.ReadQuery(ReadQueryOptions{Query: query})
	require.NoError(t, err)
	require.True(t, ok)
	edges := data["viewer"].(map[string]interface{})["posts"].(map[string]interface{})["edges"].([]interface{})
	assert.Len(t, edges, 1)

	handle.Revert()

	data, ok, err = c.ReadQuery(ReadQueryOptions{Query: query})
	require.NoError(t, err)
	require.True(t, ok)
	edges = data["viewer"].(map[string]interface{})["posts"].(map[string]interface{})["edges"].([]interface{})
	assert.Len(t, edges, 0)
}

func TestPlanIsCachedByDocumentText(t *testing.T) {
	c := newTestCache(t)
	query := `query { viewer { id } }`

	p1, err := c.plan(query)
	require.NoError(t, err)
	p2, err := c.plan(query)
	require.NoError(t, err)
	assert.Same(t, p1, p2, "identical document text must reuse the cached plan")
}
