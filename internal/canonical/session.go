package canonical

import (
	"sync"

	"github.com/cachebay/cachebay/internal/conns"
)

// ViewSession owns one conns.View per connection key a live reader
// (watchQuery, a subscription) has encountered, so repeated reads of
// the same connection project through the same View, whose Entry slice
// is synced in place, instead of creating a new View on every emission
// (spec §4.4 "View session"). The snapshot trees Reader.ReadLive
// returns are still built fresh on every read. Reader.Read is one-shot and never
// touches a ViewSession; only the live path (WatchQuery) creates one.
type ViewSession struct {
	mu    sync.Mutex
	views map[string]*conns.View
}

// NewViewSession constructs an empty session, to be held for the
// lifetime of one watchQuery/subscription and disposed via Close on
// unsubscribe.
func NewViewSession() *ViewSession {
	return &ViewSession{views: map[string]*conns.View{}}
}

// viewFor returns this session's View for connKey bound to state,
// creating it on first use. A session never mixes Views across
// different *conns.State instances for the same key (states are
// process-lifetime singletons per connKey, per spec §3 "Lifecycle").
func (vs *ViewSession) viewFor(state *conns.State, connKey string) *conns.View {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v, ok := vs.views[connKey]
	if !ok {
		v = state.NewView()
		vs.views[connKey] = v
	}
	return v
}

// Close detaches every View this session created from its State, so
// the canonical connection stops syncing a now-unsubscribed session on
// every future write (spec §5 "Cancellation: ... after return, no
// callbacks will fire").
func (vs *ViewSession) Close() {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	for _, v := range vs.views {
		v.Close()
	}
	vs.views = map[string]*conns.View{}
}
