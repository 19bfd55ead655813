package canonical

import "github.com/cachebay/cachebay/internal/graph"

// MaterializeEntity returns the current overlay-merged field map for
// key, for framework adapters that want a stable, pull-based view of
// one entity without walking a whole Plan (spec §4.3, §9 "Reactive
// proxies": "a pull-based materializeEntity(key) returning a plain
// overlay view").
func (r *Reader) MaterializeEntity(key graph.EntityKey) (graph.Record, bool) {
	return r.record(key)
}
