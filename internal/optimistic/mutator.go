package optimistic

import (
	"github.com/cachebay/cachebay/internal/conns"
	"github.com/cachebay/cachebay/internal/graph"
)

// IdentifyFunc resolves a plain normalized object to its entity key,
// the same contract as graph.Graph.IdentifyFunc().
type IdentifyFunc func(obj map[string]interface{}) (graph.EntityKey, error)

// Mutator is the staged edit surface handed to the fn passed to
// ModifyOptimistic (spec §4.5): write/patch/delete entities, or reach
// into a connection's own op list.
type Mutator struct {
	layer    *Layer
	identify IdentifyFunc
}

// Write stages obj as a full entity (Set policy), identifying it via
// the configured key functions. Returns a SchemaError-shaped error if
// obj can't be identified -- callers normalize before staging just as
// Canonical does for a real write.
func (m *Mutator) Write(obj map[string]interface{}) (graph.EntityKey, error) {
	key, err := m.identify(obj)
	if err != nil {
		return "", err
	}
	m.layer.setPatch(key, Set, graph.Record(obj))
	return key, nil
}

// Patch stages a partial field update for key (Set policy: leaves
// fields the caller didn't mention as whatever's beneath this layer).
func (m *Mutator) Patch(key graph.EntityKey, fields graph.Record) {
	m.layer.setPatch(key, Set, fields)
}

// Replace stages a whole-record replacement for key.
func (m *Mutator) Replace(key graph.EntityKey, fields graph.Record) {
	m.layer.setPatch(key, Replace, fields)
}

// Delete stages removing key entirely for as long as this layer is
// active.
func (m *Mutator) Delete(key graph.EntityKey) {
	m.layer.setPatch(key, Delete, nil)
}

// Connection returns a staging surface for connKey's ops within this
// layer.
func (m *Mutator) Connection(connKey string) *ConnMutator {
	return &ConnMutator{layer: m.layer, connKey: connKey}
}

// ConnMutator stages ordered connection ops for one connection key
// within a single layer.
type ConnMutator struct {
	layer   *Layer
	connKey string
}

// AddNode stages inserting entry at pos relative to anchor (anchor is
// ignored unless pos is Before/After).
func (c *ConnMutator) AddNode(entry conns.Entry, pos conns.Position, anchor string) {
	c.layer.connOps[c.connKey] = append(c.layer.connOps[c.connKey], conns.AddNode(entry, pos, anchor))
}

// RemoveNode stages removing the node identified by entityKey.
func (c *ConnMutator) RemoveNode(entityKey string) {
	c.layer.connOps[c.connKey] = append(c.layer.connOps[c.connKey], conns.RemoveNode(entityKey))
}

// PatchPageInfo stages a pageInfo patch.
func (c *ConnMutator) PatchPageInfo(updater func(conns.PageInfo) conns.PageInfo) {
	c.layer.connOps[c.connKey] = append(c.layer.connOps[c.connKey], conns.PatchPageInfo(updater))
}

// PatchMeta stages a meta patch.
func (c *ConnMutator) PatchMeta(updater func(conns.Meta) conns.Meta) {
	c.layer.connOps[c.connKey] = append(c.layer.connOps[c.connKey], conns.PatchMeta(updater))
}
