package cachebay

import (
	"github.com/cachebay/cachebay/internal/conns"
	"github.com/cachebay/cachebay/internal/graph"
	"github.com/cachebay/cachebay/internal/optimistic"
)

// Entry, PageInfo, Meta, and Position re-export the conns vocabulary
// (spec §3 "ConnectionState", §4.5 "connection ops") so application
// code never needs to import an internal package to call
// ConnectionMutator's methods.
type (
	Entry    = conns.Entry
	PageInfo = conns.PageInfo
	Meta     = conns.Meta
	Position = conns.Position
)

const (
	PositionStart  = conns.Start
	PositionEnd    = conns.End
	PositionBefore = conns.Before
	PositionAfter  = conns.After
)

// OptimisticMutator is the staged edit surface a ModifyOptimistic
// callback receives (spec §4.5).
type OptimisticMutator struct {
	m *optimistic.Mutator
}

// Write stages obj as a full entity.
func (m *OptimisticMutator) Write(obj map[string]interface{}) (graph.EntityKey, error) {
	return m.m.Write(obj)
}

// Patch stages a partial field update for key.
func (m *OptimisticMutator) Patch(key graph.EntityKey, fields map[string]interface{}) {
	m.m.Patch(key, fields)
}

// Replace stages a whole-record replacement for key.
func (m *OptimisticMutator) Replace(key graph.EntityKey, fields map[string]interface{}) {
	m.m.Replace(key, fields)
}

// Delete stages removing key entirely for as long as this layer is
// active.
func (m *OptimisticMutator) Delete(key graph.EntityKey) {
	m.m.Delete(key)
}

// Connection returns a staging surface for connKey's ops within this
// layer.
func (m *OptimisticMutator) Connection(connKey string) *ConnectionMutator {
	return &ConnectionMutator{c: m.m.Connection(connKey)}
}

// ConnectionMutator stages ordered connection edits within a single
// optimistic layer (spec §4.5).
type ConnectionMutator struct {
	c *optimistic.ConnMutator
}

// AddNode stages inserting entry at pos relative to anchor (anchor is
// ignored unless pos is PositionBefore/PositionAfter).
func (c *ConnectionMutator) AddNode(entry Entry, pos Position, anchor string) {
	c.c.AddNode(entry, pos, anchor)
}

// RemoveNode stages removing the node identified by entityKey.
func (c *ConnectionMutator) RemoveNode(entityKey string) {
	c.c.RemoveNode(entityKey)
}

// PatchPageInfo stages a pageInfo patch via an updater function.
func (c *ConnectionMutator) PatchPageInfo(updater func(PageInfo) PageInfo) {
	c.c.PatchPageInfo(updater)
}

// PatchMeta stages a meta patch via an updater function.
func (c *ConnectionMutator) PatchMeta(updater func(Meta) Meta) {
	c.c.PatchMeta(updater)
}

// OptimisticHandle is the {commit(), revert()} pair ModifyOptimistic
// returns (spec §4.5).
type OptimisticHandle struct {
	h *optimistic.Handle
}

// Commit squashes the layer into base state, as one batched write, and
// removes it from the stack.
func (h *OptimisticHandle) Commit() { h.h.Commit() }

// Revert removes the layer without squashing it and notifies every key
// and connection it touched.
func (h *OptimisticHandle) Revert() { h.h.Revert() }

// ModifyOptimistic stages fn's edits as a new layer pushed onto the
// optimistic stack (spec §4.5). The layer is visible to reads
// immediately; callers must eventually Commit() or Revert() it.
func (c *Cache) ModifyOptimistic(fn func(*OptimisticMutator)) *OptimisticHandle {
	h := c.stack.ModifyOptimistic(c.graph, func(m *optimistic.Mutator) {
		fn(&OptimisticMutator{m: m})
	})
	return &OptimisticHandle{h: h}
}
