// Package graph implements the normalized entity store described in
// spec §4.2: records keyed by stable identity, a reverse-dependency
// index, and coalesced change notification.
package graph

import (
	"encoding/json"
	"fmt"
)

// EntityKey is the canonical identity for a record: "<Typename>:<id>",
// or a synthetic parent-embedded key for types without a key function.
type EntityKey string

// Ref is a reference to another record, stored in place of a nested
// object value.
type Ref struct {
	Key EntityKey
}

// refWireKey is the JSON object key a Ref round-trips through (spec §3
// reference shape), distinguishing a stored reference from an opaque
// nested object.
const refWireKey = "__ref"

// MarshalJSON encodes a Ref as {"__ref": "<EntityKey>"} rather than its
// exported-field shape, so persist.Unmarshal can tell a reference apart
// from an ordinary object when it revives the generic interface{} tree
// JSON decoding produces.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]EntityKey{refWireKey: r.Key})
}

// UnmarshalJSON decodes the {"__ref": "<EntityKey>"} shape. It is never
// invoked by a bare json.Unmarshal into interface{} -- nothing points at
// the concrete Ref type in that case -- so persist.Unmarshal also walks
// the decoded tree and revives refs by the same refWireKey shape.
func (r *Ref) UnmarshalJSON(data []byte) error {
	var wire struct {
		Key EntityKey `json:"__ref"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	r.Key = wire.Key
	return nil
}

// RefFromWire reports whether m is the decoded {"__ref": "<EntityKey>"}
// shape, returning the Ref it denotes. Callers that decode JSON into a
// generic interface{} tree (persist.Unmarshal) use this to revive Refs
// that UnmarshalJSON never got a chance to run on.
func RefFromWire(m map[string]interface{}) (Ref, bool) {
	if len(m) != 1 {
		return Ref{}, false
	}
	key, ok := m[refWireKey].(string)
	if !ok {
		return Ref{}, false
	}
	return Ref{Key: EntityKey(key)}, true
}

// Record is the field-level storage for one entity: scalar, nil, Ref,
// or []interface{} of those.
type Record map[string]interface{}

// Policy controls how PutRecord reconciles new fields with an existing
// record.
type Policy int

const (
	// Merge overlays new fields onto the existing record, leaving
	// fields the caller didn't mention untouched.
	Merge Policy = iota
	// Replace discards fields the caller didn't mention.
	Replace
)

// KeyFunc computes the id portion of an entity key from a concrete
// object. Returning ok=false means "no identity for this object",
// which is only valid when the typename has no configured KeyFunc at
// all; a configured KeyFunc returning ok=false for a value it was
// given is treated by the Graph as a schema violation.
type KeyFunc func(obj map[string]interface{}) (id string, ok bool)

func clone(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// MissingTypenameError is returned by Identify when obj has no
// __typename and the caller required an identifiable entity.
type MissingTypenameError struct {
	ParentKey, StorageKey string
}

func (e *MissingTypenameError) Error() string {
	return fmt.Sprintf("graph: object at %s.%s has no __typename", e.ParentKey, e.StorageKey)
}

// NullKeyError is returned when a configured KeyFunc refuses to
// identify an object it was specifically asked about.
type NullKeyError struct {
	Typename string
}

func (e *NullKeyError) Error() string {
	return fmt.Sprintf("graph: key function for %q returned null", e.Typename)
}
