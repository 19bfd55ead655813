package clog

import "github.com/davecgh/go-spew/spew"

// Dump renders v (a record, connection state, or any debug value) as a
// multi-line string, the same tool the teacher's batch cache tests and
// schemabuilder/pagination.go use to inspect values (go-spew) -- used
// by Cache.Debug() and test helpers in this repository rather than a
// hand-rolled %+v formatter.
func Dump(v interface{}) string {
	return spew.Sdump(v)
}
