// Package partition manages the set of towl log files in a data directory.
//
// The Manager hands out the single active file, seals it when the rollover
// policy says so (entry count, or a UTC calendar day or ISO week), assigns
// file ids that increase across restarts, and retires old files below a
// retention boundary by deleting or archiving them.
//
// Engine metadata lives in a Pebble catalog next to the files:
//
//	towl/meta/next_id       next file id
//	towl/meta/boundary      retention boundary
//	towl/meta/policy        rollover policy
//	towl/archive/{id_be8}   where a retired file was archived
//
// Readers take reference-counted handles. Retiring a file that still has
// readers drops it from the set immediately; the bytes are released and
// unlinked when the last handle goes away.
//
//	m, _ := partition.Open(partition.Options{Dir: dir, Policy: partition.Policy{MaxEntries: 100000}})
//	pos, _ := m.Append(ctx, entry)
//	h, _ := m.Acquire(pos.FileID)
//	defer h.Release()
//	res, _ := m.Retain(ctx, pos.FileID) // everything older than the current file
package partition
