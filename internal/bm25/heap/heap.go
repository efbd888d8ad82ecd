// Package heap defines the narrow, tokenizer-agnostic interface build and
// recovery use to read the indexed table (spec §6, "Heap interface (for
// recovery and build)"): scan every live tuple, or fetch one by TID.
//
// Grounded on heroiclabs-nakama's storage engine access pattern
// (`server/core_storage.go`'s snapshot-scoped reads through a narrow
// interface rather than a raw SQL client threaded everywhere) and on
// `timescale/pg_textsearch`'s `src/am/heapam_shim.c`, which wraps
// Postgres's `heap_getnext`/`heap_fetch` behind exactly this shape. The
// real implementation lives in package heappg; this package also provides
// an in-memory Source for tests that don't need a live Postgres table.
package heap

import (
	"go.uber.org/atomic"

	"github.com/tapidb/tapi/internal/bm25/tid"
)

// Snapshot is an opaque, heap-defined visibility horizon (a Postgres
// snapshot, a fixed table version, or nothing at all for an in-memory
// test source). The build/recovery callers never interpret it.
type Snapshot interface{}

// Tuple is one heap row's indexed value, keyed by its TID.
type Tuple struct {
	TID  tid.TID
	Text string
}

// Source is the table a build or recovery scan reads from.
type Source interface {
	// Scan walks every tuple visible under snapshot, in heap order,
	// calling cb for each. Used by serial build and by recovery.
	Scan(snapshot Snapshot, cb func(Tuple) error) error

	// ScanRange walks the sub-range [start,end) of the source's logical
	// address space (source-defined units — block numbers for heappg),
	// letting parallel build partition one scan across workers without a
	// leader explicitly handing out individual tuples (spec §4.12:
	// "scanning its portion of the table via a shared scan cursor").
	ScanRange(snapshot Snapshot, start, end int64, cb func(Tuple) error) error

	// Fetch resolves a single TID, reporting ok=false if it's not visible
	// under snapshot (already deleted, typically).
	Fetch(t tid.TID, snapshot Snapshot) (Tuple, bool, error)

	// Extent reports the logical address space size ScanRange partitions
	// over (e.g. heap page count), for sizing a Cursor.
	Extent(snapshot Snapshot) (int64, error)
}

// Cursor is a shared, atomically-advanced claim over a Source's
// [0,Extent) range, used by parallel build workers to partition one scan
// into disjoint batches without central dispatch (spec §4.12).
type Cursor struct {
	next  atomic.Int64
	total int64
	batch int64
}

// NewCursor returns a cursor over [0,total) claimed batch units at a time.
func NewCursor(total int64, batch int64) *Cursor {
	if batch <= 0 {
		batch = 1
	}
	return &Cursor{total: total, batch: batch}
}

// Claim atomically reserves the next [start,end) sub-range, returning
// ok=false once the cursor is exhausted.
func (c *Cursor) Claim() (start, end int64, ok bool) {
	start = c.next.Add(c.batch) - c.batch
	if start >= c.total {
		return 0, 0, false
	}
	end = start + c.batch
	if end > c.total {
		end = c.total
	}
	return start, end, true
}
