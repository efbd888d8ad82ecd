package heap

import (
	"sort"

	"github.com/tapidb/tapi/internal/bm25/tapierr"
	"github.com/tapidb/tapi/internal/bm25/tid"
)

// MemSource is a fixed, in-memory Source used by the tests; the CLI
// commands read from a live Postgres table through heappg instead.
// ScanRange treats each Tuple as
// its own unit, so Extent is simply len(Tuples).
type MemSource struct {
	Tuples []Tuple
}

// NewMemSource builds a MemSource from the given tuples, sorted by TID to
// match the heap-order contract ScanRange's range partitioning depends on.
func NewMemSource(tuples []Tuple) *MemSource {
	out := make([]Tuple, len(tuples))
	copy(out, tuples)
	sort.Slice(out, func(i, j int) bool { return out[i].TID.Less(out[j].TID) })
	return &MemSource{Tuples: out}
}

func (s *MemSource) Scan(_ Snapshot, cb func(Tuple) error) error {
	for _, t := range s.Tuples {
		if err := cb(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemSource) ScanRange(_ Snapshot, start, end int64, cb func(Tuple) error) error {
	if start < 0 || end > int64(len(s.Tuples)) || start > end {
		return tapierr.Misuse("scan range out of bounds")
	}
	for _, t := range s.Tuples[start:end] {
		if err := cb(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemSource) Fetch(target tid.TID, _ Snapshot) (Tuple, bool, error) {
	for _, t := range s.Tuples {
		if t.TID == target {
			return t, true, nil
		}
	}
	return Tuple{}, false, nil
}

func (s *MemSource) Extent(_ Snapshot) (int64, error) {
	return int64(len(s.Tuples)), nil
}
