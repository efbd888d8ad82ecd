// Package docmap builds the TID → segment-local doc-ID assignment used by
// every segment writer and the merge engine (spec §4.6): TIDs are
// deduplicated, sorted ascending, and assigned dense doc IDs equal to their
// sorted index, which is what makes doc-ID order equal TID order within a
// segment.
//
// Grounded on google/btree for the pre-finalize accumulator: an ordered
// tree keyed by TID gives dedup-by-TID and in-order iteration without a
// separate sort pass, the same role btree.BTree plays as an ordered index
// in google/btree's own examples.
package docmap

import (
	"sort"

	"github.com/google/btree"

	"github.com/tapidb/tapi/internal/bm25/tapierr"
	"github.com/tapidb/tapi/internal/bm25/tid"
)

type entry struct {
	t      tid.TID
	length uint32
}

func (e *entry) Less(other btree.Item) bool {
	return e.t.Less(other.(*entry).t)
}

// Builder accumulates (TID, doc_length) pairs before Finalize assigns doc
// IDs.
type Builder struct {
	tree *btree.BTree
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{tree: btree.New(32)}
}

// Add records a TID's document length. Repeating a TID keeps the first
// recorded length, per spec §4.6.
func (b *Builder) Add(t tid.TID, length uint32) {
	if b.tree.Has(&entry{t: t}) {
		return
	}
	b.tree.ReplaceOrInsert(&entry{t: t, length: length})
}

// Len returns the number of distinct TIDs recorded so far.
func (b *Builder) Len() int { return b.tree.Len() }

// Map is the finalized result: dense parallel arrays indexed by doc ID.
type Map struct {
	TIDs       []tid.TID
	Fieldnorms []uint8
	lookup     map[tid.TID]uint32
}

// NumDocs returns the number of documents in the finalized map.
func (m *Map) NumDocs() uint32 { return uint32(len(m.TIDs)) }

// Lookup returns the doc ID assigned to t, if present.
func (m *Map) Lookup(t tid.TID) (uint32, bool) {
	id, ok := m.lookup[t]
	return id, ok
}

// EncodeFieldnorm is injected so docmap doesn't need to import the
// fieldnorm package's full contract inline; callers pass
// fieldnorm.Encode.
type EncodeFieldnorm func(length uint32) uint8

// Finalize sorts the accumulated TIDs ascending and assigns doc IDs equal
// to sorted index (spec §4.6), producing the fieldnorms array via encode.
func (b *Builder) Finalize(encode EncodeFieldnorm) (*Map, error) {
	n := b.tree.Len()
	tids := make([]tid.TID, 0, n)
	lengths := make([]uint32, 0, n)
	b.tree.Ascend(func(item btree.Item) bool {
		e := item.(*entry)
		tids = append(tids, e.t)
		lengths = append(lengths, e.length)
		return true
	})
	if !sort.SliceIsSorted(tids, func(i, j int) bool { return tids[i].Less(tids[j]) }) {
		return nil, tapierr.Corruption("docmap builder's tree yielded unsorted TIDs", nil)
	}

	m := &Map{
		TIDs:       tids,
		Fieldnorms: make([]uint8, n),
		lookup:     make(map[tid.TID]uint32, n),
	}
	for i, t := range tids {
		m.Fieldnorms[i] = encode(lengths[i])
		m.lookup[t] = uint32(i)
	}
	return m, nil
}
