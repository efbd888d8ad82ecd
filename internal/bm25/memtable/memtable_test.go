package memtable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tapidb/tapi/internal/bm25/tid"
)

func TestAddTermAndSortedTerms(t *testing.T) {
	m := New()
	m.AddTerm("banana", tid.TID{Block: 1, Offset: 3}, 1)
	m.AddTerm("apple", tid.TID{Block: 1, Offset: 2}, 2)
	m.AddTerm("apple", tid.TID{Block: 1, Offset: 1}, 1)

	sorted := m.SortedTerms()
	require.Len(t, sorted, 2)
	require.Equal(t, "apple", sorted[0].Term)
	require.Equal(t, "banana", sorted[1].Term)

	require.Equal(t, tid.TID{Block: 1, Offset: 1}, sorted[0].Postings[0].TID)
	require.Equal(t, tid.TID{Block: 1, Offset: 2}, sorted[0].Postings[1].TID)
}

func TestStoreDocLengthUpdatesButCountsOnce(t *testing.T) {
	m := New()
	tt := tid.TID{Block: 1, Offset: 1}
	m.StoreDocLength(tt, 10)
	m.StoreDocLength(tt, 999)

	l, ok := m.GetDocLength(tt)
	require.True(t, ok)
	require.Equal(t, uint32(999), l)
	require.Equal(t, 1, m.NumDocs())
}

func TestDocFreqCountsDistinctTIDs(t *testing.T) {
	m := New()
	m.AddTerm("apple", tid.TID{Block: 1, Offset: 1}, 1)
	m.AddTerm("apple", tid.TID{Block: 1, Offset: 1}, 1) // repeated within same doc
	m.AddTerm("apple", tid.TID{Block: 1, Offset: 2}, 1)

	require.Equal(t, uint32(2), m.DocFreq("apple"))
	require.Equal(t, uint32(0), m.DocFreq("missing"))
}

func TestClearResetsState(t *testing.T) {
	m := New()
	m.AddTerm("apple", tid.TID{Block: 1, Offset: 1}, 1)
	m.StoreDocLength(tid.TID{Block: 1, Offset: 1}, 5)
	m.Clear()

	require.Equal(t, 0, m.TotalPostings())
	require.Equal(t, 0, m.NumDocs())
	require.Empty(t, m.SortedTerms())
}

func TestAvgDocLength(t *testing.T) {
	m := New()
	m.StoreDocLength(tid.TID{Block: 1, Offset: 1}, 10)
	m.StoreDocLength(tid.TID{Block: 1, Offset: 2}, 20)
	require.Equal(t, 15.0, m.AvgDocLength())
}
