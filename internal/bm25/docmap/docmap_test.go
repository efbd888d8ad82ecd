package docmap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tapidb/tapi/internal/bm25/tid"
)

func identityEncode(length uint32) uint8 {
	if length > 255 {
		return 255
	}
	return uint8(length)
}

func TestFinalizeSortsAndAssignsDenseIDs(t *testing.T) {
	b := New()
	b.Add(tid.TID{Block: 5, Offset: 1}, 10)
	b.Add(tid.TID{Block: 1, Offset: 2}, 20)
	b.Add(tid.TID{Block: 3, Offset: 1}, 30)

	m, err := b.Finalize(identityEncode)
	require.NoError(t, err)
	require.Equal(t, uint32(3), m.NumDocs())

	for i := 1; i < len(m.TIDs); i++ {
		require.True(t, m.TIDs[i-1].Less(m.TIDs[i]))
	}

	id, ok := m.Lookup(tid.TID{Block: 1, Offset: 2})
	require.True(t, ok)
	require.Equal(t, uint32(0), id)
}

func TestRepeatedTIDKeepsFirstLength(t *testing.T) {
	b := New()
	b.Add(tid.TID{Block: 1, Offset: 1}, 10)
	b.Add(tid.TID{Block: 1, Offset: 1}, 999)

	m, err := b.Finalize(identityEncode)
	require.NoError(t, err)
	require.Equal(t, uint32(1), m.NumDocs())
	require.Equal(t, uint8(10), m.Fieldnorms[0])
}

func TestDocIDAssignmentIsBijection(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	b := New()
	seen := map[tid.TID]bool{}
	for i := 0; i < 500; i++ {
		tt := tid.TID{Block: uint32(r.Intn(100)), Offset: uint16(r.Intn(50))}
		seen[tt] = true
		b.Add(tt, uint32(r.Intn(1000)))
	}

	m, err := b.Finalize(identityEncode)
	require.NoError(t, err)
	require.Equal(t, len(seen), int(m.NumDocs()))

	assigned := make(map[uint32]bool)
	for _, tt := range m.TIDs {
		id, ok := m.Lookup(tt)
		require.True(t, ok)
		require.False(t, assigned[id])
		assigned[id] = true
	}
	require.Equal(t, len(seen), len(assigned))

	for i, tt := range m.TIDs {
		id, _ := m.Lookup(tt)
		require.Equal(t, uint32(i), id)
	}
}
