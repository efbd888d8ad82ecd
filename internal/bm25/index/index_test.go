package index

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tapidb/tapi/internal/bm25/build"
	"github.com/tapidb/tapi/internal/bm25/heap"
	"github.com/tapidb/tapi/internal/bm25/pagebuf"
	"github.com/tapidb/tapi/internal/bm25/threshold"
	"github.com/tapidb/tapi/internal/bm25/tid"
)

const testPageSize = 4096

func sampleTuples(n int) []heap.Tuple {
	out := make([]heap.Tuple, n)
	for i := 0; i < n; i++ {
		out[i] = heap.Tuple{
			TID:  tid.TID{Block: uint32(i), Offset: 1},
			Text: fmt.Sprintf("alpha beta gamma doc%d", i),
		}
	}
	return out
}

func newTestIndex(t *testing.T) (*Index, pagebuf.Manager) {
	t.Helper()
	mgr := pagebuf.NewInProcessManager(testPageSize)
	ix, err := Create(mgr, "docs", Config{TextConfigID: 1, K1: 1.2, B: 0.75, Policy: threshold.NewDefault()}, build.SimpleTokenizer{}, nil)
	require.NoError(t, err)
	return ix, mgr
}

func TestBuildThenScanFindsDocuments(t *testing.T) {
	ix, _ := newTestIndex(t)
	src := heap.NewMemSource(sampleTuples(20))

	_, err := ix.Build(src, nil, threshold.NewDefault(), 1)
	require.NoError(t, err)

	results, err := ix.Scan("alpha", 5)
	require.NoError(t, err)
	require.Len(t, results, 5)
}

func TestParallelBuildMatchesSerialResultCount(t *testing.T) {
	serial, _ := newTestIndex(t)
	parallel, _ := newTestIndex(t)
	src := heap.NewMemSource(sampleTuples(40))

	policy := threshold.NewDefault()
	policy.SpillThreshold = 20

	_, err := serial.Build(src, nil, policy, 1)
	require.NoError(t, err)
	_, err = parallel.Build(src, nil, policy, 4)
	require.NoError(t, err)

	want, err := serial.Scan("alpha beta", 10)
	require.NoError(t, err)
	got, err := parallel.Scan("alpha beta", 10)
	require.NoError(t, err)

	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].TID, got[i].TID)
		require.InDelta(t, want[i].Score, got[i].Score, 1e-9)
	}
}

func TestInsertSpillsAfterThreshold(t *testing.T) {
	ix, mgr := newTestIndex(t)
	policy := threshold.NewDefault()
	policy.SpillThreshold = 6 // 4 terms/doc; second insert should trip it

	for i, tup := range sampleTuples(3) {
		ok, err := ix.Insert(tup.TID, tup.Text, policy)
		require.NoError(t, err)
		require.True(t, ok)
		_ = i
	}

	require.Greater(t, ix.meta.LevelCounts[0], uint32(0))
	require.Equal(t, mgr, ix.mgr)

	results, err := ix.Scan("alpha", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestMergeCompactsLevelZero(t *testing.T) {
	ix, _ := newTestIndex(t)
	policy := threshold.NewDefault()
	policy.SpillThreshold = 6

	for _, tup := range sampleTuples(6) {
		_, err := ix.Insert(tup.TID, tup.Text, policy)
		require.NoError(t, err)
	}
	require.Greater(t, ix.meta.LevelCounts[0], uint32(1))

	require.NoError(t, ix.Merge(0, policy))
	require.Equal(t, uint32(0), ix.meta.LevelCounts[0])
	require.Equal(t, uint32(1), ix.meta.LevelCounts[1])

	results, err := ix.Scan("alpha", 10)
	require.NoError(t, err)
	require.Len(t, results, 6)
}

func TestBulkDeleteDropsDeadTIDs(t *testing.T) {
	ix, _ := newTestIndex(t)
	src := heap.NewMemSource(sampleTuples(10))
	_, err := ix.Build(src, nil, threshold.NewDefault(), 1)
	require.NoError(t, err)

	dead := map[tid.TID]bool{
		{Block: 0, Offset: 1}: true,
		{Block: 1, Offset: 1}: true,
	}
	stats, err := ix.BulkDelete(func(t tid.TID) bool { return dead[t] })
	require.NoError(t, err)
	require.Equal(t, 10, stats.DocsExamined)
	require.Equal(t, 2, stats.DocsDropped)

	results, err := ix.Scan("doc0", 10)
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, tid.TID{Block: 0, Offset: 1}, r.TID)
	}
}

func TestOpenReplaysRecoveryChain(t *testing.T) {
	ix, mgr := newTestIndex(t)
	policy := threshold.NewDefault()

	tup := sampleTuples(1)[0]
	_, err := ix.Insert(tup.TID, tup.Text, policy)
	require.NoError(t, err)

	src := heap.NewMemSource([]heap.Tuple{tup})
	reopened, err := Open(mgr, "docs", src, nil, build.SimpleTokenizer{}, nil)
	require.NoError(t, err)

	results, err := reopened.Scan("alpha", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, tup.TID, results[0].TID)
}
