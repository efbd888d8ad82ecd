package build

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tapidb/tapi/internal/bm25/heap"
	"github.com/tapidb/tapi/internal/bm25/pagebuf"
	"github.com/tapidb/tapi/internal/bm25/segment"
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

// walkChain follows a segment chain's NextSegment links, returning the
// total document count and number of segments visited.
func walkChain(t *testing.T, mgr pagebuf.Manager, relation string, head uint32) (uint32, int) {
	t.Helper()
	var totalDocs uint32
	var count int
	block := head
	for block != NoSegment {
		r, err := segment.Open(mgr, relation, pagebuf.PageHeaderSize, block)
		require.NoError(t, err)
		totalDocs += r.Header.NumDocs
		count++
		block = r.Header.NextSegment
	}
	return totalDocs, count
}

func TestBuildSerialProducesWalkableChain(t *testing.T) {
	mgr := pagebuf.NewInProcessManager(testPageSize)
	src := heap.NewMemSource(sampleTuples(10))

	policy := threshold.NewDefault()
	policy.SpillThreshold = 15 // force multiple spills across 10 docs * 4 terms = 40 postings

	res, err := Build(mgr, "docs", src, SimpleTokenizer{}, 1, policy, nil, nil)
	require.NoError(t, err)
	require.Greater(t, res.SegmentCount, 1)
	require.EqualValues(t, 10, res.NumDocs)

	totalDocs, count := walkChain(t, mgr, "docs", res.HeadSegment)
	require.EqualValues(t, 10, totalDocs)
	require.Equal(t, res.SegmentCount, count)
}

func TestBuildEmptySourceProducesNoSegment(t *testing.T) {
	mgr := pagebuf.NewInProcessManager(testPageSize)
	src := heap.NewMemSource(nil)

	res, err := Build(mgr, "docs", src, SimpleTokenizer{}, 1, threshold.NewDefault(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, NoSegment, res.HeadSegment)
	require.Zero(t, res.SegmentCount)
}

func TestParallelBuildMatchesSerialDocCount(t *testing.T) {
	mgr := pagebuf.NewInProcessManager(testPageSize)
	src := heap.NewMemSource(sampleTuples(40))

	policy := threshold.NewDefault()
	policy.SpillThreshold = 20

	res, err := ParallelBuild(mgr, "docs", src, SimpleTokenizer{}, 1, policy,
		ParallelConfig{Workers: 4, BatchSize: 3, PoolSize: 256}, nil, nil)
	require.NoError(t, err)
	require.EqualValues(t, 40, res.NumDocs)
	require.Greater(t, res.SegmentCount, 0)

	totalDocs, count := walkChain(t, mgr, "docs", res.HeadSegment)
	require.EqualValues(t, 40, totalDocs)
	require.Equal(t, res.SegmentCount, count)
}

func TestParallelBuildRejectsZeroWorkers(t *testing.T) {
	mgr := pagebuf.NewInProcessManager(testPageSize)
	src := heap.NewMemSource(sampleTuples(1))
	_, err := ParallelBuild(mgr, "docs", src, SimpleTokenizer{}, 1, threshold.NewDefault(),
		ParallelConfig{Workers: 0, BatchSize: 1, PoolSize: 8}, nil, nil)
	require.Error(t, err)
}
