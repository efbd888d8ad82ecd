package scorer

import (
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/require"

	"github.com/tapidb/tapi/internal/bm25/block"
	"github.com/tapidb/tapi/internal/bm25/fieldnorm"
	"github.com/tapidb/tapi/internal/bm25/memtable"
	"github.com/tapidb/tapi/internal/bm25/pagebuf"
	"github.com/tapidb/tapi/internal/bm25/pagemapper"
	"github.com/tapidb/tapi/internal/bm25/segment"
	"github.com/tapidb/tapi/internal/bm25/tid"
)

const testPageSize = 4096

// buildMultiTermSegment writes a segment holding one or more terms, each
// with its postings split across one or more compressed blocks, exercising
// the full write procedure used by segment_test.go's buildTinySegment but
// generalized for the scorer's BMW/WAND tests.
func buildMultiTermSegment(t *testing.T, mgr pagebuf.Manager, relation string, terms []string, blocksByTerm map[string][][]block.Posting, numDocs uint32, ctids []tid.TID, fieldnorms []byte) uint32 {
	t.Helper()

	w := segment.NewWriter(mgr, relation, pagebuf.PageHeaderSize, nil)

	require.NoError(t, w.Write(make([]byte, segment.HeaderSize)))

	dictHeaderOffset := w.CurrentOffset()
	dictHeaderBytes, _ := segment.EncodeDictionaryHeader(terms)
	compressedDict := snappy.Encode(nil, dictHeaderBytes)
	require.NoError(t, w.Write(compressedDict))

	entriesOffset := w.CurrentOffset()
	require.NoError(t, w.Write(make([]byte, len(terms)*segment.DictEntrySize)))

	postingsOffset := w.CurrentOffset()

	entries := make([]segment.DictEntry, len(terms))
	skipsByTerm := make([][]segment.SkipEntry, len(terms))
	for i, term := range terms {
		var totalPostings int
		for _, blk := range blocksByTerm[term] {
			blockStart := w.CurrentOffset()
			data, err := block.Compress(blk)
			require.NoError(t, err)
			require.NoError(t, w.Write(data))

			skipsByTerm[i] = append(skipsByTerm[i], segment.SkipEntry{
				LastDocID:     blk[len(blk)-1].DocID,
				DocCount:      uint8(len(blk)),
				Flags:         segment.FlagCompressed,
				BlockMaxTF:    maxFreqOf(blk),
				BlockMaxNorm:  minNormOf(blk),
				PostingOffset: uint32(blockStart),
			})
			totalPostings += len(blk)
		}
		entries[i] = segment.DictEntry{
			BlockCount: uint16(len(blocksByTerm[term])),
			DocFreq:    uint32(totalPostings),
		}
	}

	skipIndexOffset := w.CurrentOffset()
	for i := range entries {
		entries[i].SkipIndexOffset = w.CurrentOffset()
		for _, se := range skipsByTerm[i] {
			require.NoError(t, w.Write(se.Encode()))
		}
	}

	fieldnormsOffset := w.CurrentOffset()
	require.NoError(t, w.Write(fieldnorms))

	ctidPagesOffset := w.CurrentOffset()
	for _, tt := range ctids {
		require.NoError(t, w.Write(encU32(tt.Block)))
	}
	ctidOffsetsOffset := w.CurrentOffset()
	for _, tt := range ctids {
		require.NoError(t, w.Write(encU16(tt.Offset)))
	}

	dataSize := w.CurrentOffset()
	blockNums := w.Blocks()
	root, pageIndexRoot, err := w.Finish()
	require.NoError(t, err)

	var totalTokens uint64
	for _, fn := range fieldnorms {
		totalTokens += uint64(fieldnorm.Decode(fn))
	}

	h := segment.Header{
		Magic:             segment.Magic,
		Version:           segment.FormatVersion,
		NumDocs:           numDocs,
		TotalTokens:       totalTokens,
		PageIndexRoot:     pageIndexRoot,
		NextSegment:       segment.NoNextSegment,
		DataSize:          dataSize,
		PageCount:         uint32(w.PagesAllocated()),
		NumTerms:          uint32(len(terms)),
		DictionaryOffset:  dictHeaderOffset,
		PostingsOffset:    postingsOffset,
		SkipIndexOffset:   skipIndexOffset,
		FieldnormsOffset:  fieldnormsOffset,
		CTIDPagesOffset:   ctidPagesOffset,
		CTIDOffsetsOffset: ctidOffsetsOffset,
	}
	h.Checksum = segment.ComputeChecksum(h, compressedDict)
	mapper := pagemapper.New(mgr.PageSize(), pagebuf.PageHeaderSize)
	require.NoError(t, segment.PatchAt(mgr, relation, mapper, blockNums, 0, h.Encode()))
	for i, e := range entries {
		require.NoError(t, segment.PatchAt(mgr, relation, mapper, blockNums, entriesOffset+int64(i)*int64(segment.DictEntrySize), e.Encode()))
	}

	return root
}

func maxFreqOf(postings []block.Posting) uint16 {
	var m uint16
	for _, p := range postings {
		if p.Freq > m {
			m = p.Freq
		}
	}
	return m
}

func minNormOf(postings []block.Posting) uint8 {
	m := postings[0].Norm
	for _, p := range postings {
		if p.Norm < m {
			m = p.Norm
		}
	}
	return m
}

func encU32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func encU16(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}

// TestSingleTermBMWPrunesLowScoringBlocks builds one term across two blocks
// with wildly different block-max scores and checks that a small-K query
// skips the block that cannot possibly contain a top result.
func TestSingleTermBMWPrunesLowScoringBlocks(t *testing.T) {
	mgr := pagebuf.NewInProcessManager(testPageSize)
	relation := "seg0"

	// Block 0: high frequency, short doc -> high score. Blocks are visited
	// in order, so this one fills the K=1 heap first.
	block0 := []block.Posting{
		{DocID: 0, Freq: 20, Norm: fieldnorm.Encode(5)},
	}
	// Block 1: low frequency, long docs -> low scores, below the threshold.
	block1 := []block.Posting{
		{DocID: 1, Freq: 1, Norm: fieldnorm.Encode(200)},
		{DocID: 2, Freq: 1, Norm: fieldnorm.Encode(200)},
	}

	ctids := []tid.TID{{Block: 1, Offset: 1}, {Block: 1, Offset: 2}, {Block: 1, Offset: 3}}
	fieldnorms := []byte{fieldnorm.Encode(5), fieldnorm.Encode(200), fieldnorm.Encode(200)}

	root := buildMultiTermSegment(t, mgr, relation, []string{"ranked"}, map[string][][]block.Posting{
		"ranked": {block0, block1},
	}, 3, ctids, fieldnorms)
	r, err := segment.Open(mgr, relation, pagebuf.PageHeaderSize, root)
	require.NoError(t, err)

	results, stats, err := Query(nil, []*segment.Reader{r}, map[string]int{"ranked": 1}, 1, Params{K1: 1.2, B: 0.75})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, tid.TID{Block: 1, Offset: 1}, results[0].TID)
	require.Equal(t, 1, len(stats))
	require.Greater(t, stats[0].BlocksSkipped, 0)
}

// TestMultiTermWANDMatchesExhaustive runs a two-term query against a
// segment holding both terms (so the WAND pivot path runs) and checks the
// result matches what exhaustive per-doc scoring over the same postings
// would produce.
func TestMultiTermWANDMatchesExhaustive(t *testing.T) {
	mgr := pagebuf.NewInProcessManager(testPageSize)
	relation := "seg0"

	termA := []block.Posting{
		{DocID: 0, Freq: 2, Norm: fieldnorm.Encode(10)},
		{DocID: 1, Freq: 5, Norm: fieldnorm.Encode(10)},
	}
	termB := []block.Posting{
		{DocID: 1, Freq: 3, Norm: fieldnorm.Encode(10)},
		{DocID: 2, Freq: 1, Norm: fieldnorm.Encode(10)},
	}
	ctids := []tid.TID{{Block: 1, Offset: 1}, {Block: 1, Offset: 2}, {Block: 1, Offset: 3}}
	fieldnorms := []byte{fieldnorm.Encode(10), fieldnorm.Encode(10), fieldnorm.Encode(10)}

	root := buildMultiTermSegment(t, mgr, relation, []string{"alpha", "beta"}, map[string][][]block.Posting{
		"alpha": {termA},
		"beta":  {termB},
	}, 3, ctids, fieldnorms)
	r, err := segment.Open(mgr, relation, pagebuf.PageHeaderSize, root)
	require.NoError(t, err)

	results, _, err := Query(nil, []*segment.Reader{r}, map[string]int{"alpha": 1, "beta": 1}, 3, Params{K1: 1.2, B: 0.75})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Doc 1 (freq 5 alpha + freq 3 beta) beats doc 0 (freq 2 alpha only)
	// and doc 2 (freq 1 beta only); same fieldnorm for all three, so
	// higher combined term frequency alone must rank doc 1 first.
	require.Equal(t, tid.TID{Block: 1, Offset: 2}, results[0].TID)
}

// TestQueryMergesMemtableAndSegment checks that unflushed memtable postings
// are merged into the same top-K result set as segment postings.
func TestQueryMergesMemtableAndSegment(t *testing.T) {
	mgr := pagebuf.NewInProcessManager(testPageSize)
	relation := "seg0"

	segPostings := []block.Posting{{DocID: 0, Freq: 1, Norm: fieldnorm.Encode(10)}}
	ctids := []tid.TID{{Block: 1, Offset: 1}}
	fieldnorms := []byte{fieldnorm.Encode(10)}
	root := buildMultiTermSegment(t, mgr, relation, []string{"word"}, map[string][][]block.Posting{
		"word": {segPostings},
	}, 1, ctids, fieldnorms)
	r, err := segment.Open(mgr, relation, pagebuf.PageHeaderSize, root)
	require.NoError(t, err)

	mt := memtable.New()
	hotTID := tid.TID{Block: 2, Offset: 1}
	mt.AddTerm("word", hotTID, 50)
	mt.StoreDocLength(hotTID, 3)

	results, _, err := Query(mt, []*segment.Reader{r}, map[string]int{"word": 1}, 1, Params{K1: 1.2, B: 0.75})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, hotTID, results[0].TID)
}

func TestQueryRejectsEmptyQuery(t *testing.T) {
	_, _, err := Query(memtable.New(), nil, map[string]int{}, 5, Params{K1: 1.2, B: 0.75})
	require.Error(t, err)
}
