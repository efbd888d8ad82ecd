package merge

import (
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/require"

	"github.com/tapidb/tapi/internal/bm25/block"
	"github.com/tapidb/tapi/internal/bm25/fieldnorm"
	"github.com/tapidb/tapi/internal/bm25/pagebuf"
	"github.com/tapidb/tapi/internal/bm25/pagemapper"
	"github.com/tapidb/tapi/internal/bm25/segment"
	"github.com/tapidb/tapi/internal/bm25/tid"
)

const testPageSize = 4096

// buildSegment writes a minimal single-block-per-term segment for merge
// tests, mirroring the pattern in segment_test.go / scorer_test.go.
func buildSegment(t *testing.T, mgr pagebuf.Manager, relation string, terms []string, postingsByTerm map[string][]block.Posting, ctids []tid.TID, fieldnorms []byte) uint32 {
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
	var allSkips []segment.SkipEntry
	for i, term := range terms {
		postings := postingsByTerm[term]
		blockStart := w.CurrentOffset()
		data, err := block.Compress(postings)
		require.NoError(t, err)
		require.NoError(t, w.Write(data))

		allSkips = append(allSkips, segment.SkipEntry{
			LastDocID:     postings[len(postings)-1].DocID,
			DocCount:      uint8(len(postings)),
			Flags:         segment.FlagCompressed,
			BlockMaxTF:    maxFreq(postings),
			BlockMaxNorm:  minNorm(postings),
			PostingOffset: uint32(blockStart),
		})
		entries[i] = segment.DictEntry{BlockCount: 1, DocFreq: uint32(len(postings))}
	}

	skipIndexOffset := w.CurrentOffset()
	for i := range entries {
		entries[i].SkipIndexOffset = skipIndexOffset + int64(i)*int64(segment.SkipEntrySize)
		require.NoError(t, w.Write(allSkips[i].Encode()))
	}

	fieldnormsOffset := w.CurrentOffset()
	require.NoError(t, w.Write(fieldnorms))

	ctidPagesOffset := w.CurrentOffset()
	for _, tt := range ctids {
		require.NoError(t, w.Write(encodeU32(tt.Block)))
	}
	ctidOffsetsOffset := w.CurrentOffset()
	for _, tt := range ctids {
		require.NoError(t, w.Write(encodeU16(tt.Offset)))
	}

	dataSize := w.CurrentOffset()
	blocks := w.Blocks()
	root, pageIndexRoot, err := w.Finish()
	require.NoError(t, err)

	var totalTokens uint64
	for _, fn := range fieldnorms {
		totalTokens += uint64(fieldnorm.Decode(fn))
	}

	h := segment.Header{
		Magic:             segment.Magic,
		Version:           segment.FormatVersion,
		NumDocs:           uint32(len(ctids)),
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
	require.NoError(t, segment.PatchAt(mgr, relation, mapper, blocks, 0, h.Encode()))
	for i, e := range entries {
		require.NoError(t, segment.PatchAt(mgr, relation, mapper, blocks, entriesOffset+int64(i)*int64(segment.DictEntrySize), e.Encode()))
	}

	return root
}

// TestMergeUnionsTermsAndDedupsTIDs merges two segments sharing one common
// TID (simulating the same document present in both, the "stale copy
// lingering before vacuum" case spec §4.11 must handle), and checks the
// merged segment has the dedup'd doc count and a correctly unioned
// dictionary.
func TestMergeUnionsTermsAndDedupsTIDs(t *testing.T) {
	mgr := pagebuf.NewInProcessManager(testPageSize)

	sharedTID := tid.TID{Block: 5, Offset: 1}

	ctidsA := []tid.TID{{Block: 1, Offset: 1}, sharedTID}
	fieldnormsA := []byte{fieldnorm.Encode(10), fieldnorm.Encode(20)}
	rootA := buildSegment(t, mgr, "segA", []string{"alpha", "shared"},
		map[string][]block.Posting{
			"alpha":  {{DocID: 0, Freq: 3, Norm: fieldnormsA[0]}},
			"shared": {{DocID: 1, Freq: 1, Norm: fieldnormsA[1]}},
		}, ctidsA, fieldnormsA)

	ctidsB := []tid.TID{sharedTID, {Block: 2, Offset: 1}}
	fieldnormsB := []byte{fieldnorm.Encode(20), fieldnorm.Encode(15)}
	rootB := buildSegment(t, mgr, "segB", []string{"beta", "shared"},
		map[string][]block.Posting{
			"beta":   {{DocID: 1, Freq: 2, Norm: fieldnormsB[1]}},
			"shared": {{DocID: 0, Freq: 5, Norm: fieldnormsB[0]}},
		}, ctidsB, fieldnormsB)

	rA, err := segment.Open(mgr, "segA", pagebuf.PageHeaderSize, rootA)
	require.NoError(t, err)
	rB, err := segment.Open(mgr, "segB", pagebuf.PageHeaderSize, rootB)
	require.NoError(t, err)

	result, err := Merge(mgr, "merged", []*segment.Reader{rA, rB}, nil, true)
	require.NoError(t, err)

	// 3 distinct TIDs: (1,1), (5,1) shared, (2,1).
	require.EqualValues(t, 3, result.NumDocs)
	require.EqualValues(t, 3, result.NumTerms) // alpha, beta, shared

	out, err := segment.Open(mgr, "merged", pagebuf.PageHeaderSize, result.RootBlock)
	require.NoError(t, err)

	entry, found, err := out.LookupTerm("shared")
	require.NoError(t, err)
	require.True(t, found)
	// The shared TID carries freq 1 from segA and freq 5 from segB;
	// dedup-by-max-frequency keeps one posting with freq 5.
	require.EqualValues(t, 1, entry.DocFreq)

	newDocID, err := findDocID(out, sharedTID)
	require.NoError(t, err)
	it, err := out.InitPostingIterator("shared")
	require.NoError(t, err)
	p, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, newDocID, p.DocID)
	require.EqualValues(t, 5, p.Freq)
}

func findDocID(r *segment.Reader, target tid.TID) (uint32, error) {
	for docID := uint32(0); docID < r.Header.NumDocs; docID++ {
		got, err := r.LookupCTID(docID)
		if err != nil {
			return 0, err
		}
		if got == target {
			return docID, nil
		}
	}
	return 0, nil
}
