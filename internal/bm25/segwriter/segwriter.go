// Package segwriter holds the on-disk segment construction sequence shared
// by the spill write procedure (spec §4.8) and the merge engine (spec
// §4.11): both end up with a (term -> already-remapped-and-chunked
// postings) map and a finalized docmap, and both write header, dictionary,
// blocks, skip index, fieldnorms, and CTID arrays in the same order before
// patching the header and dict entries back in. Factored out once merge
// and spill turned out to need byte-for-byte the same sequence.
package segwriter

import (
	"github.com/golang/snappy"

	"github.com/tapidb/tapi/internal/bm25/block"
	"github.com/tapidb/tapi/internal/bm25/docmap"
	"github.com/tapidb/tapi/internal/bm25/fieldnorm"
	"github.com/tapidb/tapi/internal/bm25/pagebuf"
	"github.com/tapidb/tapi/internal/bm25/pagemapper"
	"github.com/tapidb/tapi/internal/bm25/segment"
	"github.com/tapidb/tapi/internal/bm25/tapierr"
)

// Result is the outcome of writing one segment.
type Result struct {
	RootBlock uint32
	NumDocs   uint32
	NumTerms  uint32
}

// WriteFromTerms writes a complete segment from terms (already sorted
// ascending) and postingsByTerm (each entry already sorted ascending by
// new doc ID, per-posting Norm already resolved), using dm for NumDocs,
// Fieldnorms, and CTID arrays. compress defaults to true (bit-packed
// blocks); passing false writes the uncompressed fixed-width block format
// instead, per threshold.Policy.CompressSegments.
func WriteFromTerms(mgr pagebuf.Manager, relation string, pool *segment.Pool, terms []string, postingsByTerm map[string][]block.Posting, dm *docmap.Map, compress ...bool) (Result, error) {
	doCompress := true
	if len(compress) > 0 {
		doCompress = compress[0]
	}
	w := segment.NewWriter(mgr, relation, pagebuf.PageHeaderSize, pool)

	if err := w.Write(make([]byte, segment.HeaderSize)); err != nil {
		return Result{}, err
	}

	// The dictionary header+string-pool is snappy-compressed as one whole
	// section (bleve's zap format does the same for its stored sections):
	// the pool is the only part of a segment whose bytes are genuinely
	// compressible text rather than already bit-packed numeric data, and
	// readers decompress it once into memory rather than seeking into it
	// compressed. The per-term dict_entry_offset back-pointer
	// (EncodeDictionaryHeader's placeholder 0) is left unpatched once
	// compressed — patching 4 bytes in place inside a compressed stream
	// isn't possible without re-encoding the whole section, and no reader
	// ever reads that field back; DictEntry lookups compute the entries
	// array's position arithmetically instead (see dictionaryHeaderSize).
	dictHeaderOffset := w.CurrentOffset()
	dictHeaderBytes, _ := segment.EncodeDictionaryHeader(terms)
	compressedDict := snappy.Encode(nil, dictHeaderBytes)
	if err := w.Write(compressedDict); err != nil {
		return Result{}, err
	}

	entriesOffset := w.CurrentOffset()
	if err := w.Write(make([]byte, len(terms)*segment.DictEntrySize)); err != nil {
		return Result{}, err
	}

	postingsOffset := w.CurrentOffset()

	entries := make([]segment.DictEntry, len(terms))
	var allSkips []segment.SkipEntry

	for ti, term := range terms {
		postings := postingsByTerm[term]
		if len(postings) == 0 {
			return Result{}, tapierr.Misuse("segwriter: term " + term + " has no postings")
		}

		var blockCount int
		for start := 0; start < len(postings); start += block.MaxPostingsPerBlock {
			end := start + block.MaxPostingsPerBlock
			if end > len(postings) {
				end = len(postings)
			}
			blk := postings[start:end]

			blockStart := w.CurrentOffset()
			var data []byte
			var flags uint8
			if doCompress {
				var err error
				data, err = block.Compress(blk)
				if err != nil {
					return Result{}, err
				}
				flags = segment.FlagCompressed
			} else {
				data = segment.EncodeRawBlock(blk)
			}
			if err := w.Write(data); err != nil {
				return Result{}, err
			}

			allSkips = append(allSkips, segment.SkipEntry{
				LastDocID:     blk[len(blk)-1].DocID,
				DocCount:      uint8(len(blk)),
				Flags:         flags,
				BlockMaxTF:    maxFreq(blk),
				BlockMaxNorm:  minNorm(blk),
				PostingOffset: uint32(blockStart),
			})
			blockCount++
		}

		entries[ti] = segment.DictEntry{
			BlockCount: uint16(blockCount),
			DocFreq:    uint32(len(postings)),
		}
	}

	skipIndexOffset := w.CurrentOffset()
	skipCursor := 0
	for ti := range entries {
		entries[ti].SkipIndexOffset = w.CurrentOffset()
		n := int(entries[ti].BlockCount)
		for _, se := range allSkips[skipCursor : skipCursor+n] {
			if err := w.Write(se.Encode()); err != nil {
				return Result{}, err
			}
		}
		skipCursor += n
	}

	fieldnormsOffset := w.CurrentOffset()
	if err := w.Write(dm.Fieldnorms); err != nil {
		return Result{}, err
	}

	ctidPagesOffset := w.CurrentOffset()
	for _, t := range dm.TIDs {
		if err := w.Write(encodeU32(t.Block)); err != nil {
			return Result{}, err
		}
	}
	ctidOffsetsOffset := w.CurrentOffset()
	for _, t := range dm.TIDs {
		if err := w.Write(encodeU16(t.Offset)); err != nil {
			return Result{}, err
		}
	}

	dataSize := w.CurrentOffset()
	blocks := w.Blocks()
	root, pageIndexRoot, err := w.Finish()
	if err != nil {
		return Result{}, err
	}

	var totalTokens uint64
	for _, fn := range dm.Fieldnorms {
		totalTokens += uint64(fieldnorm.Decode(fn))
	}

	h := segment.Header{
		Magic:             segment.Magic,
		Version:           segment.FormatVersion,
		NumDocs:           dm.NumDocs(),
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
	if err := segment.PatchAt(mgr, relation, mapper, blocks, 0, h.Encode()); err != nil {
		return Result{}, err
	}
	for i, e := range entries {
		if err := segment.PatchAt(mgr, relation, mapper, blocks, entriesOffset+int64(i)*int64(segment.DictEntrySize), e.Encode()); err != nil {
			return Result{}, err
		}
	}

	return Result{RootBlock: root, NumDocs: dm.NumDocs(), NumTerms: uint32(len(terms))}, nil
}

// LinkNext patches an already-finalized segment's header NextSegment field
// in place, chaining it to next (or segment.NoNextSegment to terminate the
// chain). blocks must be the same physical block list the segment was
// originally written with.
func LinkNext(mgr pagebuf.Manager, relation string, blocks []uint32, next uint32) error {
	mapper := pagemapper.New(mgr.PageSize(), pagebuf.PageHeaderSize)
	return segment.PatchAt(mgr, relation, mapper, blocks, segment.NextSegmentFieldOffset(), encodeU32(next))
}

func maxFreq(postings []block.Posting) uint16 {
	var m uint16
	for _, p := range postings {
		if p.Freq > m {
			m = p.Freq
		}
	}
	return m
}

func minNorm(postings []block.Posting) uint8 {
	m := postings[0].Norm
	for _, p := range postings {
		if p.Norm < m {
			m = p.Norm
		}
	}
	return m
}

func encodeU32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func encodeU16(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}
