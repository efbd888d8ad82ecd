package segment

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/golang/snappy"

	"github.com/tapidb/tapi/internal/bm25/block"
	"github.com/tapidb/tapi/internal/bm25/pagebuf"
	"github.com/tapidb/tapi/internal/bm25/pagemapper"
	"github.com/tapidb/tapi/internal/bm25/tapierr"
	"github.com/tapidb/tapi/internal/bm25/tid"
)

// Reader is an open, read-only view of one segment (spec §4.5). Open reads
// the header once and materializes the full page map; subsequent Read
// calls translate logical offsets through it.
type Reader struct {
	mgr      pagebuf.Manager
	relation string
	mapper   pagemapper.Mapper

	RootBlock uint32
	Header    Header
	pageMap   []uint32

	// dictBlob is the whole dictionary section (header + string pool),
	// snappy-decompressed once at Open and held for the Reader's
	// lifetime; LookupTerm and Terms binary-search and slice it directly
	// rather than re-reading/re-decompressing per call.
	dictBlob []byte
}

// Open reads a segment's header from rootBlock, walks its page-index chain,
// decompresses the dictionary section, and verifies the header+dictionary
// checksum, raising a Corruption error on mismatch (spec's segment
// integrity check).
func Open(mgr pagebuf.Manager, relation string, pageHeaderSize int, rootBlock uint32) (*Reader, error) {
	buf, err := mgr.Read(relation, rootBlock)
	if err != nil {
		return nil, tapierr.Corruption(fmt.Sprintf("reading segment root block %d", rootBlock), err)
	}
	mgr.Lock(buf, pagebuf.LockShared)
	h, err := DecodeHeader(buf.Bytes())
	mgr.Unlock(buf, pagebuf.LockShared)
	mgr.Unpin(buf)
	if err != nil {
		return nil, err
	}

	pageMap, err := readPageIndex(mgr, relation, h.PageIndexRoot, h.PageCount)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		mgr:       mgr,
		relation:  relation,
		mapper:    pagemapper.New(mgr.PageSize(), pageHeaderSize),
		RootBlock: rootBlock,
		Header:    h,
		pageMap:   pageMap,
	}

	dictSectionSize := dictionaryHeaderSize(h.NumTerms, r)
	compressed, err := r.Read(h.DictionaryOffset, int(dictSectionSize))
	if err != nil {
		return nil, err
	}
	if want := ComputeChecksum(h, compressed); want != h.Checksum {
		return nil, tapierr.Corruption(fmt.Sprintf("segment checksum mismatch: header says %#x, computed %#x", h.Checksum, want), nil)
	}
	blob, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, tapierr.Corruption("decompressing segment dictionary section", err)
	}
	r.dictBlob = blob

	return r, nil
}

// Close is a no-op for the in-process manager (no cached header pin is
// held between calls); kept for interface symmetry with host buffer
// managers that do hold one.
func (r *Reader) Close() error { return nil }

// PageBlocks returns the segment's physical page list in logical order,
// letting a caller patch a field in place via PatchAt (e.g. chaining
// NextSegment during parallel build, spec §4.12) without re-walking the
// page-index chain.
func (r *Reader) PageBlocks() []uint32 {
	out := make([]uint32, len(r.pageMap))
	copy(out, r.pageMap)
	return out
}

// Read copies n bytes starting at logical offset off, spanning pages
// transparently.
func (r *Reader) Read(off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+int64(n) > r.Header.DataSize {
		return nil, tapierr.Corruption(fmt.Sprintf("read [%d,%d) outside segment data size %d", off, off+int64(n), r.Header.DataSize), nil)
	}
	out := make([]byte, n)
	dst := out
	cur := off
	pageHeaderSize := r.mgr.PageSize() - r.mapper.DataPerPage()
	for len(dst) > 0 {
		page, intra := r.mapper.Locate(cur)
		if page < 0 || int(page) >= len(r.pageMap) {
			return nil, tapierr.Corruption(fmt.Sprintf("offset %d maps to page %d beyond segment's %d pages", cur, page, len(r.pageMap)), nil)
		}
		block := r.pageMap[page]
		buf, err := r.mgr.Read(r.relation, block)
		if err != nil {
			return nil, tapierr.TransientIO("reading segment page", err)
		}
		r.mgr.Lock(buf, pagebuf.LockShared)
		avail := r.mapper.DataPerPage() - intra
		want := len(dst)
		if want > avail {
			want = avail
		}
		copy(dst[:want], buf.Bytes()[pageHeaderSize+intra:pageHeaderSize+intra+want])
		r.mgr.Unlock(buf, pagebuf.LockShared)
		r.mgr.Unpin(buf)
		dst = dst[want:]
		cur += int64(want)
	}
	return out, nil
}

// Direct returns a borrowed slice into a pinned page when [off, off+n) lies
// entirely within one physical page, along with a release function the
// caller must call when done. When the range crosses a page boundary, ok
// is false and the caller should fall back to Read.
func (r *Reader) Direct(off int64, n int) (data []byte, ok bool, release func(), err error) {
	if off < 0 || n < 0 || off+int64(n) > r.Header.DataSize {
		return nil, false, nil, tapierr.Corruption("direct range outside segment data", nil)
	}
	if !r.mapper.FitsOnPage(off, n) {
		return nil, false, nil, nil
	}
	page, intra := r.mapper.Locate(off)
	if int(page) >= len(r.pageMap) {
		return nil, false, nil, tapierr.Corruption("direct offset beyond segment pages", nil)
	}
	pb := r.pageMap[page]
	buf, err := r.mgr.Read(r.relation, pb)
	if err != nil {
		return nil, false, nil, tapierr.TransientIO("reading segment page", err)
	}
	r.mgr.Lock(buf, pagebuf.LockShared)
	pageHeaderSize := r.mgr.PageSize() - r.mapper.DataPerPage()
	slice := buf.Bytes()[pageHeaderSize+intra : pageHeaderSize+intra+n]
	rel := func() {
		r.mgr.Unlock(buf, pagebuf.LockShared)
		r.mgr.Unpin(buf)
	}
	return slice, true, rel, nil
}

// LookupTerm binary-searches the dictionary for term and returns its entry.
func (r *Reader) LookupTerm(term string) (DictEntry, bool, error) {
	idx, found := lookupTermInBlob(r.dictBlob, r.Header.NumTerms, term)
	if !found {
		return DictEntry{}, false, nil
	}
	entriesOffset := r.Header.DictionaryOffset + dictionaryHeaderSize(r.Header.NumTerms, r)
	data, err := r.Read(entriesOffset+int64(idx)*int64(DictEntrySize), DictEntrySize)
	if err != nil {
		return DictEntry{}, false, err
	}
	e, err := DecodeDictEntry(data)
	return e, true, err
}

// Terms returns every term in the segment's dictionary, in the ascending
// order the string-offset array stores them (the same order dictionary
// entry index i refers to). Used by the merge engine's outer term-merge
// pass (spec §4.11), which needs each source's full sorted term list to
// drive its priority queue.
func (r *Reader) Terms() ([]string, error) {
	numTerms := r.Header.NumTerms
	offsetsStart := int64(4)
	poolStart := offsetsStart + 4*int64(numTerms)

	terms := make([]string, numTerms)
	for i := range terms {
		off := binary.LittleEndian.Uint32(r.dictBlob[offsetsStart+4*int64(i):])
		recordOff := poolStart + int64(off)
		termLen := int(binary.LittleEndian.Uint32(r.dictBlob[recordOff:]))
		terms[i] = string(r.dictBlob[recordOff+4 : recordOff+4+int64(termLen)])
	}
	return terms, nil
}

// dictionaryHeaderSize returns the on-disk (compressed) size of the
// dictionary header blob, which Open reads and LookupTerm skips to reach
// the entries that immediately follow it. The header does not record this
// size, so it is recovered as PostingsOffset - DictionaryOffset -
// (numTerms*DictEntrySize).
func dictionaryHeaderSize(numTerms uint32, r *Reader) int64 {
	return r.Header.PostingsOffset - r.Header.DictionaryOffset - int64(numTerms)*int64(DictEntrySize)
}

// LookupCTID returns the TID recorded for segment-local doc ID docID.
func (r *Reader) LookupCTID(docID uint32) (tid.TID, error) {
	if docID >= r.Header.NumDocs {
		return tid.TID{}, tapierr.Misuse(fmt.Sprintf("doc ID %d out of range [0,%d)", docID, r.Header.NumDocs))
	}
	blockBytes, err := r.Read(r.Header.CTIDPagesOffset+int64(docID)*4, 4)
	if err != nil {
		return tid.TID{}, err
	}
	offBytes, err := r.Read(r.Header.CTIDOffsetsOffset+int64(docID)*2, 2)
	if err != nil {
		return tid.TID{}, err
	}
	return tid.TID{
		Block:  binary.LittleEndian.Uint32(blockBytes),
		Offset: binary.LittleEndian.Uint16(offBytes),
	}, nil
}

// Fieldnorm returns the raw fieldnorm code stored for docID.
func (r *Reader) Fieldnorm(docID uint32) (uint8, error) {
	if docID >= r.Header.NumDocs {
		return 0, tapierr.Misuse(fmt.Sprintf("doc ID %d out of range [0,%d)", docID, r.Header.NumDocs))
	}
	b, err := r.Read(r.Header.FieldnormsOffset+int64(docID), 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// skipEntriesFor reads the full skip-entry run for a dictionary entry.
func (r *Reader) skipEntriesFor(entry DictEntry) ([]SkipEntry, error) {
	entries := make([]SkipEntry, entry.BlockCount)
	for i := range entries {
		data, err := r.Read(entry.SkipIndexOffset+int64(i)*int64(SkipEntrySize), SkipEntrySize)
		if err != nil {
			return nil, err
		}
		se, err := DecodeSkipEntry(data)
		if err != nil {
			return nil, err
		}
		entries[i] = se
	}
	return entries, nil
}

// ExhaustedDocID is the sentinel "no current posting" doc ID.
const ExhaustedDocID uint32 = math.MaxUint32

// PostingIterator walks one term's postings across its blocks in doc-ID
// (= TID) order, per spec §4.5.
type PostingIterator struct {
	r        *Reader
	term     string
	entry    DictEntry
	skips    []SkipEntry
	blockIdx int
	block    []block.Posting
	inBlock  int
	finished bool
}

// InitPostingIterator locates term and positions the iterator before its
// first posting. finished is true (and Next always reports ok=false) if
// the term is absent.
func (r *Reader) InitPostingIterator(term string) (*PostingIterator, error) {
	entry, found, err := r.LookupTerm(term)
	if err != nil {
		return nil, err
	}
	it := &PostingIterator{r: r, term: term, entry: entry, finished: !found || entry.BlockCount == 0}
	if it.finished {
		return it, nil
	}
	skips, err := r.skipEntriesFor(entry)
	if err != nil {
		return nil, err
	}
	it.skips = skips
	if err := it.loadBlock(0); err != nil {
		return nil, err
	}
	return it, nil
}

// DocFreq returns this term's document frequency as recorded in the
// dictionary, valid even before any postings are consumed.
func (it *PostingIterator) DocFreq() uint32 { return it.entry.DocFreq }

func (it *PostingIterator) loadBlock(i int) error {
	postings, err := it.r.decodeBlockAt(it.skips[i])
	if err != nil {
		return err
	}
	it.block = postings
	it.blockIdx = i
	it.inBlock = 0
	return nil
}

// decodeBlockAt decompresses (or copies) the block described by se,
// independent of any iterator cursor. Shared by the cursor-based Next/Seek
// path and BlockPostings, which scores a block directly by index for the
// single-term BMW path (spec §4.10) without needing cursor semantics.
func (r *Reader) decodeBlockAt(se SkipEntry) ([]block.Posting, error) {
	n := int(se.DocCount)
	length := blockByteLength(se)
	if rest := r.Header.DataSize - int64(se.PostingOffset); int64(length) > rest {
		length = int(rest)
	}
	data, err := r.Read(int64(se.PostingOffset), length)
	if err != nil {
		return nil, err
	}
	if se.Flags&FlagCompressed != 0 {
		return block.Decompress(data, n, 0)
	}
	return decodeRawBlock(data, n)
}

// Skips returns a copy of every block's skip-entry metadata for this term,
// used by BMW to precompute global and per-block max scores.
func (it *PostingIterator) Skips() []SkipEntry {
	out := make([]SkipEntry, len(it.skips))
	copy(out, it.skips)
	return out
}

// BlockPostings decodes block i directly, without disturbing the
// iterator's Next/Seek cursor.
func (it *PostingIterator) BlockPostings(i int) ([]block.Posting, error) {
	if i < 0 || i >= len(it.skips) {
		return nil, tapierr.Misuse(fmt.Sprintf("block index %d out of range [0,%d)", i, len(it.skips)))
	}
	return it.r.decodeBlockAt(it.skips[i])
}

// NumBlocks returns how many blocks this term's postings span.
func (it *PostingIterator) NumBlocks() int { return len(it.skips) }

// Finished reports whether this iterator located the term at all and has
// at least one block to offer.
func (it *PostingIterator) Finished() bool { return it.finished }

// blockByteLength is an upper bound read length for a block at se; callers
// read up to MaxCompressedSize (or the raw equivalent) and rely on the
// codec to report truncation, so the safe choice is to read the largest
// plausible span without running past the segment end. We use
// MaxCompressedSize for compressed blocks and the exact raw size otherwise;
// decodeBlockAt trims it to the bytes left before DataSize.
func blockByteLength(se SkipEntry) int {
	if se.Flags&FlagCompressed != 0 {
		return block.MaxCompressedSize
	}
	return rawBlockSize(int(se.DocCount))
}

func rawBlockSize(n int) int {
	// DocID(4) + Freq(2) + Norm(1) + reserved(1) per posting, uncompressed.
	return n * 8
}

func decodeRawBlock(data []byte, n int) ([]block.Posting, error) {
	if len(data) < n*8 {
		return nil, tapierr.Corruption("truncated raw block", nil)
	}
	out := make([]block.Posting, n)
	for i := 0; i < n; i++ {
		base := i * 8
		out[i] = block.Posting{
			DocID: binary.LittleEndian.Uint32(data[base : base+4]),
			Freq:  binary.LittleEndian.Uint16(data[base+4 : base+6]),
			Norm:  data[base+6],
		}
	}
	return out, nil
}

// EncodeRawBlock encodes postings in the uncompressed, fixed-8-byte-per-
// posting format decodeRawBlock reads back, the format segwriter falls
// back to when threshold.Policy.CompressSegments is false.
func EncodeRawBlock(postings []block.Posting) []byte {
	return encodeRawBlock(postings)
}

func encodeRawBlock(postings []block.Posting) []byte {
	out := make([]byte, len(postings)*8)
	for i, p := range postings {
		base := i * 8
		binary.LittleEndian.PutUint32(out[base:base+4], p.DocID)
		binary.LittleEndian.PutUint16(out[base+4:base+6], p.Freq)
		out[base+6] = p.Norm
		out[base+7] = 0
	}
	return out
}

// Next advances to and returns the next posting, or ok=false when exhausted.
func (it *PostingIterator) Next() (block.Posting, bool, error) {
	if it.finished {
		return block.Posting{}, false, nil
	}
	if it.inBlock >= len(it.block) {
		if it.blockIdx+1 >= len(it.skips) {
			it.finished = true
			return block.Posting{}, false, nil
		}
		if err := it.loadBlock(it.blockIdx + 1); err != nil {
			return block.Posting{}, false, err
		}
	}
	p := it.block[it.inBlock]
	it.inBlock++
	return p, true, nil
}

// CurrentDocID returns the doc ID the iterator is currently positioned at
// (the doc ID Next would return), or ExhaustedDocID if finished.
func (it *PostingIterator) CurrentDocID() uint32 {
	if it.finished || it.inBlock >= len(it.block) {
		return ExhaustedDocID
	}
	return it.block[it.inBlock].DocID
}

// CurrentBlockMax returns the skip entry metadata for the block the iterator
// is currently positioned in, for BMW block-max refinement.
func (it *PostingIterator) CurrentBlockMax() (blockMaxTF uint16, blockMaxNorm uint8, blockLastDocID uint32, ok bool) {
	if it.finished || it.blockIdx >= len(it.skips) {
		return 0, 0, 0, false
	}
	se := it.skips[it.blockIdx]
	return se.BlockMaxTF, se.BlockMaxNorm, se.LastDocID, true
}

// BlockLastDocIDs returns every block's last_doc_id for this term, used by
// BMW's cached binary-search seek table.
func (it *PostingIterator) BlockLastDocIDs() []uint32 {
	out := make([]uint32, len(it.skips))
	for i, se := range it.skips {
		out[i] = se.LastDocID
	}
	return out
}

// Seek advances the iterator to the first posting with doc ID ≥ target,
// binary-searching the in-memory skip table for the containing block (spec
// §4.5: O(log block_count) in-memory + O(1) page reads).
func (it *PostingIterator) Seek(target uint32) (block.Posting, bool, error) {
	if it.finished {
		return block.Posting{}, false, nil
	}
	if it.CurrentDocID() >= target {
		return block.Posting{DocID: it.CurrentDocID()}, true, nil
	}

	lo, hi := it.blockIdx, len(it.skips)-1
	found := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if it.skips[mid].LastDocID >= target {
			found = mid
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	if found == -1 {
		it.finished = true
		return block.Posting{}, false, nil
	}
	if found != it.blockIdx {
		if err := it.loadBlock(found); err != nil {
			return block.Posting{}, false, err
		}
	}
	for it.inBlock < len(it.block) && it.block[it.inBlock].DocID < target {
		it.inBlock++
	}
	if it.inBlock >= len(it.block) {
		// Shouldn't happen given last_doc_id ≥ target, but guard anyway.
		it.finished = true
		return block.Posting{}, false, nil
	}
	return it.block[it.inBlock], true, nil
}
