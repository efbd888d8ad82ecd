package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// stringRecordFixedSize is the length+dict_entry_offset overhead of a
// string-pool record; actual record size is this plus len(term).
const stringRecordFixedSize = 4 + 4 // length prefix + back-pointer to DictEntry

// EncodeDictionaryHeader builds the "num_terms, string-offsets[], strings"
// portion of a segment's dictionary section (spec §3 "String pool") for
// terms already sorted ascending. It returns the encoded bytes and, for
// each term, the absolute byte offset (within the returned slice) of that
// term's string record (see DictEntryOffsetFieldOffset for the position of
// its dict_entry_offset back-pointer). The back-pointer is written as a 0
// placeholder; segwriter snappy-compresses the section and leaves it
// unpatched.
func EncodeDictionaryHeader(terms []string) (data []byte, recordOffsets []int64) {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(terms)))

	offsetsStart := buf.Len()
	buf.Write(make([]byte, 4*len(terms)))
	poolStart := buf.Len()

	offsets := make([]uint32, len(terms))
	recordOffsets = make([]int64, len(terms))
	for i, t := range terms {
		offsets[i] = uint32(buf.Len() - poolStart)
		recordOffsets[i] = int64(buf.Len())
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(t)))
		buf.WriteString(t)
		_ = binary.Write(buf, binary.LittleEndian, uint32(0)) // dict_entry_offset placeholder
	}

	out := buf.Bytes()
	for i, o := range offsets {
		binary.LittleEndian.PutUint32(out[offsetsStart+4*i:], o)
	}
	return out, recordOffsets
}

// DictEntryOffsetFieldOffset returns the absolute byte offset, within the
// dictionary header blob, of term index i's dict_entry_offset back-pointer
// field (the last 4 bytes of its string record).
func DictEntryOffsetFieldOffset(recordOffsets []int64, i int, term string) int64 {
	return recordOffsets[i] + 4 + int64(len(term))
}

// lookupTermInBlob binary-searches the sorted string-offset array for term
// within blob, the fully decompressed "num_terms, string-offsets[],
// strings" dictionary header+pool (Reader.dictBlob's cached output of
// snappy-decompressing the on-disk dictionary section): unlike the
// posting blocks and CTID arrays, the dictionary section is compressed as
// one whole unit, so random-offset reads against the segment's raw page
// stream no longer make sense for it — the reader decompresses it once, in
// full, and every lookup walks the resulting in-memory blob instead.
func lookupTermInBlob(blob []byte, numTerms uint32, term string) (index int, found bool) {
	lo, hi := 0, int(numTerms)
	offsetsStart := int64(4)
	poolStart := offsetsStart + 4*int64(numTerms)

	for lo < hi {
		mid := (lo + hi) / 2
		off := binary.LittleEndian.Uint32(blob[offsetsStart+4*int64(mid):])
		recordOff := poolStart + int64(off)

		termLen := int(binary.LittleEndian.Uint32(blob[recordOff:]))
		candidate := string(blob[recordOff+4 : recordOff+4+int64(termLen)])

		switch {
		case candidate == term:
			return mid, true
		case candidate < term:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, false
}

func validateDictionaryBounds(numTerms uint32, dataSize int64, dictionaryOffset, postingsOffset int64) error {
	if dictionaryOffset < 0 || dictionaryOffset >= dataSize {
		return fmt.Errorf("dictionary offset %d outside segment data (size %d)", dictionaryOffset, dataSize)
	}
	if postingsOffset < dictionaryOffset {
		return fmt.Errorf("postings offset %d precedes dictionary offset %d", postingsOffset, dictionaryOffset)
	}
	return nil
}
