// Package segment implements the on-disk segment layout from spec §3/§4.4/
// §4.5: an immutable, page-spanning byte stream holding a dictionary,
// block-compressed posting lists, a skip index, fieldnorms, and a CTID
// array, preceded by a fixed header and backed by a page-index chain.
//
// Layout mirrors weaviate/storage/segment.go's header-then-sections shape
// (magic, counts, section offsets) but the section set and patch-back
// dance are this domain's own (§4.8's "build placeholder, patch later").
package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/tapidb/tapi/internal/bm25/tapierr"
)

// Magic is TpSegmentHeader's on-disk magic, spelling "TAPI" in ASCII.
const Magic uint32 = 0x54415049

// FormatVersion is bumped whenever the header or section layout changes in
// a way existing readers can't tolerate.
const FormatVersion uint32 = 1

// NoNextSegment is the sentinel "no next segment in this level's chain"
// value for Header.NextSegment.
const NoNextSegment uint32 = 0xFFFFFFFF

// Header is the fixed-size record at logical offset 0 of every segment,
// physically the first page the writer allocated (the segment's "root
// block"). All multi-byte fields are little-endian.
type Header struct {
	Magic         uint32
	Version       uint32
	Level         uint32
	TextConfigID  uint32
	CreatedAtUnix int64

	NumDocs     uint32
	TotalTokens uint64

	PageIndexRoot uint32
	NextSegment   uint32

	DataSize int64
	PageCount uint32

	NumTerms          uint32
	DictionaryOffset  int64
	PostingsOffset    int64
	SkipIndexOffset   int64
	FieldnormsOffset  int64
	CTIDPagesOffset   int64
	CTIDOffsetsOffset int64

	// Checksum is an xxhash64 digest over this header (with Checksum
	// itself zeroed) concatenated with the dictionary section's on-disk
	// bytes, computed by ComputeChecksum and verified by Open; a mismatch
	// raises a Corruption error.
	Checksum uint64
	Reserved [8]byte
}

// HeaderSize is the fixed serialized size of Header.
var HeaderSize = binary.Size(Header{})

// Encode serializes h in little-endian form.
func (h *Header) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	// binary.Write never fails on a fixed-size struct of fixed-size fields.
	_ = binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

// DecodeHeader parses a Header from its serialized form and validates its
// magic and version.
func DecodeHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, tapierr.Corruption(fmt.Sprintf("segment header truncated: have %d bytes, need %d", len(data), HeaderSize), nil)
	}
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, tapierr.Corruption("decoding segment header", err)
	}
	if h.Magic != Magic {
		return h, tapierr.Corruption(fmt.Sprintf("bad segment magic: got %#x, want %#x", h.Magic, Magic), nil)
	}
	if h.Version != FormatVersion {
		return h, tapierr.Corruption(fmt.Sprintf("unsupported segment format version %d (support %d)", h.Version, FormatVersion), nil)
	}
	return h, nil
}

// ComputeChecksum returns the xxhash64 digest segwriter stores in h.Checksum
// and Reader.Open verifies: h's encoded bytes with Checksum zeroed, followed
// by dictionarySection (the segment's dictionary section exactly as it sits
// on disk, i.e. snappy-compressed).
func ComputeChecksum(h Header, dictionarySection []byte) uint64 {
	h.Checksum = 0
	digest := xxhash.New()
	digest.Write(h.Encode())
	digest.Write(dictionarySection)
	return digest.Sum64()
}

// NextSegmentFieldOffset returns the byte offset of Header.NextSegment
// within the header's encoded form, letting a chain-link operation patch
// just that 4-byte field in place instead of re-encoding and re-patching
// the whole header (spec §4.12: leader links per-worker segment chains by
// patching NextSegment, not by rewriting segments).
func NextSegmentFieldOffset() int64 {
	return int64(binary.Size(struct {
		Magic, Version, Level, TextConfigID uint32
		CreatedAtUnix                       int64
		NumDocs                             uint32
		TotalTokens                         uint64
		PageIndexRoot                       uint32
	}{}))
}

// DictEntry is the fixed-size per-term directory record, keyed positionally
// by the term's index in the sorted string-offset array.
type DictEntry struct {
	SkipIndexOffset int64
	BlockCount      uint16
	_               uint16 // padding
	DocFreq         uint32
}

var DictEntrySize = binary.Size(DictEntry{})

func (e DictEntry) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, DictEntrySize))
	_ = binary.Write(buf, binary.LittleEndian, e)
	return buf.Bytes()
}

func DecodeDictEntry(data []byte) (DictEntry, error) {
	var e DictEntry
	if len(data) < DictEntrySize {
		return e, tapierr.Corruption("dict entry truncated", nil)
	}
	if err := binary.Read(bytes.NewReader(data[:DictEntrySize]), binary.LittleEndian, &e); err != nil {
		return e, tapierr.Corruption("decoding dict entry", err)
	}
	return e, nil
}

// SkipEntry is the fixed 16-byte per-block metadata record from spec §3.
type SkipEntry struct {
	LastDocID     uint32
	DocCount      uint8
	Flags         uint8
	BlockMaxTF    uint16
	BlockMaxNorm  uint8
	_             [3]byte // padding
	PostingOffset uint32
}

// FlagCompressed marks a block as delta+bitpacked (block.Compress output);
// its absence means the block is a raw array of block.Posting structs.
const FlagCompressed uint8 = 1 << 0

var SkipEntrySize = binary.Size(SkipEntry{})

func init() {
	if SkipEntrySize != 16 {
		panic(fmt.Sprintf("SkipEntry must be 16 bytes, got %d", SkipEntrySize))
	}
}

func (s SkipEntry) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, SkipEntrySize))
	_ = binary.Write(buf, binary.LittleEndian, s)
	return buf.Bytes()
}

func DecodeSkipEntry(data []byte) (SkipEntry, error) {
	var s SkipEntry
	if len(data) < SkipEntrySize {
		return s, tapierr.Corruption("skip entry truncated", nil)
	}
	if err := binary.Read(bytes.NewReader(data[:SkipEntrySize]), binary.LittleEndian, &s); err != nil {
		return s, tapierr.Corruption("decoding skip entry", err)
	}
	return s, nil
}
