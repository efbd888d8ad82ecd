// Package metapage implements block 0 of the index file (spec §3): global
// BM25 configuration, aggregated corpus stats, per-level segment-chain
// heads/counts, and the TID-recovery chain head. Every structural change
// to the index — spill, merge, parallel build — ends with exactly one
// metapage write, which is this system's single linearization point (spec
// §4.11 "atomic swap", §5 "crash safety").
package metapage

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/tapidb/tapi/internal/bm25/pagebuf"
	"github.com/tapidb/tapi/internal/bm25/recovery"
	"github.com/tapidb/tapi/internal/bm25/tapierr"
)

// Magic tags the metapage, spelling "META" when read as four ASCII bytes.
const Magic uint32 = 0x4d455441

// FormatVersion is bumped whenever Meta's fixed layout changes.
const FormatVersion uint32 = 1

// MaxLevels is the fixed number of LSM levels (spec §3: "L is fixed, e.g. 8").
const MaxLevels = 8

// NoSegment is the sentinel "empty level" head pointer.
const NoSegment uint32 = 0xFFFFFFFF

// Block is the fixed physical block number of the metapage.
const Block uint32 = 0

// Meta is the decoded, in-memory form of the metapage.
type Meta struct {
	Magic        uint32
	Version      uint32
	TextConfigID uint32
	K1           float64
	B            float64

	TotalDocs   uint64
	TotalTokens uint64

	LevelHeads  [MaxLevels]uint32
	LevelCounts [MaxLevels]uint32

	RecoveryHead uint32

	Reserved [16]byte
}

// Size is the fixed serialized size of Meta.
var Size = binary.Size(Meta{})

// New returns a fresh, empty metapage with the given tokenizer config and
// BM25 parameters.
func New(textConfigID uint32, k1, b float64) *Meta {
	m := &Meta{
		Magic:        Magic,
		Version:      FormatVersion,
		TextConfigID: textConfigID,
		K1:           k1,
		B:            b,
		RecoveryHead: recovery.NoHead,
	}
	for i := range m.LevelHeads {
		m.LevelHeads[i] = NoSegment
	}
	return m
}

func (m *Meta) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, Size))
	_ = binary.Write(buf, binary.LittleEndian, m)
	return buf.Bytes()
}

func Decode(data []byte) (*Meta, error) {
	var m Meta
	if len(data) < Size {
		return nil, tapierr.Corruption("metapage truncated", nil)
	}
	if err := binary.Read(bytes.NewReader(data[:Size]), binary.LittleEndian, &m); err != nil {
		return nil, tapierr.Corruption("decoding metapage", err)
	}
	if m.Magic != Magic {
		return nil, tapierr.Corruption(fmt.Sprintf("bad metapage magic: got %#x, want %#x", m.Magic, Magic), nil)
	}
	if m.Version != FormatVersion {
		return nil, tapierr.Corruption(fmt.Sprintf("unsupported metapage version %d (support %d)", m.Version, FormatVersion), nil)
	}
	return &m, nil
}

// Load reads and decodes the metapage from block 0 of relation.
func Load(mgr pagebuf.Manager, relation string) (*Meta, error) {
	buf, err := mgr.Read(relation, Block)
	if err != nil {
		return nil, tapierr.Corruption("reading metapage block 0", err)
	}
	mgr.Lock(buf, pagebuf.LockShared)
	m, err := Decode(buf.Bytes())
	mgr.Unlock(buf, pagebuf.LockShared)
	mgr.Unpin(buf)
	return m, err
}

// Save overwrites block 0 with m's encoded form. This is the system's
// single linearization point: callers must only invoke Save once every
// other durability precondition for the change it represents is already
// satisfied (new segment pages flushed, old segments' pages not yet
// reclaimed) per spec §4.11/§5.
func (m *Meta) Save(mgr pagebuf.Manager, relation string) error {
	buf, err := mgr.Read(relation, Block)
	if err != nil {
		return tapierr.TransientIO("reading metapage block 0 for update", err)
	}
	mgr.Lock(buf, pagebuf.LockExclusive)
	copy(buf.Bytes(), m.Encode())
	mgr.MarkDirty(buf)
	mgr.Unlock(buf, pagebuf.LockExclusive)
	mgr.Unpin(buf)
	return mgr.ImmedSync(relation)
}

// Init allocates and writes block 0 for a brand-new index.
func Init(mgr pagebuf.Manager, relation string, textConfigID uint32, k1, b float64) (*Meta, error) {
	buf, block, err := mgr.Extend(relation)
	if err != nil {
		return nil, tapierr.TransientIO("allocating metapage", err)
	}
	if block != Block {
		mgr.Unpin(buf)
		return nil, tapierr.Corruption(fmt.Sprintf("metapage must be block 0, got block %d (relation not empty?)", block), nil)
	}
	m := New(textConfigID, k1, b)
	mgr.Lock(buf, pagebuf.LockExclusive)
	copy(buf.Bytes(), m.Encode())
	mgr.MarkDirty(buf)
	mgr.Unlock(buf, pagebuf.LockExclusive)
	mgr.Unpin(buf)
	return m, mgr.ImmedSync(relation)
}

// LinkSegment sets level L's head to newHead and increments its count,
// used when a freshly spilled or merged-into segment becomes visible.
func (m *Meta) LinkSegment(level int, newHead uint32) error {
	if level < 0 || level >= MaxLevels {
		return tapierr.Corruption(fmt.Sprintf("level %d outside [0,%d)", level, MaxLevels), nil)
	}
	m.LevelHeads[level] = newHead
	m.LevelCounts[level]++
	return nil
}

// ClearLevel empties level L, used by the merge engine's atomic swap (spec
// §4.11) immediately before linking the merged output into L+1.
func (m *Meta) ClearLevel(level int) error {
	if level < 0 || level >= MaxLevels {
		return tapierr.Corruption(fmt.Sprintf("level %d outside [0,%d)", level, MaxLevels), nil)
	}
	m.LevelHeads[level] = NoSegment
	m.LevelCounts[level] = 0
	return nil
}

// ReplaceLevel atomically installs head as level L's sole segment chain
// head with the given count — used by index.Build to install a freshly
// built level-0 chain (merges use ClearLevel and LinkSegment instead).
func (m *Meta) ReplaceLevel(level int, head uint32, count uint32) error {
	if level < 0 || level >= MaxLevels {
		return tapierr.Corruption(fmt.Sprintf("level %d outside [0,%d)", level, MaxLevels), nil)
	}
	m.LevelHeads[level] = head
	m.LevelCounts[level] = count
	return nil
}
