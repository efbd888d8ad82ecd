// Package recovery implements the WAL-lite TID-recovery page chain (spec
// §4.9): after every memtable insert, the document's TID is appended to a
// chain the index can walk after a crash to rebuild the memtable by
// re-fetching and re-tokenizing each live tuple. The memtable itself is
// volatile; this chain is the only durable record of what it held.
package recovery

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"

	"github.com/tapidb/tapi/internal/bm25/pagebuf"
	"github.com/tapidb/tapi/internal/bm25/tapierr"
	"github.com/tapidb/tapi/internal/bm25/tid"
)

// Magic tags a recovery page's special area, spelling "TPDI" in ASCII.
const Magic uint32 = 0x54504449

// NoHead is the sentinel "chain is empty" head pointer, stored in the
// metapage when no recovery page has been allocated yet.
const NoHead uint32 = 0xFFFFFFFF

// flagPayloadCompressed marks a sealed page's TID array as snappy-compressed
// in place (set by sealPage once a page fills, cleared/absent while a page
// is still being appended to).
const flagPayloadCompressed uint32 = 1 << 0

const specialSize = 4 + 4 + 4 + 4 + 4 // magic, next_page, num_tids, flags, payload_len
const tidSize = 4 + 2                 // block (u32) + offset (u16)

// tidsPerPage returns the capacity of one recovery page for the given
// physical page size and special-area reservation.
func tidsPerPage(pageSize, pageHeaderSize int) int {
	return (pageSize - pageHeaderSize - specialSize) / tidSize
}

// Chain is a handle on one index's TID-recovery page list.
type Chain struct {
	mgr            pagebuf.Manager
	relation       string
	pageHeaderSize int
	head           uint32
}

// Open wraps an existing chain (or an empty one, if head is NoHead).
func Open(mgr pagebuf.Manager, relation string, pageHeaderSize int, head uint32) *Chain {
	return &Chain{mgr: mgr, relation: relation, pageHeaderSize: pageHeaderSize, head: head}
}

// Head returns the current head block, to be persisted in the metapage.
func (c *Chain) Head() uint32 { return c.head }

// Append records t at the head of the chain, allocating a new head page
// when the current one is full.
func (c *Chain) Append(t tid.TID) error {
	capacity := tidsPerPage(c.mgr.PageSize(), c.pageHeaderSize)
	if capacity <= 0 {
		return tapierr.Misuse("page size too small to hold any recovery TIDs")
	}

	if c.head != NoHead {
		buf, err := c.mgr.Read(c.relation, c.head)
		if err != nil {
			return tapierr.TransientIO("reading recovery head page", err)
		}
		c.mgr.Lock(buf, pagebuf.LockExclusive)
		data := buf.Bytes()[c.pageHeaderSize:]
		magic := binary.LittleEndian.Uint32(data[0:4])
		numTids := binary.LittleEndian.Uint32(data[8:12])
		if magic != Magic {
			c.mgr.Unlock(buf, pagebuf.LockExclusive)
			c.mgr.Unpin(buf)
			return tapierr.Corruption(fmt.Sprintf("bad recovery page magic on block %d", c.head), nil)
		}
		if int(numTids) < capacity {
			writeTID(data, specialSize+int(numTids)*tidSize, t)
			newCount := numTids + 1
			binary.LittleEndian.PutUint32(data[8:12], newCount)
			if int(newCount) == capacity {
				sealPage(data, capacity)
			}
			c.mgr.MarkDirty(buf)
			c.mgr.Unlock(buf, pagebuf.LockExclusive)
			c.mgr.Unpin(buf)
			return nil
		}
		c.mgr.Unlock(buf, pagebuf.LockExclusive)
		c.mgr.Unpin(buf)
	}

	buf, block, err := c.mgr.Extend(c.relation)
	if err != nil {
		return tapierr.TransientIO("allocating new recovery page", err)
	}
	c.mgr.Lock(buf, pagebuf.LockExclusive)
	data := buf.Bytes()[c.pageHeaderSize:]
	binary.LittleEndian.PutUint32(data[0:4], Magic)
	binary.LittleEndian.PutUint32(data[4:8], c.head)
	binary.LittleEndian.PutUint32(data[8:12], 1)
	binary.LittleEndian.PutUint32(data[12:16], 0)
	writeTID(data, specialSize, t)
	if capacity == 1 {
		sealPage(data, capacity)
	}
	c.mgr.MarkDirty(buf)
	c.mgr.Unlock(buf, pagebuf.LockExclusive)
	c.mgr.Unpin(buf)
	c.head = block
	return nil
}

// sealPage snappy-compresses a just-filled page's TID array in place (the
// recovery chain's domain-stack "TID-recovery page payloads" compression):
// once a page reaches capacity no further Append call will touch it again,
// so this is the one point where compressing pays off without needing to
// decompress-modify-recompress on every write. Left raw (flags untouched)
// if compression doesn't actually shrink the payload.
func sealPage(data []byte, capacity int) {
	raw := data[specialSize : specialSize+capacity*tidSize]
	compressed := snappy.Encode(nil, raw)
	if len(compressed) >= len(raw) {
		return
	}
	copy(data[specialSize:], compressed)
	binary.LittleEndian.PutUint32(data[12:16], flagPayloadCompressed)
	binary.LittleEndian.PutUint32(data[16:20], uint32(len(compressed)))
}

// Clear drops the chain, conceptually releasing its pages back to the
// host's free-space map (out of this core's scope, spec §6); the chain's
// in-memory head pointer is simply forgotten so the next metapage write
// persists NoHead.
func (c *Chain) Clear() {
	c.head = NoHead
}

// Walk returns every TID in the chain, in most-recently-appended-page-first
// order (the order doesn't matter for recovery: every TID is replayed
// through add_term/store_doc_length independently).
func Walk(mgr pagebuf.Manager, relation string, pageHeaderSize int, head uint32) ([]tid.TID, error) {
	var out []tid.TID
	block := head
	seen := make(map[uint32]bool)
	for block != NoHead {
		if seen[block] {
			return nil, tapierr.Corruption("cycle detected in TID-recovery chain", nil)
		}
		seen[block] = true

		buf, err := mgr.Read(relation, block)
		if err != nil {
			return nil, tapierr.Corruption(fmt.Sprintf("reading recovery page %d", block), err)
		}
		mgr.Lock(buf, pagebuf.LockShared)
		data := buf.Bytes()[pageHeaderSize:]
		magic := binary.LittleEndian.Uint32(data[0:4])
		next := binary.LittleEndian.Uint32(data[4:8])
		numTids := binary.LittleEndian.Uint32(data[8:12])
		flags := binary.LittleEndian.Uint32(data[12:16])
		if magic != Magic {
			mgr.Unlock(buf, pagebuf.LockShared)
			mgr.Unpin(buf)
			return nil, tapierr.Corruption(fmt.Sprintf("bad recovery page magic on block %d", block), nil)
		}
		payload := data[specialSize:]
		if flags&flagPayloadCompressed != 0 {
			payloadLen := binary.LittleEndian.Uint32(data[16:20])
			raw, err := snappy.Decode(nil, payload[:payloadLen])
			if err != nil {
				mgr.Unlock(buf, pagebuf.LockShared)
				mgr.Unpin(buf)
				return nil, tapierr.Corruption(fmt.Sprintf("decompressing recovery page %d", block), err)
			}
			payload = raw
		}
		for i := uint32(0); i < numTids; i++ {
			out = append(out, readTID(payload, int(i)*tidSize))
		}
		mgr.Unlock(buf, pagebuf.LockShared)
		mgr.Unpin(buf)
		block = next
	}
	return out, nil
}

func writeTID(data []byte, off int, t tid.TID) {
	binary.LittleEndian.PutUint32(data[off:off+4], t.Block)
	binary.LittleEndian.PutUint16(data[off+4:off+6], t.Offset)
}

func readTID(data []byte, off int) tid.TID {
	return tid.TID{
		Block:  binary.LittleEndian.Uint32(data[off : off+4]),
		Offset: binary.LittleEndian.Uint16(data[off+4 : off+6]),
	}
}
