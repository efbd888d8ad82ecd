package segment

import (
	"encoding/binary"
	"fmt"

	"github.com/tapidb/tapi/internal/bm25/pagebuf"
	"github.com/tapidb/tapi/internal/bm25/tapierr"
)

// pageIndexMagic tags a page-index page's special area.
const pageIndexMagic uint32 = 0x54504958 // "TPIX"

// pageIndexSpecialSize is the fixed special-area size of a page-index page:
// magic, next_page, num_entries, page_type.
const pageIndexSpecialSize = 4 + 4 + 4 + 4

// writePageIndex lays out the physical blocks of a freshly written segment
// as a forward-only chain of page-index pages (spec §3 "Page index") and
// returns the physical block number of the chain's first page, which the
// caller stores in Header.PageIndexRoot.
func writePageIndex(alloc func() (*pagebuf.Buffer, uint32, error), mgr pagebuf.Manager, blocks []uint32) (uint32, error) {
	pageSize := mgr.PageSize()
	capacity := (pageSize - pageIndexSpecialSize) / 4
	if capacity <= 0 {
		return 0, tapierr.Misuse("page size too small to hold any page-index entries")
	}

	type chainPage struct {
		buf   *pagebuf.Buffer
		block uint32
	}
	var chain []chainPage
	for i := 0; i < len(blocks); i += capacity {
		end := i + capacity
		if end > len(blocks) {
			end = len(blocks)
		}
		buf, block, err := alloc()
		if err != nil {
			return 0, tapierr.TransientIO("allocating page-index page", err)
		}
		chain = append(chain, chainPage{buf: buf, block: block})
		encodePageIndexPage(buf.Bytes(), blocks[i:end], NoNextSegment)
		mgr.MarkDirty(buf)
	}

	for i := 0; i < len(chain)-1; i++ {
		patchNextPage(chain[i].buf.Bytes(), chain[i+1].block)
		mgr.MarkDirty(chain[i].buf)
	}
	for _, cp := range chain {
		mgr.Unpin(cp.buf)
	}
	if len(chain) == 0 {
		return NoNextSegment, nil
	}
	return chain[0].block, nil
}

func encodePageIndexPage(page []byte, entries []uint32, next uint32) {
	binary.LittleEndian.PutUint32(page[0:4], pageIndexMagic)
	binary.LittleEndian.PutUint32(page[4:8], next)
	binary.LittleEndian.PutUint32(page[8:12], uint32(len(entries)))
	binary.LittleEndian.PutUint32(page[12:16], 0) // page_type: reserved for future use
	off := pageIndexSpecialSize
	for _, e := range entries {
		binary.LittleEndian.PutUint32(page[off:off+4], e)
		off += 4
	}
}

func patchNextPage(page []byte, next uint32) {
	binary.LittleEndian.PutUint32(page[4:8], next)
}

// readPageIndex walks the page-index chain starting at root and returns the
// ordered physical block numbers of the segment it describes.
func readPageIndex(mgr pagebuf.Manager, relation string, root uint32, expectedCount uint32) ([]uint32, error) {
	if root == NoNextSegment {
		return nil, nil
	}
	var out []uint32
	block := root
	seen := make(map[uint32]bool)
	for block != NoNextSegment {
		if seen[block] {
			return nil, tapierr.Corruption("cycle detected in page-index chain", nil)
		}
		seen[block] = true

		buf, err := mgr.Read(relation, block)
		if err != nil {
			return nil, tapierr.Corruption(fmt.Sprintf("reading page-index page %d", block), err)
		}
		mgr.Lock(buf, pagebuf.LockShared)
		data := buf.Bytes()
		if len(data) < pageIndexSpecialSize {
			mgr.Unlock(buf, pagebuf.LockShared)
			mgr.Unpin(buf)
			return nil, tapierr.Corruption("page-index page too small", nil)
		}
		magic := binary.LittleEndian.Uint32(data[0:4])
		next := binary.LittleEndian.Uint32(data[4:8])
		numEntries := binary.LittleEndian.Uint32(data[8:12])
		if magic != pageIndexMagic {
			mgr.Unlock(buf, pagebuf.LockShared)
			mgr.Unpin(buf)
			return nil, tapierr.Corruption(fmt.Sprintf("bad page-index magic on block %d", block), nil)
		}
		off := pageIndexSpecialSize
		for i := uint32(0); i < numEntries; i++ {
			out = append(out, binary.LittleEndian.Uint32(data[off:off+4]))
			off += 4
		}
		mgr.Unlock(buf, pagebuf.LockShared)
		mgr.Unpin(buf)
		block = next

		if uint32(len(out)) > expectedCount && expectedCount > 0 {
			return nil, tapierr.Corruption("page-index chain longer than header's page count", nil)
		}
	}
	if expectedCount > 0 && uint32(len(out)) != expectedCount {
		return nil, tapierr.Corruption(fmt.Sprintf("page-index chain yielded %d pages, header declares %d", len(out), expectedCount), nil)
	}
	return out, nil
}
