package segment

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/tapidb/tapi/internal/bm25/pagebuf"
	"github.com/tapidb/tapi/internal/bm25/pagemapper"
	"github.com/tapidb/tapi/internal/bm25/tapierr"
)

// Pool is the shared, pre-allocated page pool used by parallel build and
// parallel compaction (spec §4.12/§5): a flat list of already-extended
// physical blocks plus an atomic claim counter. Every worker writer shares
// one Pool for a build/compaction run.
type Pool struct {
	Blocks []uint32
	next   atomic.Int64
}

// NewPool pre-extends n pages of relation and returns a Pool over them.
func NewPool(mgr pagebuf.Manager, relation string, n int) (*Pool, error) {
	blocks := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		buf, block, err := mgr.Extend(relation)
		if err != nil {
			return nil, tapierr.TransientIO("pre-extending page pool", err)
		}
		mgr.Unpin(buf)
		blocks = append(blocks, block)
	}
	if err := mgr.ImmedSync(relation); err != nil {
		return nil, tapierr.TransientIO("syncing page pool", err)
	}
	return &Pool{Blocks: blocks}, nil
}

func (p *Pool) claim() (uint32, bool) {
	idx := p.next.Inc() - 1
	if idx < 0 || idx >= int64(len(p.Blocks)) {
		return 0, false
	}
	return p.Blocks[idx], true
}

// Unclaimed returns the suffix of Blocks never handed out, for truncation
// after a parallel build/compaction run completes (spec §4.12).
func (p *Pool) Unclaimed() []uint32 {
	claimed := p.next.Load()
	if claimed < 0 {
		claimed = 0
	}
	if claimed >= int64(len(p.Blocks)) {
		return nil
	}
	return p.Blocks[claimed:]
}

// Writer streams bytes into a sequence of pages (spec §4.4), drawing pages
// either from a shared Pool or directly from the buffer manager's Extend.
type Writer struct {
	mgr      pagebuf.Manager
	relation string
	mapper   pagemapper.Mapper
	pool     *Pool

	blocks []uint32

	curBuf    *pagebuf.Buffer
	curBlock  uint32
	curFilled int
	offset    int64
}

// NewWriter starts a fresh segment writer. pool may be nil, in which case
// pages are drawn one at a time via mgr.Extend.
func NewWriter(mgr pagebuf.Manager, relation string, pageHeaderSize int, pool *Pool) *Writer {
	return &Writer{
		mgr:      mgr,
		relation: relation,
		mapper:   pagemapper.New(mgr.PageSize(), pageHeaderSize),
		pool:     pool,
	}
}

func (w *Writer) allocate() (*pagebuf.Buffer, uint32, error) {
	if w.pool != nil {
		block, ok := w.pool.claim()
		if !ok {
			return nil, 0, tapierr.ResourceExhausted("page pool exhausted during segment write", "parallel_build_expansion_factor")
		}
		buf, err := w.mgr.Read(w.relation, block)
		if err != nil {
			return nil, 0, err
		}
		return buf, block, nil
	}
	return w.mgr.Extend(w.relation)
}

// CurrentOffset returns the logical byte offset the next Write call will
// start at.
func (w *Writer) CurrentOffset() int64 { return w.offset }

// PagesAllocated returns how many physical pages this writer has used so far.
func (w *Writer) PagesAllocated() int { return len(w.blocks) }

// Blocks returns the physical block numbers backing the segment's logical
// data stream, in logical order. Valid any time after the first Write
// call, including after Finish. Used for the header/dict-entry patch-back
// pass in spec §4.8 steps 10-11, before the header's own magic is valid
// (so callers can't yet reopen the segment via Open to rediscover them).
func (w *Writer) Blocks() []uint32 {
	out := make([]uint32, len(w.blocks))
	copy(out, w.blocks)
	return out
}

// Write appends data to the logical stream, spanning page boundaries as
// needed.
func (w *Writer) Write(data []byte) error {
	remaining := data
	for len(remaining) > 0 {
		if w.curBuf == nil {
			buf, block, err := w.allocate()
			if err != nil {
				return err
			}
			w.mgr.Lock(buf, pagebuf.LockExclusive)
			w.curBuf = buf
			w.curBlock = block
			w.curFilled = 0
			w.blocks = append(w.blocks, block)
		}
		capacity := w.mapper.DataPerPage() - w.curFilled
		n := len(remaining)
		if n > capacity {
			n = capacity
		}
		dst := w.curBuf.Bytes()
		copy(dst[w.pageHeaderSize()+w.curFilled:w.pageHeaderSize()+w.curFilled+n], remaining[:n])
		w.curFilled += n
		w.offset += int64(n)
		w.mgr.MarkDirty(w.curBuf)
		remaining = remaining[n:]
		if w.curFilled == w.mapper.DataPerPage() {
			if err := w.flushCurrent(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) pageHeaderSize() int {
	return w.mgr.PageSize() - w.mapper.DataPerPage()
}

func (w *Writer) flushCurrent() error {
	if w.curBuf == nil {
		return nil
	}
	w.mgr.Unlock(w.curBuf, pagebuf.LockExclusive)
	w.mgr.Unpin(w.curBuf)
	w.curBuf = nil
	w.curFilled = 0
	return nil
}

// Flush writes back the current in-progress page without ending the
// segment; subsequent Write calls continue into the same page by re-pinning
// it. Used by writers that interleave Write with explicit section-boundary
// bookkeeping but don't want to hold a page locked indefinitely.
func (w *Writer) Flush() error {
	if w.curBuf == nil {
		return nil
	}
	w.mgr.MarkDirty(w.curBuf)
	return w.flushCurrent()
}

// Finish flushes any partial page, writes the page-index chain, and
// returns the segment's root block (its first physical page) and the
// page-index chain's root block (to be recorded in the header before the
// final header patch).
func (w *Writer) Finish() (rootBlock uint32, pageIndexRoot uint32, err error) {
	if err := w.flushCurrent(); err != nil {
		return 0, 0, err
	}
	if len(w.blocks) == 0 {
		return 0, 0, tapierr.Misuse("cannot finish an empty segment writer")
	}
	pageIndexRoot, err = writePageIndex(w.allocate, w.mgr, w.blocks)
	if err != nil {
		return 0, 0, err
	}
	return w.blocks[0], pageIndexRoot, nil
}

// PatchAt overwrites length bytes starting at logical offset off within an
// already-written (but not yet finished-and-released) segment, spanning
// page boundaries. Used for the dict-entry and header patch-back passes in
// spec §4.8 steps 10-11: each touched page is locked exclusive one at a
// time, matching the nesting discipline in spec §5.
func PatchAt(mgr pagebuf.Manager, relation string, mapper pagemapper.Mapper, blocks []uint32, off int64, data []byte) error {
	remaining := data
	cur := off
	pageHeaderSize := mgr.PageSize() - mapper.DataPerPage()
	for len(remaining) > 0 {
		page, intra := mapper.Locate(cur)
		if page < 0 || int(page) >= len(blocks) {
			return tapierr.Corruption(fmt.Sprintf("patch offset %d maps to page %d outside segment's %d pages", cur, page, len(blocks)), nil)
		}
		block := blocks[page]
		buf, err := mgr.Read(relation, block)
		if err != nil {
			return tapierr.TransientIO("reading page for patch", err)
		}
		mgr.Lock(buf, pagebuf.LockExclusive)
		n := mapper.DataPerPage() - intra
		if n > len(remaining) {
			n = len(remaining)
		}
		dst := buf.Bytes()
		copy(dst[pageHeaderSize+intra:pageHeaderSize+intra+n], remaining[:n])
		mgr.MarkDirty(buf)
		mgr.Unlock(buf, pagebuf.LockExclusive)
		mgr.Unpin(buf)
		remaining = remaining[n:]
		cur += int64(n)
	}
	return nil
}
