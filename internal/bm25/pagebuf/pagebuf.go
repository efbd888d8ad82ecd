// Package pagebuf defines the narrow host buffer-manager interface the core
// consumes (spec §6) and ships one concrete, in-process implementation
// backed by github.com/hashicorp/golang-lru for the page cache — used by
// the CLI demo and the test suite in place of the real database's page
// buffer manager.
//
// The discipline in spec §5 is: pin, lock (shared|exclusive), mutate,
// mark_dirty, unlock+unpin. A pinned page must never be evicted. The LRU
// here only evicts pages with a zero pin count; pinned pages live in a
// side map the LRU never touches.
package pagebuf

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/atomic"

	"github.com/tapidb/tapi/internal/bm25/tapierr"
)

// PageHeaderSize is the fixed per-page special area every page reserves for
// the host (page-index "next_page"/"num_entries"/"page_type" fields, etc.),
// matching the dataPerPage math in pagemapper.
const PageHeaderSize = 24

// LockMode is the lock a pinned page is held under.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// PageID identifies one physical page within one relation file.
type PageID struct {
	Relation string
	Block    uint32
}

// Buffer is a pinned, possibly locked page. Bytes returns the full
// PageSize-length backing array; callers are responsible for staying within
// PageSize-PageHeaderSize of usable space per pagemapper's accounting.
type Buffer struct {
	id    PageID
	data  []byte
	mu    sync.RWMutex
	dirty atomic.Bool
}

func (b *Buffer) PageID() PageID { return b.id }

// Bytes returns the buffer's backing array. The caller must hold the
// buffer's lock (via Manager.Lock) before mutating it.
func (b *Buffer) Bytes() []byte { return b.data }

// Manager is the narrow interface the core requires of the host's buffer
// manager.
type Manager interface {
	// Read pins and returns the page at (relation, block).
	Read(relation string, block uint32) (*Buffer, error)
	// Extend allocates a new page at the end of relation, pins it, and
	// returns it along with its block number.
	Extend(relation string) (*Buffer, uint32, error)
	// Lock acquires the given lock mode on an already-pinned buffer.
	Lock(buf *Buffer, mode LockMode)
	// Unlock releases a lock acquired via Lock.
	Unlock(buf *Buffer, mode LockMode)
	// MarkDirty flags a buffer for write-back.
	MarkDirty(buf *Buffer)
	// Unpin releases the pin taken by Read or Extend.
	Unpin(buf *Buffer)
	// ImmedSync ensures every dirty page of relation is durable; required
	// after bulk extension (parallel build / compaction) before handing
	// pool pages to workers.
	ImmedSync(relation string) error
	// PageSize is the fixed physical page size this manager was built with.
	PageSize() int
}

// relationState holds one relation's pages: an LRU of unpinned pages
// plus a side set of pages currently pinned (by pin count, since the same
// page may be pinned by more than one caller).
type relationState struct {
	mu       sync.Mutex
	pages    map[uint32][]byte
	pinCount map[uint32]int
	dirty    map[uint32]bool
	lru      *lru.Cache
	nextBlk  uint32
}

// InProcessManager is an in-memory Manager implementation: every relation
// is a map[block][]byte "file" with an LRU shadow used only for eviction
// bookkeeping demonstrations (the backing maps are never actually dropped,
// since there is no real disk to spill to — Evicted pages are simply
// pages the LRU would have written back first under real memory pressure).
type InProcessManager struct {
	pageSize int
	mu       sync.Mutex
	rels     map[string]*relationState
}

// NewInProcessManager returns a Manager with the given physical page size.
func NewInProcessManager(pageSize int) *InProcessManager {
	return &InProcessManager{pageSize: pageSize, rels: make(map[string]*relationState)}
}

func (m *InProcessManager) PageSize() int { return m.pageSize }

func (m *InProcessManager) relation(name string) *relationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.rels[name]
	if !ok {
		cache, _ := lru.New(1024)
		rs = &relationState{
			pages:    make(map[uint32][]byte),
			pinCount: make(map[uint32]int),
			dirty:    make(map[uint32]bool),
			lru:      cache,
		}
		m.rels[name] = rs
	}
	return rs
}

func (m *InProcessManager) Read(relation string, block uint32) (*Buffer, error) {
	rs := m.relation(relation)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	data, ok := rs.pages[block]
	if !ok {
		return nil, tapierr.Corruption(fmt.Sprintf("relation %q has no block %d", relation, block), nil)
	}
	rs.pinCount[block]++
	rs.lru.Remove(block) // pinned pages are never eviction candidates
	return &Buffer{id: PageID{Relation: relation, Block: block}, data: data}, nil
}

func (m *InProcessManager) Extend(relation string) (*Buffer, uint32, error) {
	rs := m.relation(relation)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	block := rs.nextBlk
	rs.nextBlk++
	data := make([]byte, m.pageSize)
	rs.pages[block] = data
	rs.pinCount[block] = 1
	return &Buffer{id: PageID{Relation: relation, Block: block}, data: data}, block, nil
}

func (m *InProcessManager) Lock(buf *Buffer, mode LockMode) {
	if mode == LockExclusive {
		buf.mu.Lock()
	} else {
		buf.mu.RLock()
	}
}

func (m *InProcessManager) Unlock(buf *Buffer, mode LockMode) {
	if mode == LockExclusive {
		buf.mu.Unlock()
	} else {
		buf.mu.RUnlock()
	}
}

func (m *InProcessManager) MarkDirty(buf *Buffer) {
	buf.dirty.Store(true)
	rs := m.relation(buf.id.Relation)
	rs.mu.Lock()
	rs.dirty[buf.id.Block] = true
	rs.mu.Unlock()
}

func (m *InProcessManager) Unpin(buf *Buffer) {
	rs := m.relation(buf.id.Relation)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.pinCount[buf.id.Block]--
	if rs.pinCount[buf.id.Block] <= 0 {
		delete(rs.pinCount, buf.id.Block)
		rs.lru.Add(buf.id.Block, struct{}{})
	}
}

// ImmedSync is a no-op here: the in-process manager has no real disk, so
// every write is already "durable" the moment MarkDirty returns. A real
// buffer manager would fsync the relation's dirty pages.
func (m *InProcessManager) ImmedSync(relation string) error {
	return nil
}
