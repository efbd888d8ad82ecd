// Package memtable is the in-memory inverted index that buffers recent
// inserts (spec §4.7): a hash map of term → postings for O(1) append, plus
// a sorted term index used only to make sorted_terms() (the spill path's
// term-ordered iteration) an O(log n)-insert, O(n)-walk operation instead
// of an O(n log n) sort at spill time.
//
// The sorted term index reuses internal/skiplist (Redis's ziplist-style
// skip list, as carried by heroiclabs-nakama for its leaderboard rank
// index) keyed by term string instead of leaderboard score.
package memtable

import (
	"sort"
	"sync"

	"github.com/tapidb/tapi/internal/bm25/tapierr"
	"github.com/tapidb/tapi/internal/bm25/tid"
	"github.com/tapidb/tapi/internal/skiplist"
)

// Posting is one (TID, term frequency) pair, matching spec §3's in-memory
// posting shape.
type Posting struct {
	TID  tid.TID
	Freq int32
}

type termKey string

func (k termKey) Less(other interface{}) bool { return string(k) < string(other.(termKey)) }

type termPostings struct {
	postings []Posting
}

// Memtable is the writeable buffer for recent inserts and a query source
// before flushing.
type Memtable struct {
	mu sync.RWMutex

	terms     map[string]*termPostings
	termOrder *skiplist.SkipList

	docLengths map[tid.TID]uint32

	totalPostings int
	numDocs       int
	totalLen      uint64
}

// New returns an empty memtable.
func New() *Memtable {
	return &Memtable{
		terms:      make(map[string]*termPostings),
		termOrder:  skiplist.New(),
		docLengths: make(map[tid.TID]uint32),
	}
}

// AddTerm appends a posting for term, growing its per-term slice. Safe for
// concurrent callers within a single writer transaction (spec assumes at
// most one writer per index, but the lock lets callers share a memtable
// across goroutines within that one transaction, e.g. parallel tokenization).
func (m *Memtable) AddTerm(term string, t tid.TID, freq int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, ok := m.terms[term]
	if !ok {
		tp = &termPostings{}
		m.terms[term] = tp
		m.termOrder.Insert(termKey(term))
	}
	tp.postings = append(tp.postings, Posting{TID: t, Freq: freq})
	m.totalPostings++
}

// StoreDocLength stores or updates t's document length, updating NumDocs
// and TotalLen only the first time t is seen.
func (m *Memtable) StoreDocLength(t tid.TID, length uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docLengths[t]; !ok {
		m.numDocs++
		m.totalLen += uint64(length)
	}
	m.docLengths[t] = length
}

// GetDocLength returns t's stored document length, if any.
func (m *Memtable) GetDocLength(t tid.TID) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.docLengths[t]
	return l, ok
}

// GetPostings returns term's raw posting list (unsorted; callers needing
// TID order should use SortedTerms).
func (m *Memtable) GetPostings(term string) ([]Posting, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tp, ok := m.terms[term]
	if !ok {
		return nil, false
	}
	out := make([]Posting, len(tp.postings))
	copy(out, tp.postings)
	return out, true
}

// DocFreq returns the number of distinct documents containing term. Since
// a single document may add the same term more than once (repeated word),
// this counts distinct TIDs, not posting entries.
func (m *Memtable) DocFreq(term string) uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tp, ok := m.terms[term]
	if !ok {
		return 0
	}
	seen := make(map[tid.TID]bool, len(tp.postings))
	for _, p := range tp.postings {
		seen[p.TID] = true
	}
	return uint32(len(seen))
}

// NumDocs returns the number of distinct documents with a stored length.
func (m *Memtable) NumDocs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.numDocs
}

// TotalPostings returns the running count of add_term calls, the spill
// trigger's primary signal (spec §4.8).
func (m *Memtable) TotalPostings() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalPostings
}

// TotalLen returns the summed document length across every distinct TID
// with a stored length, for computing a unified avgdl alongside segments.
func (m *Memtable) TotalLen() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalLen
}

// AvgDocLength returns the corpus average document length, 0 if empty.
func (m *Memtable) AvgDocLength() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.numDocs == 0 {
		return 0
	}
	return float64(m.totalLen) / float64(m.numDocs)
}

// SortedTerm is one entry of SortedTerms' output.
type SortedTerm struct {
	Term     string
	Postings []Posting
}

// SortedTerms materializes every term in ascending order, each with its
// postings sorted by TID ascending, for the spill write procedure (spec
// §4.8 step 2).
func (m *Memtable) SortedTerms() []SortedTerm {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SortedTerm, 0, len(m.terms))
	for e := m.termOrder.Front(); e != nil; e = e.Next() {
		term := string(e.Value.(termKey))
		tp := m.terms[term]
		postings := make([]Posting, len(tp.postings))
		copy(postings, tp.postings)
		sort.Slice(postings, func(i, j int) bool { return postings[i].TID.Less(postings[j].TID) })
		out = append(out, SortedTerm{Term: term, Postings: postings})
	}
	return out
}

// Clear drops all accumulated state, keeping the container alive for reuse.
func (m *Memtable) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terms = make(map[string]*termPostings)
	m.termOrder.Init()
	m.docLengths = make(map[tid.TID]uint32)
	m.totalPostings = 0
	m.numDocs = 0
	m.totalLen = 0
}

// DocLengths returns a snapshot copy of every recorded (TID, length) pair,
// used by the docmap builder at spill time.
func (m *Memtable) DocLengths() map[tid.TID]uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[tid.TID]uint32, len(m.docLengths))
	for t, l := range m.docLengths {
		out[t] = l
	}
	return out
}

// ErrEmpty is returned by operations that require a non-empty memtable.
var ErrEmpty = tapierr.Misuse("memtable is empty")
