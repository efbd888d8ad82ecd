// Package build implements the serial and parallel index build/insert
// coordinators from spec §4.12: scan the indexed table through a heap.Source,
// tokenize each tuple, accumulate into a memtable, and spill to segments
// once the configured threshold is crossed.
//
// Grounded on `timescale/pg_textsearch`'s `src/am/build.c` (serial path)
// and `src/am/build_parallel.c` (leader + W workers sharing a page pool
// and an atomic scan cursor, each worker owning a private memtable that it
// spills and re-spills as it fills, chaining its segments — see
// SPEC_FULL.md §3's "worker-local memtable capping" supplement). The
// leader/worker split itself follows heroiclabs-nakama's `go-multierror`
// aggregation idiom for collecting per-worker failures.
package build

import (
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/tapidb/tapi/internal/bm25/block"
	"github.com/tapidb/tapi/internal/bm25/docmap"
	"github.com/tapidb/tapi/internal/bm25/fieldnorm"
	"github.com/tapidb/tapi/internal/bm25/heap"
	"github.com/tapidb/tapi/internal/bm25/memtable"
	"github.com/tapidb/tapi/internal/bm25/pagebuf"
	"github.com/tapidb/tapi/internal/bm25/segment"
	"github.com/tapidb/tapi/internal/bm25/segwriter"
	"github.com/tapidb/tapi/internal/bm25/tapierr"
	"github.com/tapidb/tapi/internal/bm25/threshold"
)

// NoSegment is the "this build produced no segments" sentinel (an empty
// heap source), matching segment.NoNextSegment/metapage.NoSegment's value.
const NoSegment uint32 = segment.NoNextSegment

// Result is the outcome of a build or parallel build: a single L0 segment
// chain ready for the caller (package index) to link into the metapage.
type Result struct {
	HeadSegment  uint32
	SegmentCount int
	NumDocs      uint32
}

// chain tracks one producer's (the serial builder's, or one worker's)
// sequence of spilled segments, linking each newly spilled segment to the
// previous one's NextSegment field as it's written.
type chain struct {
	head       uint32
	tailBlocks []uint32
	count      int
	numDocs    uint32
}

func (c *chain) append(mgr pagebuf.Manager, relation string, r *segment.Reader) error {
	if c.tailBlocks == nil {
		c.head = r.RootBlock
	} else if err := segwriter.LinkNext(mgr, relation, c.tailBlocks, r.RootBlock); err != nil {
		return err
	}
	c.tailBlocks = r.PageBlocks()
	c.count++
	c.numDocs += r.Header.NumDocs
	return nil
}

// spillMemtable writes mt's contents as a fresh segment drawn from pool
// (nil draws pages directly from mgr.Extend), returning nil if mt holds no
// documents.
func spillMemtable(mgr pagebuf.Manager, relation string, pool *segment.Pool, mt *memtable.Memtable, compress bool) (*segment.Reader, error) {
	sorted := mt.SortedTerms()
	if len(sorted) == 0 {
		return nil, nil
	}

	dmBuilder := docmap.New()
	for t, l := range mt.DocLengths() {
		dmBuilder.Add(t, l)
	}
	dm, err := dmBuilder.Finalize(fieldnorm.Encode)
	if err != nil {
		return nil, err
	}

	terms := make([]string, len(sorted))
	postingsByTerm := make(map[string][]block.Posting, len(sorted))
	for i, st := range sorted {
		terms[i] = st.Term
		postings := make([]block.Posting, 0, len(st.Postings))
		for _, p := range st.Postings {
			newID, ok := dm.Lookup(p.TID)
			if !ok {
				return nil, tapierr.Corruption("build: memtable TID missing from spill docmap", nil)
			}
			postings = append(postings, block.Posting{DocID: newID, Freq: uint16(p.Freq), Norm: dm.Fieldnorms[newID]})
		}
		sort.Slice(postings, func(a, b int) bool { return postings[a].DocID < postings[b].DocID })
		postingsByTerm[st.Term] = postings
	}

	res, err := segwriter.WriteFromTerms(mgr, relation, pool, terms, postingsByTerm, dm, compress)
	if err != nil {
		return nil, err
	}
	return segment.Open(mgr, relation, pagebuf.PageHeaderSize, res.RootBlock)
}

// tokenizeInto tokenizes one tuple and folds its terms into mt, returning
// the number of distinct terms added (the bulk-load-threshold signal).
func tokenizeInto(mt *memtable.Memtable, tok Tokenizer, t heap.Tuple, textConfigID uint32) (int, error) {
	freqs, err := tok.Tokenize(t.Text, textConfigID)
	if err != nil {
		return 0, err
	}
	var length uint32
	for _, tf := range freqs {
		mt.AddTerm(tf.Term, t.TID, int32(tf.Freq))
		length += tf.Freq
	}
	mt.StoreDocLength(t.TID, length)
	return len(freqs), nil
}

// Build performs a serial build/insert scan over src (spec §4.12's
// single-leader-no-workers case), spilling the memtable to segments as
// policy dictates and returning the resulting segment chain.
func Build(mgr pagebuf.Manager, relation string, src heap.Source, tok Tokenizer, textConfigID uint32, policy threshold.Policy, snapshot heap.Snapshot, logger *zap.Logger) (Result, error) {
	mt := memtable.New()
	var c chain
	c.head = NoSegment

	spill := func() error {
		r, err := spillMemtable(mgr, relation, nil, mt, policy.CompressSegments)
		if err != nil {
			return err
		}
		if r == nil {
			return nil
		}
		if err := c.append(mgr, relation, r); err != nil {
			return err
		}
		if logger != nil {
			logger.Info("build: spilled memtable",
				zap.Uint32("segment_root", r.RootBlock),
				zap.Uint32("num_docs", r.Header.NumDocs))
		}
		mt.Clear()
		return nil
	}

	err := src.Scan(snapshot, func(t heap.Tuple) error {
		added, err := tokenizeInto(mt, tok, t, textConfigID)
		if err != nil {
			return err
		}
		if policy.ShouldSpill(mt.TotalPostings(), added) {
			return spill()
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if mt.NumDocs() > 0 {
		if err := spill(); err != nil {
			return Result{}, err
		}
	}

	return Result{HeadSegment: c.head, SegmentCount: c.count, NumDocs: c.numDocs}, nil
}

// ParallelConfig configures a parallel build run (spec §4.12).
type ParallelConfig struct {
	Workers   int
	BatchSize int64 // heap units (e.g. pages) claimed per Cursor.Claim
	PoolSize  int   // total pages pre-allocated for the shared page pool
}

// Worker scans its claimed slice of the shared cursor's range, spilling
// its private memtable to the shared pool and chaining its own segments.
type Worker struct {
	mgr          pagebuf.Manager
	relation     string
	pool         *segment.Pool
	src          heap.Source
	tok          Tokenizer
	textConfigID uint32
	policy       threshold.Policy
	cursor       *heap.Cursor
	snapshot     heap.Snapshot
	logger       *zap.Logger

	Result chain
}

// run drives one worker to exhaustion of the shared cursor (spec §3's
// "worker-local memtable capping" supplement: spill-and-continue with a
// fresh memtable rather than stopping at the first spill).
func (w *Worker) run() error {
	mt := memtable.New()
	w.Result.head = NoSegment

	spill := func() error {
		r, err := spillMemtable(w.mgr, w.relation, w.pool, mt, w.policy.CompressSegments)
		if err != nil {
			return err
		}
		if r == nil {
			return nil
		}
		if err := w.Result.append(w.mgr, w.relation, r); err != nil {
			return err
		}
		mt.Clear()
		return nil
	}

	for {
		start, end, ok := w.cursor.Claim()
		if !ok {
			break
		}
		var addedThisBatch int
		err := w.src.ScanRange(w.snapshot, start, end, func(t heap.Tuple) error {
			added, err := tokenizeInto(mt, w.tok, t, w.textConfigID)
			if err != nil {
				return err
			}
			addedThisBatch += added
			return nil
		})
		if err != nil {
			return err
		}
		if w.policy.ShouldSpill(mt.TotalPostings(), addedThisBatch) {
			if err := spill(); err != nil {
				return err
			}
		}
	}
	if mt.NumDocs() > 0 {
		if err := spill(); err != nil {
			return err
		}
	}
	return nil
}

// ParallelBuild runs cfg.Workers goroutines over src, each claiming disjoint
// sub-ranges from a shared heap.Cursor and spilling into a shared page
// pool, then links every worker's segment chain into one L0 list (spec
// §4.12: "the leader links all per-worker segment chains into L0").
func ParallelBuild(mgr pagebuf.Manager, relation string, src heap.Source, tok Tokenizer, textConfigID uint32, policy threshold.Policy, cfg ParallelConfig, snapshot heap.Snapshot, logger *zap.Logger) (Result, error) {
	if cfg.Workers < 1 {
		return Result{}, tapierr.Misuse("parallel build requires at least one worker")
	}

	extent, err := src.Extent(snapshot)
	if err != nil {
		return Result{}, err
	}
	if extent == 0 {
		return Result{HeadSegment: NoSegment}, nil
	}

	pool, err := segment.NewPool(mgr, relation, cfg.PoolSize)
	if err != nil {
		return Result{}, err
	}

	cursor := heap.NewCursor(extent, cfg.BatchSize)
	workers := make([]*Worker, cfg.Workers)
	for i := range workers {
		workers[i] = &Worker{
			mgr: mgr, relation: relation, pool: pool, src: src, tok: tok,
			textConfigID: textConfigID, policy: policy, cursor: cursor,
			snapshot: snapshot, logger: logger,
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, cfg.Workers)
	for i, wk := range workers {
		wg.Add(1)
		go func(idx int, worker *Worker) {
			defer wg.Done()
			errs[idx] = worker.run()
		}(i, wk)
	}
	wg.Wait()

	var merr *multierror.Error
	for _, e := range errs {
		if e != nil {
			merr = multierror.Append(merr, e)
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return Result{}, err
	}

	var leader chain
	leader.head = NoSegment
	for _, wk := range workers {
		if wk.Result.count == 0 {
			continue
		}
		if leader.tailBlocks == nil {
			leader.head = wk.Result.head
		} else if err := segwriter.LinkNext(mgr, relation, leader.tailBlocks, wk.Result.head); err != nil {
			return Result{}, err
		}
		leader.tailBlocks = wk.Result.tailBlocks
		leader.count += wk.Result.count
		leader.numDocs += wk.Result.numDocs
	}

	if logger != nil {
		logger.Info("parallel build complete",
			zap.Int("workers", cfg.Workers),
			zap.Int("segments", leader.count),
			zap.Uint32("num_docs", leader.numDocs),
			zap.Int("unclaimed_pool_pages", len(pool.Unclaimed())))
	}

	return Result{HeadSegment: leader.head, SegmentCount: leader.count, NumDocs: leader.numDocs}, nil
}
