// Package index implements the public Index type (spec §6, "Public
// operations on the index"): Build, Insert, Scan, BulkDelete,
// VacuumCleanup, Spill, Merge, orchestrating every lower layer
// (memtable, segment, merge, build, recovery, metapage, scorer) behind
// one reader–writer-locked entry point (spec §5: "Each index has a
// reader–writer lock acquired at most once per transaction. Inserts take
// it in exclusive mode; queries take it in shared mode.").
//
// Grounded on heroiclabs-nakama's top-level orchestration style (a single
// exported type wiring narrower internal packages together, e.g.
// `server/match_registry.go`'s registry sitting atop the raw matchmaker/
// presence/tracker layers) rather than any one pack repo's index type,
// since none of the pack's search engines expose a single struct spanning
// build+insert+query+admin the way this spec's §6 surface requires.
package index

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tapidb/tapi/internal/bm25/build"
	"github.com/tapidb/tapi/internal/bm25/heap"
	"github.com/tapidb/tapi/internal/bm25/memtable"
	"github.com/tapidb/tapi/internal/bm25/metapage"
	"github.com/tapidb/tapi/internal/bm25/pagebuf"
	"github.com/tapidb/tapi/internal/bm25/recovery"
	"github.com/tapidb/tapi/internal/bm25/scorer"
	"github.com/tapidb/tapi/internal/bm25/segment"
	"github.com/tapidb/tapi/internal/bm25/stats"
	"github.com/tapidb/tapi/internal/bm25/tapierr"
	"github.com/tapidb/tapi/internal/bm25/threshold"
	"github.com/tapidb/tapi/internal/bm25/tid"
)

// Tokenizer is re-exported from package build so callers of package index
// don't need to import build directly just to supply one.
type Tokenizer = build.Tokenizer

// Config holds the per-index configuration options from spec §6.
type Config struct {
	TextConfigID uint32
	K1, B        float64
	Policy       threshold.Policy

	// Stats is optional; a nil Recorder records nothing.
	Stats *stats.Recorder
}

// Index is the top-level handle every CLI subcommand and integration test
// drives. One Index wraps one relation file.
type Index struct {
	mgr      pagebuf.Manager
	relation string
	tok      Tokenizer
	logger   *zap.Logger
	stats    *stats.Recorder

	mu   sync.RWMutex
	meta *metapage.Meta
	mt   *memtable.Memtable
	rec  *recovery.Chain
}

// Create initializes a brand-new, empty index on relation.
func Create(mgr pagebuf.Manager, relation string, cfg Config, tok Tokenizer, logger *zap.Logger) (*Index, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	meta, err := metapage.Init(mgr, relation, cfg.TextConfigID, cfg.K1, cfg.B)
	if err != nil {
		return nil, err
	}
	return &Index{
		mgr: mgr, relation: relation, tok: tok, logger: logger, stats: cfg.Stats,
		meta: meta, mt: memtable.New(),
		rec: recovery.Open(mgr, relation, pagebuf.PageHeaderSize, recovery.NoHead),
	}, nil
}

// Open loads an existing index and replays its TID-recovery chain to
// rebuild the memtable (spec §4.9 "Recovery (startup)"): every TID still
// in the chain is re-fetched from src and re-tokenized, since the
// memtable itself is volatile and the chain is its only durable record.
func Open(mgr pagebuf.Manager, relation string, src heap.Source, snapshot heap.Snapshot, tok Tokenizer, logger *zap.Logger) (*Index, error) {
	meta, err := metapage.Load(mgr, relation)
	if err != nil {
		return nil, err
	}
	mt := memtable.New()
	tids, err := recovery.Walk(mgr, relation, pagebuf.PageHeaderSize, meta.RecoveryHead)
	if err != nil {
		return nil, err
	}
	for _, t := range tids {
		tup, ok, err := src.Fetch(t, snapshot)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // tuple no longer live; nothing to replay
		}
		freqs, err := tok.Tokenize(tup.Text, meta.TextConfigID)
		if err != nil {
			return nil, err
		}
		var length uint32
		for _, tf := range freqs {
			mt.AddTerm(tf.Term, t, int32(tf.Freq))
			length += tf.Freq
		}
		mt.StoreDocLength(t, length)
	}
	if logger != nil {
		logger.Info("index: recovered memtable from TID chain", zap.Int("tids_replayed", len(tids)))
	}
	return &Index{
		mgr: mgr, relation: relation, tok: tok, logger: logger,
		meta: meta, mt: mt,
		rec: recovery.Open(mgr, relation, pagebuf.PageHeaderSize, meta.RecoveryHead),
	}, nil
}

// withPolicy falls back to the spec's default thresholds when a caller
// passes a zero-value Policy; the metapage doesn't persist thresholds
// itself (only corpus stats and BM25 params do, per spec §3), so a
// caller supplying its own Policy every call is the normal path, and a
// zero value only means "use the defaults," not "disable all checks."
func (ix *Index) withPolicy(p threshold.Policy) threshold.Policy {
	if p.MaxLevels == 0 {
		return threshold.NewDefault()
	}
	return p
}

// Build performs a full-table build (spec §6 `build(heap, [parallel_workers])`),
// either serial or parallel depending on parallelWorkers, and installs the
// resulting segment chain as L0.
func (ix *Index) Build(src heap.Source, snapshot heap.Snapshot, policy threshold.Policy, parallelWorkers int) (BuildResult, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	policy = ix.withPolicy(policy)
	var res build.Result
	var err error
	if parallelWorkers > 1 {
		extent, extErr := src.Extent(snapshot)
		if extErr != nil {
			return BuildResult{}, extErr
		}
		cfg := build.ParallelConfig{
			Workers:   parallelWorkers,
			BatchSize: batchSize(extent, parallelWorkers),
			PoolSize:  policy.PoolSize(int(extent), 64),
		}
		res, err = build.ParallelBuild(ix.mgr, ix.relation, src, ix.tok, ix.meta.TextConfigID, policy, cfg, snapshot, ix.logger)
	} else {
		res, err = build.Build(ix.mgr, ix.relation, src, ix.tok, ix.meta.TextConfigID, policy, snapshot, ix.logger)
	}
	if err != nil {
		return BuildResult{}, err
	}

	if res.SegmentCount > 0 {
		if err := ix.meta.ReplaceLevel(0, res.HeadSegment, uint32(res.SegmentCount)); err != nil {
			return BuildResult{}, err
		}
		ix.meta.TotalDocs += uint64(res.NumDocs)
	}
	if err := ix.meta.Save(ix.mgr, ix.relation); err != nil {
		return BuildResult{}, err
	}
	return BuildResult{IndexTuples: res.NumDocs}, nil
}

func batchSize(extent int64, workers int) int64 {
	b := extent / int64(workers*4)
	if b < 1 {
		b = 1
	}
	return b
}

// BuildResult mirrors spec §6's `IndexBuildResult{heap_tuples, index_tuples}`;
// heap_tuples is the caller's own responsibility to report (it already
// knows how many rows it fed the scan), so only index_tuples is returned
// here.
type BuildResult struct {
	IndexTuples uint32
}

// Insert adds one document (spec §6 `insert(TID, text) -> bool`),
// recording it in the TID-recovery chain before updating the memtable so
// a crash mid-insert is recoverable, then spills if the configured
// threshold is crossed.
func (ix *Index) Insert(t tid.TID, text string, policy threshold.Policy) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	policy = ix.withPolicy(policy)
	if err := ix.rec.Append(t); err != nil {
		return false, err
	}

	freqs, err := ix.tok.Tokenize(text, ix.meta.TextConfigID)
	if err != nil {
		return false, err
	}
	var length uint32
	for _, tf := range freqs {
		ix.mt.AddTerm(tf.Term, t, int32(tf.Freq))
		length += tf.Freq
	}
	ix.mt.StoreDocLength(t, length)
	ix.meta.TotalDocs++
	ix.meta.TotalTokens += uint64(length)

	if policy.ShouldSpill(ix.mt.TotalPostings(), len(freqs)) {
		if err := ix.spillLocked(policy); err != nil {
			return false, err
		}
	} else {
		ix.meta.RecoveryHead = ix.rec.Head()
		if err := ix.meta.Save(ix.mgr, ix.relation); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Scan runs a BM25 top-K query (spec §6 `scan(query_text, limit)`) across
// the live memtable and every on-disk segment.
func (ix *Index) Scan(queryText string, limit int) ([]scorer.Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	freqs, err := ix.tok.Tokenize(queryText, ix.meta.TextConfigID)
	if err != nil {
		return nil, err
	}
	queryFreq := make(map[string]int, len(freqs))
	for _, tf := range freqs {
		queryFreq[tf.Term] += int(tf.Freq)
	}
	if len(queryFreq) == 0 || limit <= 0 {
		return nil, nil
	}

	segments, err := ix.allSegments()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	results, segStats, err := scorer.Query(ix.mt, segments, queryFreq, limit, scorer.Params{K1: ix.meta.K1, B: ix.meta.B})
	ix.stats.QueryLatency(start)
	for _, s := range segStats {
		ix.stats.BlocksSkipped(s.BlocksSkipped)
		ix.stats.BlocksScored(s.BlocksVisited - s.BlocksSkipped)
	}
	return results, err
}

// allSegments opens every segment across every level, in level order
// (L0 first), for a full-index scan.
func (ix *Index) allSegments() ([]*segment.Reader, error) {
	var out []*segment.Reader
	for level := 0; level < metapage.MaxLevels; level++ {
		chain, err := ix.walkLevel(level)
		if err != nil {
			return nil, err
		}
		out = append(out, chain...)
	}
	return out, nil
}

// walkLevel opens every segment in level L's chain, bounding the walk by
// LevelCounts[L] to detect a corrupt cycle rather than looping forever
// (spec §9: "Validation on open is to detect cycles by bounding the walk
// length by level_counts[L]").
func (ix *Index) walkLevel(level int) ([]*segment.Reader, error) {
	head := ix.meta.LevelHeads[level]
	want := int(ix.meta.LevelCounts[level])
	var out []*segment.Reader
	block := head
	for block != metapage.NoSegment {
		if len(out) >= want {
			return nil, tapierr.Corruption("level chain longer than its recorded segment count", nil)
		}
		r, err := segment.Open(ix.mgr, ix.relation, pagebuf.PageHeaderSize, block)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
		block = r.Header.NextSegment
	}
	if len(out) != want {
		return nil, tapierr.Corruption("level chain shorter than its recorded segment count", nil)
	}
	return out, nil
}
