package index

import (
	"sort"

	"github.com/RoaringBitmap/roaring"
	"go.uber.org/zap"

	"github.com/tapidb/tapi/internal/bm25/block"
	"github.com/tapidb/tapi/internal/bm25/docmap"
	"github.com/tapidb/tapi/internal/bm25/fieldnorm"
	"github.com/tapidb/tapi/internal/bm25/memtable"
	"github.com/tapidb/tapi/internal/bm25/merge"
	"github.com/tapidb/tapi/internal/bm25/metapage"
	"github.com/tapidb/tapi/internal/bm25/pagebuf"
	"github.com/tapidb/tapi/internal/bm25/recovery"
	"github.com/tapidb/tapi/internal/bm25/segment"
	"github.com/tapidb/tapi/internal/bm25/segwriter"
	"github.com/tapidb/tapi/internal/bm25/tapierr"
	"github.com/tapidb/tapi/internal/bm25/threshold"
	"github.com/tapidb/tapi/internal/bm25/tid"
)

// writeSegmentFromMemtable mirrors build.spillMemtable's write sequence
// (same grounding: `src/am/build.c`'s spill path, via segwriter) but lives
// here rather than being imported from package build, since build's
// version is unexported and index has no reason to depend on build except
// for the Build/ParallelBuild entry points.
func writeSegmentFromMemtable(mgr pagebuf.Manager, relation string, mt *memtable.Memtable, compress bool) (*segment.Reader, error) {
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
				return nil, tapierr.Corruption("index: memtable TID missing from spill docmap", nil)
			}
			postings = append(postings, block.Posting{DocID: newID, Freq: uint16(p.Freq), Norm: dm.Fieldnorms[newID]})
		}
		sort.Slice(postings, func(a, b int) bool { return postings[a].DocID < postings[b].DocID })
		postingsByTerm[st.Term] = postings
	}

	res, err := segwriter.WriteFromTerms(mgr, relation, nil, terms, postingsByTerm, dm, compress)
	if err != nil {
		return nil, err
	}
	return segment.Open(mgr, relation, pagebuf.PageHeaderSize, res.RootBlock)
}

// spillLocked flushes the memtable to a fresh L0 segment and chains it
// ahead of the existing L0 head (the new segment's NextSegment points at
// the old head, so the newest segment is always a level's head — spec
// §4.8), truncating the recovery chain since its TIDs are now durable
// inside the segment itself. Caller must hold ix.mu.
func (ix *Index) spillLocked(policy threshold.Policy) error {
	r, err := writeSegmentFromMemtable(ix.mgr, ix.relation, ix.mt, policy.CompressSegments)
	if err != nil {
		return err
	}
	if r == nil {
		return nil
	}

	oldHead := ix.meta.LevelHeads[0]
	if oldHead != metapage.NoSegment {
		if err := segwriter.LinkNext(ix.mgr, ix.relation, r.PageBlocks(), oldHead); err != nil {
			return err
		}
	}
	if err := ix.meta.LinkSegment(0, r.RootBlock); err != nil {
		return err
	}

	ix.mt.Clear()
	ix.rec.Clear()
	ix.meta.RecoveryHead = recovery.NoHead
	if err := ix.meta.Save(ix.mgr, ix.relation); err != nil {
		return err
	}
	if ix.logger != nil {
		ix.logger.Info("index: spilled memtable", zap.Uint32("segment_root", r.RootBlock), zap.Uint32("num_docs", r.Header.NumDocs))
	}
	ix.stats.Spill()
	return ix.maybeCompact(0, policy)
}

// Spill forces a memtable flush regardless of threshold (spec §6's admin
// "spill" operation).
func (ix *Index) Spill(policy threshold.Policy) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.mt.NumDocs() == 0 {
		return nil
	}
	return ix.spillLocked(ix.withPolicy(policy))
}

// maybeCompact triggers a merge of level if it has crossed its
// segments-per-level threshold, recursing into level+1 if the merge's
// output pushes that level over threshold too (spec §4.11 "Recursion").
func (ix *Index) maybeCompact(level int, policy threshold.Policy) error {
	if level >= metapage.MaxLevels-1 {
		return nil
	}
	if !policy.ShouldCompact(int(ix.meta.LevelCounts[level])) {
		return nil
	}
	return ix.mergeLocked(level, policy, nil)
}

// Merge compacts every segment at level into one and promotes the result
// to level+1 (spec §6's admin "merge(level)" operation).
func (ix *Index) Merge(level int, policy threshold.Policy) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.mergeLocked(level, ix.withPolicy(policy), nil)
}

// mergeLocked does the actual compaction work shared by Merge, the
// recursive cascade in maybeCompact, and BulkDelete/VacuumCleanup's
// purge pass (which supplies isLive to drop dead TIDs as a side effect
// of the merge rather than as a separate pass).
func (ix *Index) mergeLocked(level int, policy threshold.Policy, isLive func(tid.TID) bool) error {
	sources, err := ix.walkLevel(level)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return nil
	}

	var res merge.Result
	if isLive != nil {
		res, err = merge.Merge(ix.mgr, ix.relation, sources, nil, policy.CompressSegments, isLive)
	} else {
		res, err = merge.Merge(ix.mgr, ix.relation, sources, nil, policy.CompressSegments)
	}
	if err != nil {
		return err
	}

	if err := ix.meta.ClearLevel(level); err != nil {
		return err
	}
	if res.NumDocs > 0 {
		if err := ix.meta.LinkSegment(level+1, res.RootBlock); err != nil {
			return err
		}
	}
	if err := ix.meta.Save(ix.mgr, ix.relation); err != nil {
		return err
	}
	if ix.logger != nil {
		ix.logger.Info("index: merged level",
			zap.Int("level", level), zap.Uint32("output_root", res.RootBlock), zap.Uint32("num_docs", res.NumDocs))
	}
	ix.stats.Compaction(level)
	return ix.maybeCompact(level+1, policy)
}

// VacuumStats reports how many documents a BulkDelete/VacuumCleanup pass
// examined and physically dropped, mirroring spec §6's vacuum result.
type VacuumStats struct {
	DocsExamined int
	DocsDropped  int
}

// BulkDelete scans every on-disk segment, calling isDead(TID) to test
// liveness against the host table, and purges dead TIDs by merging every
// non-empty level through isLive's complement, top level first so each
// merge's output (which lands one level up) is not merged and counted a
// second time. The top level (MaxLevels-1) has no level above it to merge
// into, so its segments are not rewritten or purged — spec's coarse
// "VACUUM-style cleanup" (Non-goals: "no incremental per-delete
// tombstones", so there's no persisted drop set between calls). The
// memtable's own dead TIDs are simply never re-added; they drop out
// naturally the next time it's spilled, since a host that reports a TID
// dead here has already stopped returning it from heap scans too.
func (ix *Index) BulkDelete(isDead func(tid.TID) bool) (VacuumStats, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	vstats := VacuumStats{}
	isLive := func(t tid.TID) bool {
		vstats.DocsExamined++
		if isDead(t) {
			vstats.DocsDropped++
			return false
		}
		return true
	}

	for level := metapage.MaxLevels - 2; level >= 0; level-- {
		if ix.meta.LevelCounts[level] == 0 {
			continue
		}
		if err := ix.mergeLocked(level, ix.withPolicy(threshold.Policy{}), isLive); err != nil {
			return vstats, err
		}
	}
	return vstats, nil
}

// VacuumCleanup is BulkDelete driven by a liveness snapshot rather than a
// per-call predicate (spec §6's admin "vacuum_cleanup()" entry point, run
// periodically without the host tracking individual deletions itself):
// liveTIDs names every TID the host table currently still holds, folded
// into a roaring.Bitmap keyed by tidKey so a multi-million-row snapshot
// stays compact during the scan.
func (ix *Index) VacuumCleanup(liveTIDs []tid.TID) (VacuumStats, error) {
	bm := roaring.New()
	for _, t := range liveTIDs {
		bm.Add(tidKey(t))
	}
	return ix.BulkDelete(func(t tid.TID) bool {
		return !bm.Contains(tidKey(t))
	})
}

// tidKey folds a TID's (block, offset) pair into roaring's uint32 domain.
// A real ctid offset never exceeds a few hundred, so XOR-ing an odd
// multiplicative mix of it (spread across all 32 bits) into block keeps
// collisions rare without needing a 64-bit bitmap variant.
func tidKey(t tid.TID) uint32 {
	return t.Block ^ (uint32(t.Offset) * 0x9E3779B9)
}
