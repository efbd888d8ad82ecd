// Package merge implements the N-way segment merge / compaction engine
// from spec §4.11: build a unified doc-ID mapping across same-level
// segments, then stream each term's postings from every source segment
// that carries it into a freshly block-compressed output segment.
//
// Grounded on heroiclabs-nakama's vendored bluge/bleve segment merge
// (xiaming9880-bleve's index/scorch/segment/zap/merge.go and
// blugelabs/bluge's index/merge.go): both decode one term's postings per
// source into memory, remap doc numbers, and re-emit fresh posting blocks,
// term by term, rather than holding an entire segment's postings in memory
// at once. This package keeps that per-term materialization shape; it
// differs by accumulating a term's postings across sources into one slice
// and sorting by new doc ID rather than running a second nested heap merge
// over per-source posting cursors, since a term rarely spans enough
// sources for the nested-heap's lower constant factor to matter, and the
// simpler path is easier to get right without running the toolchain to
// check it.
//
// The on-disk write sequence itself (header, dictionary, blocks, skip
// index, fieldnorms, CTID arrays, patch-back) lives in segwriter, shared
// with the spill path so the two procedures can't drift apart.
package merge

import (
	"sort"

	"github.com/tapidb/tapi/internal/bm25/block"
	"github.com/tapidb/tapi/internal/bm25/docmap"
	"github.com/tapidb/tapi/internal/bm25/fieldnorm"
	"github.com/tapidb/tapi/internal/bm25/pagebuf"
	"github.com/tapidb/tapi/internal/bm25/segment"
	"github.com/tapidb/tapi/internal/bm25/segwriter"
	"github.com/tapidb/tapi/internal/bm25/tapierr"
	"github.com/tapidb/tapi/internal/bm25/tid"
)

// Result is the outcome of merging N same-level segments into one.
type Result struct {
	RootBlock uint32
	NumDocs   uint32
	NumTerms  uint32
}

// droppedDoc marks a remapped doc ID as excluded from the merged output —
// used by index.VacuumCleanup to physically purge TIDs the host has
// reported dead (spec's coarse "VACUUM-style cleanup", not an incremental
// tombstone mechanism: a dropped TID simply never reappears in the
// merged segment).
const droppedDoc = ^uint32(0)

// Merge performs the merge described by spec §4.11 over sources (segments
// from the same level), writing the output segment's pages through mgr
// into relation, optionally drawing pages from pool (nil means allocate
// directly via mgr.Extend). compress selects bit-packed vs. raw posting
// blocks for the merged output, per threshold.Policy.CompressSegments.
// isLive, if supplied (at most one function is read), is consulted once
// per source TID; a TID it reports dead is dropped from the merged
// segment entirely rather than carried forward. Omitting isLive merges
// every source TID, matching a plain compaction.
func Merge(mgr pagebuf.Manager, relation string, sources []*segment.Reader, pool *segment.Pool, compress bool, isLive ...func(tid.TID) bool) (Result, error) {
	if len(sources) == 0 {
		return Result{}, tapierr.Misuse("merge requires at least one source segment")
	}
	var live func(tid.TID) bool
	if len(isLive) > 0 {
		live = isLive[0]
	}

	merged, remap, err := buildUnifiedDocmap(sources, live)
	if err != nil {
		return Result{}, err
	}

	mergedTerms, err := unionTerms(sources)
	if err != nil {
		return Result{}, err
	}

	postingsByTerm := make(map[string][]block.Posting, len(mergedTerms))
	for _, term := range mergedTerms {
		postings, err := mergeTermPostings(sources, remap, merged, term)
		if err != nil {
			return Result{}, err
		}
		postingsByTerm[term] = postings
	}

	res, err := segwriter.WriteFromTerms(mgr, relation, pool, mergedTerms, postingsByTerm, merged, compress)
	if err != nil {
		return Result{}, err
	}
	return Result{RootBlock: res.RootBlock, NumDocs: res.NumDocs, NumTerms: res.NumTerms}, nil
}

// buildUnifiedDocmap reads every source's (TID, fieldnorm) arrays, dedupes
// by TID (first-wins, via docmap.Builder), drops any TID isLive reports
// dead, and returns the finalized map plus each source's old-doc-id ->
// new-doc-id lookup array (spec §4.11). A dropped TID's remap entry is
// droppedDoc, a sentinel mergeTermPostings skips.
func buildUnifiedDocmap(sources []*segment.Reader, isLive func(tid.TID) bool) (*docmap.Map, [][]uint32, error) {
	builder := docmap.New()
	perSourceTIDs := make([][]tid.TID, len(sources))
	perSourceLive := make([][]bool, len(sources))

	for si, r := range sources {
		tids := make([]tid.TID, r.Header.NumDocs)
		alive := make([]bool, r.Header.NumDocs)
		for docID := uint32(0); docID < r.Header.NumDocs; docID++ {
			t, err := r.LookupCTID(docID)
			if err != nil {
				return nil, nil, err
			}
			tids[docID] = t
			if isLive != nil && !isLive(t) {
				alive[docID] = false
				continue
			}
			normCode, err := r.Fieldnorm(docID)
			if err != nil {
				return nil, nil, err
			}
			alive[docID] = true
			builder.Add(t, fieldnorm.Decode(normCode))
		}
		perSourceTIDs[si] = tids
		perSourceLive[si] = alive
	}

	merged, err := builder.Finalize(fieldnorm.Encode)
	if err != nil {
		return nil, nil, err
	}

	remap := make([][]uint32, len(sources))
	for si, tids := range perSourceTIDs {
		remap[si] = make([]uint32, len(tids))
		for oldID, t := range tids {
			if !perSourceLive[si][oldID] {
				remap[si][oldID] = droppedDoc
				continue
			}
			newID, ok := merged.Lookup(t)
			if !ok {
				return nil, nil, tapierr.Corruption("merge: source TID missing from unified docmap", nil)
			}
			remap[si][oldID] = newID
		}
	}
	return merged, remap, nil
}

// unionTerms merges every source's sorted term list into one sorted,
// deduplicated list — the outer term-merge pass's driving set, computed
// up front so the dictionary's string pool (which must be written before
// any postings) can be encoded in one shot.
func unionTerms(sources []*segment.Reader) ([]string, error) {
	seen := make(map[string]struct{})
	var all []string
	for _, r := range sources {
		terms, err := r.Terms()
		if err != nil {
			return nil, err
		}
		for _, t := range terms {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				all = append(all, t)
			}
		}
	}
	sort.Strings(all)
	return all, nil
}

// mergeTermPostings gathers term's postings from every source that has it,
// remaps each posting's doc ID through that source's old->new lookup, and
// resolves any (term, new doc ID) collision across sources by keeping the
// maximum frequency (spec §8 property 7). The result is sorted ascending
// by new doc ID, ready to be chunked into fresh blocks.
func mergeTermPostings(sources []*segment.Reader, remap [][]uint32, merged *docmap.Map, term string) ([]block.Posting, error) {
	byDoc := make(map[uint32]uint16)

	for si, r := range sources {
		it, err := r.InitPostingIterator(term)
		if err != nil {
			return nil, err
		}
		for {
			p, ok, err := it.Next()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			newID := remap[si][p.DocID]
			if newID == droppedDoc {
				continue
			}
			if existing, found := byDoc[newID]; !found || p.Freq > existing {
				byDoc[newID] = p.Freq
			}
		}
	}

	out := make([]block.Posting, 0, len(byDoc))
	for docID, freq := range byDoc {
		out = append(out, block.Posting{
			DocID: docID,
			Freq:  freq,
			Norm:  merged.Fieldnorms[docID],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}
