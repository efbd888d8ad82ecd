package scorer

import (
	"sort"

	"github.com/tapidb/tapi/internal/bm25/fieldnorm"
	"github.com/tapidb/tapi/internal/bm25/segment"
	"github.com/tapidb/tapi/internal/bm25/tapierr"
)

// SegmentStats tracks how much BMW pruning a query achieved, surfaced for
// diagnostics/tests (spec §8 scenario E: "count skipped blocks > 0").
type SegmentStats struct {
	BlocksVisited int
	BlocksSkipped int
}

// scoreSingleTermSegment implements spec §4.10's single-term path: for each
// block, compute the block-max upper bound; skip the block outright when
// it can't beat the current threshold, otherwise score every posting.
func scoreSingleTermSegment(r *segment.Reader, term string, queryFreq float64, idf float64, avgdl, k1, b float64, h *topKHeap, stats *SegmentStats) error {
	it, err := r.InitPostingIterator(term)
	if err != nil {
		return err
	}
	if it.Finished() {
		return nil
	}
	for i := 0; i < it.NumBlocks(); i++ {
		se := it.Skips()[i]
		dlMin := float64(fieldnorm.Decode(se.BlockMaxNorm))
		bmax := queryFreq * BlockMaxScore(idf, se.BlockMaxTF, dlMin, avgdl, k1, b)
		if h.Full() && bmax <= h.Threshold() {
			stats.BlocksSkipped++
			continue
		}
		stats.BlocksVisited++
		postings, err := it.BlockPostings(i)
		if err != nil {
			return err
		}
		for _, p := range postings {
			dl := float64(fieldnorm.Decode(p.Norm))
			score := queryFreq * Score(idf, p.Freq, dl, avgdl, k1, b)
			if !h.Full() || score > h.Threshold() {
				ctid, err := r.LookupCTID(p.DocID)
				if err != nil {
					return err
				}
				h.Offer(Result{TID: ctid, Score: score})
			}
		}
	}
	return nil
}

type wandTerm struct {
	term      string
	it        *segment.PostingIterator
	idf       float64
	queryFreq float64
	maxScore  float64 // queryFreq * max over all blocks of BlockMaxScore
}

// scoreMultiTermSegmentWAND implements a WAND top-K pass over one
// segment's term iterators, bounded by each term's global (not per-block)
// max score. This is a deliberate simplification of spec §4.10 step 7's
// tighter per-block refinement: a global bound is still a valid upper
// bound, so the result set is identical to exhaustive scoring, just with
// less aggressive pruning than the fully block-max-refined variant.
func scoreMultiTermSegmentWAND(r *segment.Reader, terms []string, queryFreq map[string]float64, idf map[string]float64, avgdl, k1, b float64, h *topKHeap, stats *SegmentStats) error {
	var active []*wandTerm
	for _, term := range terms {
		it, err := r.InitPostingIterator(term)
		if err != nil {
			return err
		}
		if it.Finished() {
			continue
		}
		var maxScore float64
		for _, se := range it.Skips() {
			dlMin := float64(fieldnorm.Decode(se.BlockMaxNorm))
			m := BlockMaxScore(idf[term], se.BlockMaxTF, dlMin, avgdl, k1, b)
			if m > maxScore {
				maxScore = m
			}
		}
		active = append(active, &wandTerm{
			term:      term,
			it:        it,
			idf:       idf[term],
			queryFreq: queryFreq[term],
			maxScore:  queryFreq[term] * maxScore,
		})
	}
	if len(active) == 0 {
		return nil
	}
	if len(active) == 1 {
		t := active[0]
		return scoreSingleTermSegment(r, t.term, t.queryFreq, t.idf, avgdl, k1, b, h, stats)
	}

	for {
		live := active[:0:0]
		for _, t := range active {
			if t.it.CurrentDocID() != segment.ExhaustedDocID {
				live = append(live, t)
			}
		}
		active = live
		if len(active) == 0 {
			return nil
		}
		sort.Slice(active, func(i, j int) bool { return active[i].it.CurrentDocID() < active[j].it.CurrentDocID() })

		threshold := h.Threshold()
		acc := 0.0
		pivotIdx := -1
		for i, t := range active {
			acc += t.maxScore
			if acc > threshold {
				pivotIdx = i
				break
			}
		}
		if pivotIdx == -1 {
			return nil
		}
		pivotDocID := active[pivotIdx].it.CurrentDocID()

		// active is sorted ascending by CurrentDocID, but ties with
		// pivotDocID aren't bounded by pivotIdx: the prefix-sum break can
		// land in the middle of a run of equal docIDs, so every term
		// sharing pivotDocID — not just 0..pivotIdx — must be aligned,
		// scored, and advanced together, or its contribution is silently
		// dropped and it's left stuck at an already-emitted doc.
		end := pivotIdx + 1
		for end < len(active) && active[end].it.CurrentDocID() == pivotDocID {
			end++
		}

		aligned := true
		for i := 0; i < end; i++ {
			if active[i].it.CurrentDocID() != pivotDocID {
				aligned = false
				break
			}
		}

		if aligned {
			var score float64
			for i := 0; i < end; i++ {
				t := active[i]
				p, ok, err := t.it.Next()
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				dl := float64(fieldnorm.Decode(p.Norm))
				score += t.queryFreq * Score(t.idf, p.Freq, dl, avgdl, k1, b)
			}
			if !h.Full() || score > h.Threshold() {
				ctid, err := r.LookupCTID(pivotDocID)
				if err != nil {
					return err
				}
				h.Offer(Result{TID: ctid, Score: score})
			}
		} else {
			for i := 0; i < pivotIdx; i++ {
				if active[i].it.CurrentDocID() < pivotDocID {
					if _, _, err := active[i].it.Seek(pivotDocID); err != nil {
						return err
					}
				}
			}
		}
	}
}

var errNoTerms = tapierr.Misuse("query has no terms")
