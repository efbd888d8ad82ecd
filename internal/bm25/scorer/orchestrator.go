// See bm25.go and wand.go for the scoring formula and per-segment BMW
// walk; this file is the top-level entry that spec §2/§9 calls "scoring
// orchestration": unify memtable + segments into one top-K heap.
package scorer

import (
	"github.com/tapidb/tapi/internal/bm25/memtable"
	"github.com/tapidb/tapi/internal/bm25/segment"
	"github.com/tapidb/tapi/internal/bm25/tid"
)

// Params bundles the BM25 configuration a query runs under.
type Params struct {
	K1 float64
	B  float64
}

// Query scores queryFreq (term → frequency within the query text) across
// the memtable and every given segment, returning the top K (TID, score)
// pairs in non-increasing score order (ties by ascending TID), plus
// per-segment block-visit stats for diagnostics.
func Query(mt *memtable.Memtable, segments []*segment.Reader, queryFreq map[string]int, k int, p Params) ([]Result, []SegmentStats, error) {
	if len(queryFreq) == 0 || k <= 0 {
		return nil, nil, errNoTerms
	}

	terms := make([]string, 0, len(queryFreq))
	for t := range queryFreq {
		terms = append(terms, t)
	}

	var totalDocs uint64
	var totalTokens uint64
	if mt != nil {
		totalDocs += uint64(mt.NumDocs())
		totalTokens += mt.TotalLen()
	}
	for _, r := range segments {
		totalDocs += uint64(r.Header.NumDocs)
		totalTokens += r.Header.TotalTokens
	}
	avgdl := 0.0
	if totalDocs > 0 {
		avgdl = float64(totalTokens) / float64(totalDocs)
	}

	idf := make(map[string]float64, len(terms))
	qf := make(map[string]float64, len(terms))
	for _, term := range terms {
		var df uint64
		if mt != nil {
			df += uint64(mt.DocFreq(term))
		}
		for _, r := range segments {
			if entry, found, err := r.LookupTerm(term); err == nil && found {
				df += uint64(entry.DocFreq)
			}
		}
		idf[term] = IDF(totalDocs, df)
		qf[term] = float64(queryFreq[term])
	}

	h := NewTopK(k)

	if mt != nil {
		scoreMemtableExhaustive(mt, terms, qf, idf, avgdl, p.K1, p.B, h)
	}

	stats := make([]SegmentStats, len(segments))
	for i, r := range segments {
		var err error
		if len(terms) == 1 {
			err = scoreSingleTermSegment(r, terms[0], qf[terms[0]], idf[terms[0]], avgdl, p.K1, p.B, h, &stats[i])
		} else {
			err = scoreMultiTermSegmentWAND(r, terms, qf, idf, avgdl, p.K1, p.B, h, &stats[i])
		}
		if err != nil {
			return nil, nil, err
		}
	}

	return h.Results(), stats, nil
}

// scoreMemtableExhaustive scores every term against the memtable exactly
// (no block structure exists to prune), aggregating term frequency per TID
// before applying BM25 so repeated postings for the same (term, TID) don't
// distort the formula (spec §4.10 step 2).
func scoreMemtableExhaustive(mt *memtable.Memtable, terms []string, qf, idf map[string]float64, avgdl, k1, b float64, h *topKHeap) {
	byTID := make(map[tid.TID]float64)
	for _, term := range terms {
		postings, ok := mt.GetPostings(term)
		if !ok {
			continue
		}
		freqSum := make(map[tid.TID]int32)
		for _, post := range postings {
			freqSum[post.TID] += post.Freq
		}
		for t, tf := range freqSum {
			dl, _ := mt.GetDocLength(t)
			s := Score(idf[term], uint16(tf), float64(dl), avgdl, k1, b)
			byTID[t] += qf[term] * s
		}
	}
	for t, score := range byTID {
		h.Offer(Result{TID: t, Score: score})
	}
}
