// Package scorer implements the BM25 scoring formula and the block-max
// WAND (BMW) top-K retrieval algorithm from spec §4.10, unifying the
// memtable (scored exhaustively, no block structure) and zero or more
// on-disk segments (scored with block-max pruning and skip-seeking) into
// one top-K heap.
//
// Grounded on salvatore-campagna-go-playground/weaviate's
// engine/engine.go, whose heap-based multi-term query engine walks
// posting-list iterators and merges partial scores through a min-heap;
// this package keeps that shape but swaps weaviate's TF-IDF accumulation
// for BM25 with explicit block-max bounds and WAND pivoting, since the
// domain's term frequencies already live in block-compressed posting
// lists rather than an in-memory inverted index.
package scorer

import "math"

// IDF computes the inverse document frequency term for the unified
// (memtable + segments) document frequency df out of N total documents
// (spec §4.10).
func IDF(n, df uint64) float64 {
	return math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
}

// LengthNorm computes BM25's length-normalization factor for a document of
// length dl against corpus average avgdl.
func LengthNorm(b, dl, avgdl float64) float64 {
	if avgdl <= 0 {
		return 1 - b
	}
	return 1 - b + b*(dl/avgdl)
}

// Score computes bm25(t, d) for a single term/document pair.
func Score(idf float64, tf uint16, dl float64, avgdl, k1, b float64) float64 {
	if tf == 0 {
		return 0
	}
	lenNorm := LengthNorm(b, dl, avgdl)
	return idf * (float64(tf) * (k1 + 1)) / (float64(tf) + k1*lenNorm)
}

// BlockMaxScore computes the BMW upper bound for a block whose maximum
// term frequency is blockMaxTF and whose minimum document length (best
// case for BM25, since shorter documents score higher) is dlMin.
func BlockMaxScore(idf float64, blockMaxTF uint16, dlMin float64, avgdl, k1, b float64) float64 {
	return Score(idf, blockMaxTF, dlMin, avgdl, k1, b)
}
