package merge

import "github.com/tapidb/tapi/internal/bm25/block"

// maxFreq and minNorm compute a block's skip-entry summary fields; kept
// here (rather than only in segwriter) since the test segment-building
// helper in this package constructs segments directly, the same way
// segment_test.go and scorer_test.go do, without going through segwriter.

func maxFreq(postings []block.Posting) uint16 {
	var m uint16
	for _, p := range postings {
		if p.Freq > m {
			m = p.Freq
		}
	}
	return m
}

func minNorm(postings []block.Posting) uint8 {
	m := postings[0].Norm
	for _, p := range postings {
		if p.Norm < m {
			m = p.Norm
		}
	}
	return m
}

func encodeU32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func encodeU16(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}
