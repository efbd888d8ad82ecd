// Package fieldnorm implements the 256-entry lossy length codec described in
// spec §4.1. One byte per document is enough for BM25's length
// normalization term, which only cares about length on a coarse scale.
package fieldnorm

import "sort"

// tableSize is fixed: a fieldnorm code is always one byte.
const tableSize = 256

// exactRange is the number of small lengths that round-trip exactly.
const exactRange = 40

// table[c] is the decoded document length for code c. Entries 0..39 decode
// to themselves; beyond that the step grows so the table still spans
// realistic document lengths in 256 codes while keeping relative error
// under 15% for lengths >= 100.
var table [tableSize]uint32

func init() {
	for c := 0; c < exactRange; c++ {
		table[c] = uint32(c)
	}
	// From 40 onward, grow each entry by a fraction of the previous value
	// (~7.4%), which keeps consecutive-code relative error comfortably
	// under 15% while reaching lengths of about two hundred million by code 255.
	v := float64(exactRange)
	for c := exactRange; c < tableSize; c++ {
		v *= 1.0 + 1.0/13.5
		table[c] = uint32(v)
		if table[c] <= table[c-1] {
			table[c] = table[c-1] + 1
		}
	}
}

// Decode returns the document length a code stands for.
func Decode(code uint8) uint32 {
	return table[code]
}

// Encode returns the largest code whose decoded value is <= length. Encode
// is monotonic non-decreasing and Decode(Encode(x)) <= x for all x.
func Encode(length uint32) uint8 {
	if length >= table[tableSize-1] {
		return tableSize - 1
	}
	// sort.Search finds the first index i with table[i] > length; the
	// largest code with table[code] <= length is one less than that,
	// floored at 0.
	i := sort.Search(tableSize, func(i int) bool { return table[i] > length })
	if i == 0 {
		return 0
	}
	return uint8(i - 1)
}
