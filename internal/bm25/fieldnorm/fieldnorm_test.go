package fieldnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExactRoundTripSmallLengths(t *testing.T) {
	for x := uint32(0); x < exactRange; x++ {
		require.Equal(t, x, Decode(Encode(x)), "length %d should round-trip exactly", x)
	}
}

func TestEncodeDecodeIsIdempotentOverCodes(t *testing.T) {
	for c := 0; c < tableSize; c++ {
		code := uint8(c)
		assert.Equal(t, code, Encode(Decode(code)), "code %d should round-trip through decode/encode", code)
	}
}

func TestEncodeIsMonotonicNondecreasing(t *testing.T) {
	prev := Encode(0)
	for x := uint32(1); x < 5_000_000; x += 997 {
		cur := Encode(x)
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestDecodeNeverOverestimates(t *testing.T) {
	for x := uint32(0); x < 2_000_000; x += 131 {
		assert.LessOrEqual(t, Decode(Encode(x)), x)
	}
}

func TestRelativeErrorBoundForLargeLengths(t *testing.T) {
	for x := uint32(100); x < 10_000_000; x += 2_003 {
		approx := Decode(Encode(x))
		relErr := float64(x-approx) / float64(x)
		assert.Lessf(t, relErr, 0.15, "length %d decoded to %d, relative error %.4f", x, approx, relErr)
	}
}

func TestDecodeTableStrictlyIncreasing(t *testing.T) {
	for c := 1; c < tableSize; c++ {
		assert.Greater(t, table[c], table[c-1])
	}
}
