package block

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	cases := [][]Posting{
		nil,
		{{DocID: 5, Freq: 1, Norm: 10}},
		{{DocID: 1, Freq: 1, Norm: 0}, {DocID: 2, Freq: 300, Norm: 255}, {DocID: 1000, Freq: 0, Norm: 7}},
	}
	for _, postings := range cases {
		data, err := Compress(postings)
		require.NoError(t, err)
		got, err := Decompress(data, len(postings), 0)
		require.NoError(t, err)
		require.Equal(t, postings, got)
	}
}

func TestCompressDecompressRandomBlocks(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		n := r.Intn(MaxPostingsPerBlock) + 1
		postings := make([]Posting, n)
		docID := uint32(0)
		for i := range postings {
			docID += uint32(r.Intn(5000) + 1)
			postings[i] = Posting{
				DocID: docID,
				Freq:  uint16(r.Intn(65536)),
				Norm:  uint8(r.Intn(256)),
			}
		}
		data, err := Compress(postings)
		require.NoError(t, err)
		require.LessOrEqual(t, len(data), MaxCompressedSize)
		got, err := Decompress(data, n, 0)
		require.NoError(t, err)
		require.Equal(t, postings, got)
	}
}

func TestCompressRejectsUnsortedPostings(t *testing.T) {
	_, err := Compress([]Posting{{DocID: 5}, {DocID: 5}})
	require.Error(t, err)
	_, err = Compress([]Posting{{DocID: 5}, {DocID: 3}})
	require.Error(t, err)
}

func TestCompressRejectsOversizedBlock(t *testing.T) {
	postings := make([]Posting, MaxPostingsPerBlock+1)
	for i := range postings {
		postings[i].DocID = uint32(i + 1)
	}
	_, err := Compress(postings)
	require.Error(t, err)
}

func TestDecompressDetectsTruncation(t *testing.T) {
	postings := []Posting{{DocID: 1, Freq: 1}, {DocID: 2000000, Freq: 500}}
	data, err := Compress(postings)
	require.NoError(t, err)
	_, err = Decompress(data[:len(data)-3], len(postings), 0)
	require.Error(t, err)
}

func TestMaxCompressedSizeBound(t *testing.T) {
	require.LessOrEqual(t, MaxCompressedSize, 900)
}
