package pagemapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocateAndRemaining(t *testing.T) {
	m := New(8192, 24) // dataPerPage = 8168
	page, off := m.Locate(0)
	assert.Equal(t, int64(0), page)
	assert.Equal(t, 0, off)

	page, off = m.Locate(8168)
	assert.Equal(t, int64(1), page)
	assert.Equal(t, 0, off)

	page, off = m.Locate(8168 + 100)
	assert.Equal(t, int64(1), page)
	assert.Equal(t, 100, off)

	assert.Equal(t, 8168-100, m.BytesRemainingOnPage(8168+100))
	assert.True(t, m.FitsOnPage(8168+100, 8168-100))
	assert.False(t, m.FitsOnPage(8168+100, 8168-99))
}

func TestPageCount(t *testing.T) {
	m := New(8192, 24)
	assert.Equal(t, int64(0), m.PageCount(0))
	assert.Equal(t, int64(1), m.PageCount(1))
	assert.Equal(t, int64(1), m.PageCount(8168))
	assert.Equal(t, int64(2), m.PageCount(8169))
}

func TestEveryOffsetBelowDataSizeMapsToValidPage(t *testing.T) {
	m := New(512, 16) // dataPerPage = 496
	const dataSize = 496*5 + 37
	pages := m.PageCount(dataSize)
	for off := int64(0); off < dataSize; off += 13 {
		page, intra := m.Locate(off)
		assert.GreaterOrEqual(t, page, int64(0))
		assert.Less(t, page, pages)
		assert.GreaterOrEqual(t, intra, 0)
		assert.Less(t, intra, m.DataPerPage())
	}
}
