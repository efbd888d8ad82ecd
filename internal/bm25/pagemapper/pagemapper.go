// Package pagemapper translates logical byte offsets within a segment into
// (page, intra-page offset) pairs, per spec §4.3. Every segment read/write
// goes through this translation instead of hand-computing division.
package pagemapper

// Mapper divides a logical byte stream into fixed-size pages, each of which
// reserves PageHeaderSize bytes for the host buffer manager / page-index
// bookkeeping (see pagebuf.PageHeaderSize).
type Mapper struct {
	pageSize       int
	pageHeaderSize int
	dataPerPage    int
}

// New returns a Mapper for the given physical page size and per-page header
// reservation.
func New(pageSize, pageHeaderSize int) Mapper {
	return Mapper{
		pageSize:       pageSize,
		pageHeaderSize: pageHeaderSize,
		dataPerPage:    pageSize - pageHeaderSize,
	}
}

// DataPerPage is the usable byte capacity of one logical page.
func (m Mapper) DataPerPage() int { return m.dataPerPage }

// Locate returns the logical page number and intra-page offset holding
// logical offset off.
func (m Mapper) Locate(off int64) (page int64, intraOffset int) {
	page = off / int64(m.dataPerPage)
	intraOffset = int(off % int64(m.dataPerPage))
	return page, intraOffset
}

// BytesRemainingOnPage returns how many bytes remain in the page holding
// off, from off onward.
func (m Mapper) BytesRemainingOnPage(off int64) int {
	_, intraOffset := m.Locate(off)
	return m.dataPerPage - intraOffset
}

// FitsOnPage reports whether a write of length len starting at off stays
// within a single page.
func (m Mapper) FitsOnPage(off int64, length int) bool {
	return length <= m.BytesRemainingOnPage(off)
}

// PageCount returns the number of logical pages needed to hold a segment of
// the given logical byte size.
func (m Mapper) PageCount(size int64) int64 {
	if size == 0 {
		return 0
	}
	return (size + int64(m.dataPerPage) - 1) / int64(m.dataPerPage)
}
