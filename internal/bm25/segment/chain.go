package segment

import (
	"fmt"

	"github.com/tapidb/tapi/internal/bm25/pagebuf"
	"github.com/tapidb/tapi/internal/bm25/tapierr"
)

// WalkChain follows a level's forward-only segment linked list starting at
// head (a root block, or NoNextSegment for an empty level) and returns the
// root blocks in chain order. A positive maxLen (a level's recorded count)
// turns a longer chain, such as a cycle, into a Corruption error (spec §9
// "cyclic or back-pointer graphs"). Nothing in the repository calls it;
// index walks its levels with its own loop.
func WalkChain(mgr pagebuf.Manager, relation string, pageHeaderSize int, head uint32, maxLen int) ([]uint32, error) {
	var out []uint32
	block := head
	for block != NoNextSegment {
		if maxLen > 0 && len(out) >= maxLen {
			return nil, tapierr.Corruption("segment chain longer than metapage's recorded level count (possible cycle)", nil)
		}
		buf, err := mgr.Read(relation, block)
		if err != nil {
			return nil, tapierr.Corruption(fmt.Sprintf("reading segment root block %d", block), err)
		}
		mgr.Lock(buf, pagebuf.LockShared)
		h, err := DecodeHeader(buf.Bytes())
		mgr.Unlock(buf, pagebuf.LockShared)
		mgr.Unpin(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, block)
		block = h.NextSegment
	}
	return out, nil
}
