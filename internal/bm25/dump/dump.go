// Package dump renders an index's on-disk structures as human-readable
// text for the `tapi dump` subcommand (spec §3's admin surface): the
// metapage's corpus stats and level heads, and a single segment's header,
// dictionary, and page map.
//
// Grounded on timescale/pg_textsearch's own pageinspect-style debug
// dumping (original_source/'s `src/debug.c`), rendered here with Go's
// text/tabwriter the way heroiclabs-nakama formats its own `nakama
// migrate status` and console table output (`cmd/migrate.go`).
package dump

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/tapidb/tapi/internal/bm25/metapage"
	"github.com/tapidb/tapi/internal/bm25/pagebuf"
	"github.com/tapidb/tapi/internal/bm25/segment"
)

// Metapage writes a field-by-field rendering of m to w.
func Metapage(w io.Writer, m *metapage.Meta) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "magic:\t%#x\n", m.Magic)
	fmt.Fprintf(tw, "version:\t%d\n", m.Version)
	fmt.Fprintf(tw, "text_config_id:\t%d\n", m.TextConfigID)
	fmt.Fprintf(tw, "k1:\t%.3f\n", m.K1)
	fmt.Fprintf(tw, "b:\t%.3f\n", m.B)
	fmt.Fprintf(tw, "total_docs:\t%d\n", m.TotalDocs)
	fmt.Fprintf(tw, "total_tokens:\t%d\n", m.TotalTokens)
	fmt.Fprintf(tw, "recovery_head:\t%#x\n", m.RecoveryHead)
	for level := 0; level < metapage.MaxLevels; level++ {
		if m.LevelCounts[level] == 0 {
			continue
		}
		fmt.Fprintf(tw, "level[%d]:\thead=%#x count=%d\n", level, m.LevelHeads[level], m.LevelCounts[level])
	}
	return tw.Flush()
}

// Segment writes a field-by-field rendering of one segment's header,
// dictionary term list, and physical page map to w.
func Segment(w io.Writer, mgr pagebuf.Manager, relation string, rootBlock uint32) error {
	r, err := segment.Open(mgr, relation, pagebuf.PageHeaderSize, rootBlock)
	if err != nil {
		return err
	}
	defer r.Close()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	h := r.Header
	fmt.Fprintf(tw, "root_block:\t%d\n", rootBlock)
	fmt.Fprintf(tw, "level:\t%d\n", h.Level)
	fmt.Fprintf(tw, "text_config_id:\t%d\n", h.TextConfigID)
	fmt.Fprintf(tw, "num_docs:\t%d\n", h.NumDocs)
	fmt.Fprintf(tw, "total_tokens:\t%d\n", h.TotalTokens)
	fmt.Fprintf(tw, "num_terms:\t%d\n", h.NumTerms)
	fmt.Fprintf(tw, "page_count:\t%d\n", h.PageCount)
	if h.NextSegment == segment.NoNextSegment {
		fmt.Fprintf(tw, "next_segment:\t(none)\n")
	} else {
		fmt.Fprintf(tw, "next_segment:\t%d\n", h.NextSegment)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	terms, err := r.Terms()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nterms (%d):\n", len(terms))
	for _, term := range terms {
		entry, ok, err := r.LookupTerm(term)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  %-20s doc_freq=%d blocks=%d\n", term, entry.DocFreq, entry.BlockCount)
	}

	fmt.Fprintf(w, "\npage map (%d pages):\n", len(r.PageBlocks()))
	for i, block := range r.PageBlocks() {
		fmt.Fprintf(w, "  [%d] -> block %d\n", i, block)
	}
	return nil
}
