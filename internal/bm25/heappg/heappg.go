// Package heappg implements heap.Source against a live Postgres table via
// jackc/pgx/v4, the literal provenance of this spec: TIDs map directly
// onto Postgres ctids (spec's TID data model is `timescale/pg_textsearch`'s
// own `ItemPointerData`), and "pages" in the scan-range sense are ctid
// block numbers, matching the Postgres heap's own physical page layout.
package heappg

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/tapidb/tapi/internal/bm25/heap"
	"github.com/tapidb/tapi/internal/bm25/tapierr"
	"github.com/tapidb/tapi/internal/bm25/tid"
)

// classifyPgError distinguishes schema/query misconfiguration (wrong
// table or column name — a misuse the caller should fix, not retry) from
// genuinely transient I/O (connection drops, timeouts), so heappg reports
// the right tapierr.Kind instead of flattening everything to TransientIO.
func classifyPgError(msg string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UndefinedTable, pgerrcode.UndefinedColumn, pgerrcode.InvalidTextRepresentation:
			return tapierr.Misuse(fmt.Sprintf("%s: %s", msg, pgErr.Message))
		}
	}
	return tapierr.TransientIO(msg, err)
}

// Source reads one (table, text column) pair through a pgxpool.Pool.
// Implements heap.Source.
type Source struct {
	pool   *pgxpool.Pool
	table  string
	column string
}

// New returns a Source over table, extracting column as the indexed text.
func New(pool *pgxpool.Pool, table, column string) *Source {
	return &Source{pool: pool, table: table, column: column}
}

// Snapshot is optional for this Source: without a Tx, every scan runs
// inside its own implicit single-statement snapshot, matching Postgres's
// default read committed behavior, and with one, every call runs on that
// Tx (see querier). A caller wanting a stable cross-call snapshot should
// wrap calls in one REPEATABLE READ transaction and pass that *pgx.Tx
// wrapped as a Snapshot instead — not needed by the current build/recovery
// callers, which each scan exactly once.
type Snapshot struct {
	Tx pgx.Tx
}

func (s *Source) querier(snapshot heap.Snapshot) pgxQuerier {
	if sn, ok := snapshot.(Snapshot); ok && sn.Tx != nil {
		return sn.Tx
	}
	return s.pool
}

type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (s *Source) Scan(snapshot heap.Snapshot, cb func(heap.Tuple) error) error {
	ctx := context.Background()
	q := s.querier(snapshot)
	rows, err := q.Query(ctx, fmt.Sprintf("SELECT ctid, %s FROM %s ORDER BY ctid", s.column, s.table))
	if err != nil {
		return classifyPgError("heappg: scanning table", err)
	}
	defer rows.Close()
	return scanRows(rows, cb)
}

// ScanRange scans the ctid block range [start,end), matching the heap.Source
// contract's "source-defined logical units" with Postgres's own block
// numbering.
func (s *Source) ScanRange(snapshot heap.Snapshot, start, end int64, cb func(heap.Tuple) error) error {
	ctx := context.Background()
	q := s.querier(snapshot)
	sql := fmt.Sprintf(
		"SELECT ctid, %s FROM %s WHERE ctid >= '(%d,0)' AND ctid < '(%d,0)' ORDER BY ctid",
		s.column, s.table, start, end)
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return classifyPgError("heappg: scanning table range", err)
	}
	defer rows.Close()
	return scanRows(rows, cb)
}

func (s *Source) Fetch(t tid.TID, snapshot heap.Snapshot) (heap.Tuple, bool, error) {
	ctx := context.Background()
	q := s.querier(snapshot)
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE ctid = '(%d,%d)'", s.column, s.table, t.Block, t.Offset)
	var text string
	err := q.QueryRow(ctx, sql).Scan(&text)
	if err == pgx.ErrNoRows {
		return heap.Tuple{}, false, nil
	}
	if err != nil {
		return heap.Tuple{}, false, classifyPgError("heappg: fetching tuple", err)
	}
	return heap.Tuple{TID: t, Text: text}, true, nil
}

// Extent reports one past the table's highest ctid block number, the
// range ScanRange's [start,end) partitions over.
func (s *Source) Extent(snapshot heap.Snapshot) (int64, error) {
	ctx := context.Background()
	q := s.querier(snapshot)
	var maxCtid string
	err := q.QueryRow(ctx, fmt.Sprintf("SELECT COALESCE(MAX(ctid)::text, '(0,0)') FROM %s", s.table)).Scan(&maxCtid)
	if err != nil {
		return 0, classifyPgError("heappg: computing table extent", err)
	}
	t, err := parseCtid(maxCtid)
	if err != nil {
		return 0, err
	}
	return int64(t.Block) + 1, nil
}

func scanRows(rows pgx.Rows, cb func(heap.Tuple) error) error {
	for rows.Next() {
		var ctidText, text string
		if err := rows.Scan(&ctidText, &text); err != nil {
			return tapierr.Corruption("heappg: decoding row", err)
		}
		t, err := parseCtid(ctidText)
		if err != nil {
			return err
		}
		if err := cb(heap.Tuple{TID: t, Text: text}); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return tapierr.TransientIO("heappg: row iteration", err)
	}
	return nil
}

// parseCtid decodes Postgres's `(block,offset)` ctid text representation.
func parseCtid(s string) (tid.TID, error) {
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return tid.TID{}, tapierr.Corruption(fmt.Sprintf("heappg: malformed ctid %q", s), nil)
	}
	block, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return tid.TID{}, tapierr.Corruption(fmt.Sprintf("heappg: malformed ctid block in %q", s), err)
	}
	offset, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return tid.TID{}, tapierr.Corruption(fmt.Sprintf("heappg: malformed ctid offset in %q", s), err)
	}
	return tid.TID{Block: uint32(block), Offset: uint16(offset)}, nil
}
