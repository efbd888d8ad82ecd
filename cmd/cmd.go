// Package cmd implements the tapi CLI's subcommands (spec §6's public
// operations, one subcommand apiece): build, insert, query, spill, merge,
// vacuum, and dump.
//
// Grounded on heroiclabs-nakama's cmd/ package (`cmd/migrate.go`,
// `cmd/doctor.go`): a small os.Args[1]-dispatched subcommand set sharing
// one Config/logger pair, each subcommand its own flag.FlagSet rather than
// a single monolithic flag namespace.
//
// pagebuf.InProcessManager holds an index only for the lifetime of one
// process (see internal/bm25/pagebuf's package doc); every subcommand here
// therefore builds a fresh index from the Postgres heap table before
// performing its operation, the same "CLI demo" role that package
// documents itself as filling.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"github.com/tapidb/tapi/internal/bm25/build"
	"github.com/tapidb/tapi/internal/bm25/heap"
	"github.com/tapidb/tapi/internal/bm25/heappg"
	"github.com/tapidb/tapi/internal/bm25/index"
	"github.com/tapidb/tapi/internal/bm25/pagebuf"
	"github.com/tapidb/tapi/internal/bm25/tid"
	"github.com/tapidb/tapi/server"
)

// defaultPageSize is the physical page size the demo InProcessManager
// uses; real deployments inherit whatever page size the host buffer
// manager was built with (spec §3's page size is host-defined).
const defaultPageSize = 8192

// Env bundles the pieces every subcommand needs: configuration, logging,
// and a live connection to the Postgres table being indexed.
type Env struct {
	Config server.Config
	Logger *zap.Logger
	Pool   *pgxpool.Pool
}

// Connect opens a pgxpool.Pool against cfg's DSN, the jackc/pgx/v4 entry
// point heappg.Source itself is built on.
func Connect(cfg server.Config) (*pgxpool.Pool, error) {
	return pgxpool.Connect(context.Background(), cfg.GetDSN())
}

// newIndex constructs a fresh, empty Index plus the pagebuf.Manager and
// heappg.Source it was opened against, wiring the BM25/threshold knobs
// from cfg.GetIndexConfig(). The manager is returned so callers that need
// to read the relation back directly (dump) can share the same backing
// store as the Index they just built.
func newIndex(env *Env) (*index.Index, pagebuf.Manager, heap.Source, error) {
	ic := env.Config.GetIndexConfig()
	mgr := pagebuf.NewInProcessManager(defaultPageSize)
	src := heappg.New(env.Pool, env.Config.GetTable(), env.Config.GetColumn())
	cfg := index.Config{
		TextConfigID: env.Config.GetTextConfigID(),
		K1:           ic.K1,
		B:            ic.B,
		Policy:       ic.Policy(),
	}
	ix, err := index.Create(mgr, env.Config.GetRelation(), cfg, build.SimpleTokenizer{}, env.Logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return ix, mgr, src, nil
}

// buildFresh creates a new Index and runs a full build over its heap
// source, the common first step of every subcommand below.
func buildFresh(env *Env, parallelWorkers int) (*index.Index, pagebuf.Manager, error) {
	ix, mgr, src, err := newIndex(env)
	if err != nil {
		return nil, nil, err
	}
	ic := env.Config.GetIndexConfig()
	res, err := ix.Build(src, nil, ic.Policy(), parallelWorkers)
	if err != nil {
		return nil, nil, err
	}
	env.Logger.Info("build complete", zap.Uint32("index_tuples", res.IndexTuples))
	return ix, mgr, nil
}

// collectLiveTIDs scans src's full heap, returning every TID it reports —
// the "host hands us its current live-TID set" calling convention
// VacuumCleanup expects (spec §6 `vacuum_cleanup()`).
func collectLiveTIDs(src heap.Source) ([]tid.TID, error) {
	var tids []tid.TID
	err := src.Scan(nil, func(t heap.Tuple) error {
		tids = append(tids, t.TID)
		return nil
	})
	return tids, err
}

// parseTID parses a "block,offset" command-line argument into a tid.TID,
// the CLI-facing counterpart of heappg's ctid text format.
func parseTID(s string) (tid.TID, error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return tid.TID{}, fmt.Errorf("tid must be block,offset, got %q", s)
	}
	block, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return tid.TID{}, fmt.Errorf("invalid block in %q: %w", s, err)
	}
	offset, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return tid.TID{}, fmt.Errorf("invalid offset in %q: %w", s, err)
	}
	return tid.TID{Block: uint32(block), Offset: uint16(offset)}, nil
}

// Run dispatches args[0] (the subcommand name) to its handler. args is
// the CLI's full argument list minus the program name.
func Run(env *Env, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: tapi <build|insert|query|spill|merge|vacuum|dump> [flags]")
	}
	switch args[0] {
	case "build":
		return runBuild(env, args[1:])
	case "insert":
		return runInsert(env, args[1:])
	case "query":
		return runQuery(env, args[1:])
	case "spill":
		return runSpill(env, args[1:])
	case "merge":
		return runMerge(env, args[1:])
	case "vacuum":
		return runVacuum(env, args[1:])
	case "dump":
		return runDump(env, args[1:])
	default:
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}
