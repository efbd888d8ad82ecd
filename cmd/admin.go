package cmd

import (
	"os"

	"go.uber.org/zap"

	"github.com/tapidb/tapi/internal/bm25/dump"
	"github.com/tapidb/tapi/internal/bm25/metapage"
)

// runSpill builds a fresh index, then forces an immediate spill of its
// memtable to a new L0 segment (spec §6 `spill()`), useful for exercising
// the spill path independent of the threshold policy.
func runSpill(env *Env, args []string) error {
	fs := newFlagSet("spill")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ix, _, err := buildFresh(env, 1)
	if err != nil {
		return err
	}
	if err := ix.Spill(env.Config.GetIndexConfig().Policy()); err != nil {
		return err
	}
	env.Logger.Info("spill complete")
	return nil
}

// runMerge builds a fresh index, then compacts the given LSM level into
// the next one (spec §6 `merge(level)`).
func runMerge(env *Env, args []string) error {
	fs := newFlagSet("merge")
	level := fs.Int("level", 0, "LSM level to compact")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ix, _, err := buildFresh(env, 1)
	if err != nil {
		return err
	}
	if err := ix.Merge(*level, env.Config.GetIndexConfig().Policy()); err != nil {
		return err
	}
	env.Logger.Info("merge complete", zap.Int("level", *level))
	return nil
}

// runVacuum builds a fresh index, then drops every TID no longer present
// in the heap table (spec §6 `vacuum_cleanup()`), reporting how many
// documents were examined and dropped.
func runVacuum(env *Env, args []string) error {
	fs := newFlagSet("vacuum")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ix, _, src, err := newIndex(env)
	if err != nil {
		return err
	}
	ic := env.Config.GetIndexConfig()
	if _, err := ix.Build(src, nil, ic.Policy(), 1); err != nil {
		return err
	}

	liveTIDs, err := collectLiveTIDs(src)
	if err != nil {
		return err
	}
	stats, err := ix.VacuumCleanup(liveTIDs)
	if err != nil {
		return err
	}
	env.Logger.Info("vacuum complete", zap.Int("docs_examined", stats.DocsExamined), zap.Int("docs_dropped", stats.DocsDropped))
	return nil
}

// runDump renders either the metapage or one segment's structure as text
// (spec §3's admin surface), depending on whether -block is given.
func runDump(env *Env, args []string) error {
	fs := newFlagSet("dump")
	block := fs.Int("block", -1, "segment root block to dump; omit to dump the metapage")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, mgr, err := buildFresh(env, 1)
	if err != nil {
		return err
	}
	relation := env.Config.GetRelation()
	if *block < 0 {
		meta, err := metapage.Load(mgr, relation)
		if err != nil {
			return err
		}
		return dump.Metapage(os.Stdout, meta)
	}
	return dump.Segment(os.Stdout, mgr, relation, uint32(*block))
}
