package cmd

import (
	"go.uber.org/zap"
)

// runBuild performs a full-table build (spec §6 `build(heap, [parallel_workers])`)
// and reports the resulting document count.
func runBuild(env *Env, args []string) error {
	fs := newFlagSet("build")
	workers := fs.Int("workers", env.Config.GetIndexConfig().Workers, "parallel build worker count; 1 runs the serial path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, _, err := buildFresh(env, *workers); err != nil {
		return err
	}
	env.Logger.Info("build finished", zap.String("relation", env.Config.GetRelation()))
	return nil
}
