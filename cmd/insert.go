package cmd

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// runInsert builds a fresh index from the heap table, then adds one
// caller-supplied document to it (spec §6 `insert(TID, text) -> bool`),
// reporting whether the memtable spilled as a result.
func runInsert(env *Env, args []string) error {
	fs := newFlagSet("insert")
	tidArg := fs.String("tid", "", "tuple identifier as block,offset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tidArg == "" || fs.NArg() == 0 {
		return fmt.Errorf("usage: tapi insert -tid block,offset <document text>")
	}
	t, err := parseTID(*tidArg)
	if err != nil {
		return err
	}
	text := strings.Join(fs.Args(), " ")

	ix, _, err := buildFresh(env, 1)
	if err != nil {
		return err
	}

	policy := env.Config.GetIndexConfig().Policy()
	ok, err := ix.Insert(t, text, policy)
	if err != nil {
		return err
	}
	env.Logger.Info("insert complete", zap.String("tid", t.String()), zap.Bool("inserted", ok))
	return nil
}
