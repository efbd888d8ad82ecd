package cmd

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// runQuery builds a fresh index from the heap table, then runs one BM25
// top-K query against it (spec §6 `scan(query_text, limit)`), printing
// results to stdout as "tid score" lines in descending score order.
func runQuery(env *Env, args []string) error {
	fs := newFlagSet("query")
	limit := fs.Int("limit", 10, "maximum number of results")
	workers := fs.Int("workers", env.Config.GetIndexConfig().Workers, "parallel build worker count used to construct the index before querying")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: tapi query [-limit N] <query text>")
	}
	queryText := strings.Join(fs.Args(), " ")

	ix, _, err := buildFresh(env, *workers)
	if err != nil {
		return err
	}

	results, err := ix.Scan(queryText, *limit)
	if err != nil {
		return err
	}
	env.Logger.Info("query complete", zap.String("query", queryText), zap.Int("results", len(results)))
	for _, r := range results {
		fmt.Printf("%s\t%.6f\n", r.TID, r.Score)
	}
	return nil
}
