// Package main is tdbctl, a small cobra-based CLI for exercising the
// query engine and optimistic mutation layer against a JSON fixture file
// without needing a live sync driver.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tdbcore/internal/collection"
	"tdbcore/internal/compiler"
	"tdbcore/internal/config"
	"tdbcore/internal/core"
	"tdbcore/internal/dlog"
	"tdbcore/internal/txn"
)

type queryFlags struct {
	fixture string
	query   string
}

type explainFlags struct {
	query string
}

type mutateFlags struct {
	fixture    string
	collection string
	op         string
	key        string
	row        string
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "tdbctl",
		Short: "Inspect and exercise a tdbcore fixture",
	}

	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(explainCmd())
	rootCmd.AddCommand(mutateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func queryCmd() *cobra.Command {
	flags := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a query against a fixture and print the result set",
		Long: `Query compiles a query spec (JSON) into a dataflow graph, feeds it the
current contents of every referenced fixture collection as one initial
batch, runs the graph to quiescence, and prints the resulting rows.

Examples:
  tdbctl query --fixture fixtures.json --query query.json`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runQuery(flags)
		},
	}
	cmd.Flags().StringVar(&flags.fixture, "fixture", "", "Path to a fixture JSON file (required)")
	cmd.Flags().StringVar(&flags.query, "query", "", "Path to a query spec JSON file (required)")
	return cmd
}

func runQuery(flags *queryFlags) error {
	if flags.fixture == "" || flags.query == "" {
		return fmt.Errorf("--fixture and --query are required")
	}
	ctx := context.Background()
	cfg := config.Default()

	ff, err := loadFixtureFile(flags.fixture)
	if err != nil {
		return err
	}
	cols, err := buildCollections(ctx, ff, cfg)
	if err != nil {
		return err
	}

	q, err := loadQuerySpec(flags.query)
	if err != nil {
		return err
	}

	handles := compiler.NewSourceStreams(q)
	graph, out, err := compiler.Compile(q, handles, nil, "tdbctl-query", cfg.Scheduler, dlog.Nop())
	if err != nil {
		return fmt.Errorf("compile query: %w", err)
	}
	reader := out.NewReader()

	for alias, h := range handles {
		c, ok := cols[h.CollectionID]
		if !ok {
			return fmt.Errorf("query references unknown collection %q (alias %q)", h.CollectionID, alias)
		}
		var batch core.Batch
		for _, k := range c.Keys() {
			row, ok := c.Get(k)
			if !ok {
				continue
			}
			batch = append(batch, core.ChangeMessage{Type: core.Insert, Key: k, Value: row})
		}
		compiler.ApplyChangeBatch(h, batch)
	}

	if err := graph.Run(); err != nil {
		return fmt.Errorf("run query: %w", err)
	}

	var rows []core.Row
	for _, d := range reader.Drain() {
		for _, e := range d.Entries() {
			for i := 0; i < e.Multiplicity; i++ {
				rows = append(rows, core.Decode(e.Value))
			}
		}
	}
	return printJSON(rows)
}

func explainCmd() *cobra.Command {
	flags := &explainFlags{}
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Print the operator pipeline a query spec compiles to",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runExplain(flags)
		},
	}
	cmd.Flags().StringVar(&flags.query, "query", "", "Path to a query spec JSON file (required)")
	return cmd
}

func runExplain(flags *explainFlags) error {
	if flags.query == "" {
		return fmt.Errorf("--query is required")
	}
	q, err := loadQuerySpec(flags.query)
	if err != nil {
		return err
	}
	handles := compiler.NewSourceStreams(q)
	graph, _, err := compiler.Compile(q, handles, nil, "tdbctl-explain", config.Default().Scheduler, dlog.Nop())
	if err != nil {
		return fmt.Errorf("compile query: %w", err)
	}
	for i, name := range graph.OperatorNames() {
		fmt.Printf("%d. %s\n", i+1, name)
	}
	return nil
}

func mutateCmd() *cobra.Command {
	flags := &mutateFlags{}
	cmd := &cobra.Command{
		Use:   "mutate",
		Short: "Apply one insert/update/delete against a fixture collection",
		Long: `Mutate loads a fixture, applies one optimistic mutation through an
auto-committing transaction (with no persistence adapter, so it commits
immediately and marks its overlay awaiting confirmation), and prints the
collection's resulting view of the affected row.

Examples:
  tdbctl mutate --fixture fixtures.json --collection todos --op insert --row '{"id":"3","text":"new"}'
  tdbctl mutate --fixture fixtures.json --collection todos --op delete --key 1`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runMutate(flags)
		},
	}
	cmd.Flags().StringVar(&flags.fixture, "fixture", "", "Path to a fixture JSON file (required)")
	cmd.Flags().StringVar(&flags.collection, "collection", "", "Target collection id (required)")
	cmd.Flags().StringVar(&flags.op, "op", "", "insert, update, or delete (required)")
	cmd.Flags().StringVar(&flags.key, "key", "", "Row key (required for update/delete)")
	cmd.Flags().StringVar(&flags.row, "row", "", "Row value as a JSON object (required for insert/update)")
	return cmd
}

func runMutate(flags *mutateFlags) error {
	if flags.fixture == "" || flags.collection == "" || flags.op == "" {
		return fmt.Errorf("--fixture, --collection, and --op are required")
	}
	ctx := context.Background()
	cfg := config.Default()

	ff, err := loadFixtureFile(flags.fixture)
	if err != nil {
		return err
	}
	cols, err := buildCollections(ctx, ff, cfg)
	if err != nil {
		return err
	}
	col, ok := cols[flags.collection]
	if !ok {
		return fmt.Errorf("unknown collection %q", flags.collection)
	}

	key, err := applyMutation(ctx, col, flags)
	if err != nil {
		return err
	}

	if flags.op == "delete" {
		fmt.Printf("deleted %s\n", key)
		return nil
	}
	out, _ := col.Get(key)
	return printJSON(out)
}

// applyMutation runs one insert/update/delete through an auto-committing
// transaction. There is no persistence adapter here, so Commit has nothing
// to call through to: it succeeds immediately and marks the collection's
// overlay awaiting confirmation, which is as far as a fixture-backed
// collection can go without a real sync driver to reconcile against.
func applyMutation(ctx context.Context, col *collection.Collection, flags *mutateFlags) (core.Key, error) {
	var row core.Row
	if flags.row != "" {
		if err := json.Unmarshal([]byte(flags.row), &row); err != nil {
			return "", fmt.Errorf("decode --row: %w", err)
		}
	}

	var key core.Key
	switch flags.op {
	case "insert":
		k, err := col.KeyFunc()(row)
		if err != nil {
			return "", fmt.Errorf("derive key: %w", err)
		}
		key = k
	case "update", "delete":
		if flags.key == "" {
			return "", fmt.Errorf("--key is required for %s", flags.op)
		}
		k, err := core.NormalizeKey(flags.key)
		if err != nil {
			return "", fmt.Errorf("normalize --key: %w", err)
		}
		key = k
	default:
		return "", fmt.Errorf("unknown --op %q (want insert, update, or delete)", flags.op)
	}

	var mutErr error
	tx := txn.New(true, nil)
	err := tx.Mutate(ctx, func(tx *txn.Transaction) {
		switch flags.op {
		case "insert":
			mutErr = tx.Insert(col, row)
		case "update":
			mutErr = tx.Update(col, key, func(current core.Row) core.Row {
				merged := current.Clone()
				for k, v := range row {
					merged[k] = v
				}
				return merged
			})
		case "delete":
			mutErr = tx.Delete(col, key)
		}
	})
	if mutErr != nil {
		return "", mutErr
	}
	if err != nil {
		return "", err
	}
	return key, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
