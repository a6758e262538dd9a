package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/codegraph/internal/export"
	"github.com/dusk-indust/codegraph/internal/graph"
	"github.com/dusk-indust/codegraph/internal/indexer"
)

func (a *app) indexCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Parse and ingest every supported file under the root",
		Long: `Walk the root honouring .gitignore and the excluded directories, parse every
supported file and merge its facts into the store. Files that fail are
reported and skipped.

Examples:
  codegraph index --root ./myrepo
  codegraph index --backend kuzu --db .codegraph/kuzu --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(eng *graph.Engine, _ graph.Store) error {
				report, err := a.newIndexer(eng).IndexRepo(cmd.Context(), a.root)
				if err != nil {
					return err
				}
				if asJSON {
					return export.WriteJSON(a.out, report)
				}
				return printReport(a.out, report)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printReport(w io.Writer, r *indexer.Report) error {
	if _, err := fmt.Fprintf(w, "Indexed %d/%d files in %s (%d facts skipped)\n",
		r.Ingested, r.Files, r.Duration.Round(time.Millisecond), r.Skipped); err != nil {
		return err
	}
	for _, f := range r.Failed {
		if _, err := fmt.Fprintf(w, "  %s: %s\n", f.Path, f.Reason); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest PATH FACTS.json",
		Short: "Merge a facts document for one file",
		Long: `Merge the facts a parser extracted from PATH. FACTS.json is a facts document
(classes, interfaces, types, enums, functions, variables, imports, exports,
components); use - to read it from stdin. The file's previous facts are
replaced.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[1] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[1])
			}
			if err != nil {
				return err
			}
			facts, err := graph.ParseFacts(data)
			if err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(eng *graph.Engine, _ graph.Store) error {
				res, err := eng.Ingest(cmd.Context(), args[0], facts)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s: %d created, %d updated, %d deleted\n", res.Path, res.Created, res.Updated, res.Deleted)
				for _, s := range res.Skipped {
					fmt.Fprintf(a.out, "  skipped %v\n", s)
				}
				return nil
			})
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	var skipIndex bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Index the root, then re-ingest files as they change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return a.withStore(ctx, func(eng *graph.Engine, _ graph.Store) error {
				idx := a.newIndexer(eng)
				if !skipIndex {
					report, err := idx.IndexRepo(ctx, a.root)
					if err != nil {
						return err
					}
					if err := printReport(a.out, report); err != nil {
						return err
					}
				}
				w, err := idx.NewWatcher(a.root, a.cfg.Debounce)
				if err != nil {
					return err
				}
				return w.Run(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&skipIndex, "no-index", false, "skip the initial full index")
	return cmd
}
