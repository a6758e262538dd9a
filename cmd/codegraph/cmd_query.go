package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/codegraph/internal/export"
	"github.com/dusk-indust/codegraph/internal/graph"
)

func (a *app) filesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "files [PATTERN]",
		Short: "List files whose path matches a LIKE pattern",
		Long: `List ingested files. PATTERN uses SQL LIKE syntax: % matches any run of
characters and _ one character, case-insensitively.

Examples:
  codegraph files
  codegraph files 'src/%.ts' --limit 20`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pattern string
			if len(args) == 1 {
				pattern = args[0]
			}
			return a.withStore(cmd.Context(), func(_ *graph.Engine, store graph.Store) error {
				snap, err := store.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				defer func() { _ = snap.Close() }()
				files, err := snap.List(cmd.Context(), graph.ListQuery{Kind: graph.KindFile, NameLike: pattern, Limit: limit})
				if err != nil {
					return err
				}
				for _, f := range files {
					suffix := ""
					if f.Attrs.Placeholder {
						suffix = "  (not ingested)"
					}
					fmt.Fprintf(a.out, "%d\t%s%s\n", f.ID, f.Name, suffix)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of files (0 means all)")
	return cmd
}

func (a *app) reportCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "report PATH",
		Short: "Print everything known about a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(_ *graph.Engine, store graph.Store) error {
				v, err := export.FileReport(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return export.WriteJSON(a.out, v)
				}
				return export.WriteReport(a.out, v)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the projection as JSON")
	return cmd
}

func (a *app) diagramCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagram [ID|PATH]",
		Short: "Render a Mermaid diagram",
		Long: `Render a Mermaid diagram of the entity with the given id (File, Function,
Class or Variable) or of the file at PATH. Without an argument the import
graph of the whole store is rendered, grouped by cluster.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withStore(ctx, func(_ *graph.Engine, store graph.Store) error {
				if len(args) == 0 {
					snap, err := store.Snapshot(ctx)
					if err != nil {
						return err
					}
					defer func() { _ = snap.Close() }()
					d, err := export.ImportGraph(ctx, snap)
					if err != nil {
						return err
					}
					_, err = fmt.Fprint(a.out, d)
					return err
				}

				id, err := a.resolveID(cmd, store, args[0])
				if err != nil {
					return err
				}
				d, err := export.Diagram(ctx, store, id)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(a.out, d)
				return err
			})
		},
	}
}

// resolveID accepts a numeric entity id or a file path.
func (a *app) resolveID(cmd *cobra.Command, store graph.Store, arg string) (graph.ID, error) {
	if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return graph.ID(n), nil
	}
	snap, err := store.Snapshot(cmd.Context())
	if err != nil {
		return 0, err
	}
	defer func() { _ = snap.Close() }()
	f, err := graph.FindFile(cmd.Context(), snap, arg)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, fmt.Errorf("%w: file %s", graph.ErrNotFound, arg)
	}
	return f.ID, nil
}

func (a *app) projectCmd() *cobra.Command {
	var (
		relations []string
		depth     int
	)
	cmd := &cobra.Command{
		Use:   "project ID|PATH",
		Short: "Project an entity along relations as JSON",
		Long: `Follow the named relations from an entity breadth-first up to --depth hops
and print the result as JSON. Entities reached more than once are printed as
reference stubs.

Examples:
  codegraph project src/app.ts --relations functions,calls --depth 2
  codegraph project 42 --relations calledBy`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rels := graph.ReportRelations
			if len(relations) > 0 {
				rels = make([]graph.RelationName, len(relations))
				for i, r := range relations {
					rels[i] = graph.RelationName(strings.TrimSpace(r))
				}
			}
			return a.withStore(cmd.Context(), func(_ *graph.Engine, store graph.Store) error {
				id, err := a.resolveID(cmd, store, args[0])
				if err != nil {
					return err
				}
				v, err := graph.ProjectStore(cmd.Context(), store, id, rels, depth)
				if err != nil {
					return err
				}
				if v == nil {
					return fmt.Errorf("%w: %d", graph.ErrNotFound, id)
				}
				return export.WriteJSON(a.out, v)
			})
		},
	}
	cmd.Flags().StringSliceVar(&relations, "relations", nil, "relations to follow (default: the report relations)")
	cmd.Flags().IntVar(&depth, "depth", 1, "number of hops")
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print entity and edge counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(_ *graph.Engine, store graph.Store) error {
				snap, err := store.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				defer func() { _ = snap.Close() }()
				st, err := snap.Stats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Entities: %d\n", st.EntityCount())
				for _, k := range graph.AllKinds {
					fmt.Fprintf(a.out, "  %-12s %d\n", k, st.Entities[k])
				}
				fmt.Fprintf(a.out, "Edges: %d\n", st.EdgeCount())
				for _, spec := range graph.EdgeSpecs {
					fmt.Fprintf(a.out, "  %-12s %d\n", spec.Kind, st.Edges[spec.Kind])
				}
				return nil
			})
		},
	}
}

func (a *app) clustersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clusters",
		Short: "List groups of files connected by imports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(_ *graph.Engine, store graph.Store) error {
				snap, err := store.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				defer func() { _ = snap.Close() }()
				clusters, err := graph.ImportClusters(cmd.Context(), snap)
				if err != nil {
					return err
				}
				if len(clusters) == 0 {
					fmt.Fprintln(a.out, "No clusters found.")
					return nil
				}
				for _, c := range clusters {
					name := c.Name
					if name == "" {
						name = "(root)"
					}
					fmt.Fprintf(a.out, "%s  cohesion=%.2f  files=%d\n", name, c.Cohesion, len(c.Members))
					for _, m := range c.Members {
						fmt.Fprintf(a.out, "  %s\n", m)
					}
				}
				return nil
			})
		},
	}
}
