package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/codegraph/internal/graph"
	"github.com/dusk-indust/codegraph/internal/mcptools"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		transport string
		addr      string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query tools over MCP",
		Long: `Run an MCP server exposing ingest_facts, index_repo, list_files,
project_entity, file_view, render_diagram, graph_stats and import_clusters.

The stdio transport is meant for editor integrations. The http transport
serves the streamable HTTP endpoint and Prometheus metrics at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.MCPAddr
			}
			mcptools.Version = version
			return a.withStore(cmd.Context(), func(eng *graph.Engine, _ graph.Store) error {
				svc := mcptools.NewQueryService(eng, a.newIndexer(eng), a.root, a.logger)
				server := mcptools.NewServer(svc)
				switch transport {
				case "stdio":
					return mcptools.RunStdio(cmd.Context(), server)
				case "http":
					return mcptools.RunHTTP(cmd.Context(), server, addr, a.logger)
				default:
					return fmt.Errorf("unknown transport %q (want stdio or http)", transport)
				}
			})
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "stdio", "stdio or http")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address for the http transport (default from config)")
	return cmd
}
