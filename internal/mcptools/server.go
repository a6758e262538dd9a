package mcptools

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version is set by the linker at build time.
var Version = "dev"

var toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "codegraph_mcp_tool_duration_seconds",
	Help:    "MCP tool call duration in seconds by tool",
	Buckets: prometheus.DefBuckets,
}, []string{"tool"})

// observe starts timing a tool call; call the returned func when it ends.
func observe(tool string) func() {
	start := time.Now()
	return func() { toolDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds()) }
}

// NewServer creates an MCP server with every query tool registered.
func NewServer(svc *QueryService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "codegraph",
		Version: Version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_facts",
		Description: "Merge the parsed facts of one source file into the code graph. The file's previous facts are replaced; invalid entities are skipped and listed in the result.",
	}, svc.IngestFacts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "index_repo",
		Description: "Index a repository: parse every supported source file with tree-sitter, resolve imports and ingest the facts. Returns per-file failures.",
	}, svc.IndexRepo)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_files",
		Description: "List ingested files whose path matches a SQL LIKE pattern, up to a limit.",
	}, svc.ListFiles)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "project_entity",
		Description: "Project an entity by id, following the named relations breadth-first up to a depth. Entities reached twice appear as reference stubs. Returns JSON.",
	}, svc.ProjectEntity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "file_view",
		Description: "Return everything known about a file: its directory, classes, interfaces, types, enums, functions with signatures and calls, variables, imports, exports and components.",
	}, svc.FileView)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "render_diagram",
		Description: "Render a Mermaid diagram of a file, function, class or variable. Without an id or path, renders the import graph grouped by cluster.",
	}, svc.RenderDiagram)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "graph_stats",
		Description: "Return entity counts by kind and edge counts by relation.",
	}, svc.GraphStats)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "import_clusters",
		Description: "Return groups of files connected by resolved imports, with a cohesion score per group.",
	}, svc.ImportClusters)

	return server
}

// RunStdio serves on stdin/stdout until the client disconnects or ctx is
// cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// NewHTTPHandler returns a mux serving the streamable HTTP MCP endpoint at /
// and Prometheus metrics at /metrics.
func NewHTTPHandler(server *mcp.Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	))
	return mux
}

// RunHTTP serves NewHTTPHandler on addr until ctx is cancelled.
func RunHTTP(ctx context.Context, server *mcp.Server, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           NewHTTPHandler(server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}()

	logger.Info("mcp server listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
