package mcptools

import (
	"github.com/dusk-indust/codegraph/internal/graph"
	"github.com/dusk-indust/codegraph/internal/indexer"
)

// --- MCP Tool Input Types ---
// The MCP Go SDK derives each tool's JSON schema from these struct tags.

// IngestFactsInput is the input for the ingest_facts MCP tool.
type IngestFactsInput struct {
	Path  string `json:"path" jsonschema:"repository-relative path of the parsed file"`
	Facts string `json:"facts" jsonschema:"the parsed facts of the file as a JSON document (classes, interfaces, types, enums, functions, variables, imports, exports, components)"`
}

// IngestFactsOutput is the result of the ingest_facts MCP tool.
type IngestFactsOutput struct {
	Result graph.IngestResult `json:"result"`
}

// IndexRepoInput is the input for the index_repo MCP tool.
type IndexRepoInput struct {
	Root string `json:"root,omitempty" jsonschema:"repository root to index (default: the server's root)"`
}

// IndexRepoOutput is the result of the index_repo MCP tool.
type IndexRepoOutput struct {
	Report indexer.Report `json:"report"`
}

// ListFilesInput is the input for the list_files MCP tool.
type ListFilesInput struct {
	Pattern string `json:"pattern,omitempty" jsonschema:"SQL LIKE pattern on the file path (% and _ wildcards, case-insensitive). Empty matches all"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of files (default: 100)"`
}

// FileSummary is one row of list_files.
type FileSummary struct {
	ID          graph.ID `json:"id"`
	Path        string   `json:"path"`
	Placeholder bool     `json:"placeholder,omitempty"`
}

// ListFilesOutput is the result of the list_files MCP tool.
type ListFilesOutput struct {
	Files []FileSummary `json:"files"`
	Total int           `json:"total" jsonschema:"number of matching files before the limit"`
}

// ProjectEntityInput is the input for the project_entity MCP tool.
type ProjectEntityInput struct {
	ID        int64    `json:"id" jsonschema:"entity id to start from"`
	Relations []string `json:"relations,omitempty" jsonschema:"relations to follow, e.g. functions, calls, parameters, variableType, importsFile (default: the file report relations)"`
	Depth     int      `json:"depth,omitempty" jsonschema:"how many hops to follow (default: 1, max: 5)"`
}

// FileViewInput is the input for the file_view MCP tool.
type FileViewInput struct {
	Path   string `json:"path" jsonschema:"repository-relative file path"`
	Format string `json:"format,omitempty" jsonschema:"json (default) or report for the plain-text report"`
}

// RenderDiagramInput is the input for the render_diagram MCP tool.
type RenderDiagramInput struct {
	ID   int64  `json:"id,omitempty" jsonschema:"File, Function, Class or Variable id"`
	Path string `json:"path,omitempty" jsonschema:"file path, used when id is not set. With neither, the import graph of the whole store is rendered"`
}

// RenderDiagramOutput is the result of the render_diagram MCP tool.
type RenderDiagramOutput struct {
	Diagram string `json:"diagram"`
}

// GraphStatsInput is the input for the graph_stats MCP tool.
type GraphStatsInput struct{}

// GraphStatsOutput is the result of the graph_stats MCP tool.
type GraphStatsOutput struct {
	Stats    graph.GraphStats `json:"stats"`
	Entities int              `json:"entities"`
	Edges    int              `json:"edges"`
}

// ImportClustersInput is the input for the import_clusters MCP tool.
type ImportClustersInput struct{}

// ImportClustersOutput is the result of the import_clusters MCP tool.
type ImportClustersOutput struct {
	Clusters []graph.Cluster `json:"clusters"`
}
