package mcptools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/codegraph/internal/export"
	"github.com/dusk-indust/codegraph/internal/graph"
	"github.com/dusk-indust/codegraph/internal/indexer"
)

const (
	defaultListLimit = 100
	maxDepth         = 5
)

// QueryService holds the engine and indexer used by MCP tool handlers.
type QueryService struct {
	engine  *graph.Engine
	store   graph.Store
	indexer *indexer.Indexer
	root    string
	logger  *slog.Logger
}

// NewQueryService creates a QueryService. root is the repository index_repo
// uses when the caller names none; idx may be nil to disable indexing.
func NewQueryService(engine *graph.Engine, idx *indexer.Indexer, root string, logger *slog.Logger) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{engine: engine, store: engine.Store(), indexer: idx, root: root, logger: logger}
}

// IngestFacts merges a parser's facts document for one file.
func (s *QueryService) IngestFacts(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IngestFactsInput,
) (*mcp.CallToolResult, IngestFactsOutput, error) {
	defer observe("ingest_facts")()
	if input.Path == "" {
		return nil, IngestFactsOutput{}, fmt.Errorf("path is required")
	}
	facts, err := graph.ParseFacts([]byte(input.Facts))
	if err != nil {
		return nil, IngestFactsOutput{}, err
	}
	res, err := s.engine.Ingest(ctx, input.Path, facts)
	if err != nil {
		return nil, IngestFactsOutput{}, err
	}
	return nil, IngestFactsOutput{Result: *res}, nil
}

// IndexRepo indexes a repository and returns the run report.
func (s *QueryService) IndexRepo(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IndexRepoInput,
) (*mcp.CallToolResult, IndexRepoOutput, error) {
	defer observe("index_repo")()
	if s.indexer == nil {
		return nil, IndexRepoOutput{}, errors.New("indexing is not enabled on this server")
	}
	root := input.Root
	if root == "" {
		root = s.root
	}
	if root == "" {
		return nil, IndexRepoOutput{}, fmt.Errorf("root is required")
	}
	report, err := s.indexer.IndexRepo(ctx, root)
	if err != nil {
		return nil, IndexRepoOutput{}, fmt.Errorf("index %s: %w", root, err)
	}
	return nil, IndexRepoOutput{Report: *report}, nil
}

// ListFiles returns the files whose path matches a LIKE pattern.
func (s *QueryService) ListFiles(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ListFilesInput,
) (*mcp.CallToolResult, ListFilesOutput, error) {
	defer observe("list_files")()
	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, ListFilesOutput{}, err
	}
	defer func() { _ = snap.Close() }()

	matched, err := snap.List(ctx, graph.ListQuery{Kind: graph.KindFile, NameLike: input.Pattern})
	if err != nil {
		return nil, ListFilesOutput{}, fmt.Errorf("list files: %w", err)
	}
	files := matched[:min(limit, len(matched))]
	out := ListFilesOutput{Files: make([]FileSummary, 0, len(files)), Total: len(matched)}
	for _, f := range files {
		out.Files = append(out.Files, FileSummary{ID: f.ID, Path: f.Name, Placeholder: f.Attrs.Placeholder})
	}
	return nil, out, nil
}

// ProjectEntity returns the projection of one entity as JSON text.
func (s *QueryService) ProjectEntity(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ProjectEntityInput,
) (*mcp.CallToolResult, any, error) {
	defer observe("project_entity")()
	rels := graph.ReportRelations
	if len(input.Relations) > 0 {
		rels = make([]graph.RelationName, len(input.Relations))
		for i, r := range input.Relations {
			rels[i] = graph.RelationName(strings.TrimSpace(r))
		}
	}
	depth := min(max(input.Depth, 1), maxDepth)

	v, err := graph.ProjectStore(ctx, s.store, graph.ID(input.ID), rels, depth)
	if err != nil {
		return nil, nil, err
	}
	if v == nil {
		return nil, nil, fmt.Errorf("%w: %d", graph.ErrNotFound, input.ID)
	}
	return jsonResult(v)
}

// FileView returns the report projection of a file, as JSON or as the
// plain-text report.
func (s *QueryService) FileView(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input FileViewInput,
) (*mcp.CallToolResult, any, error) {
	defer observe("file_view")()
	if input.Path == "" {
		return nil, nil, fmt.Errorf("path is required")
	}
	v, err := export.FileReport(ctx, s.store, input.Path)
	if err != nil {
		return nil, nil, err
	}
	switch input.Format {
	case "", "json":
		return jsonResult(v)
	case "report":
		var buf bytes.Buffer
		if err := export.WriteReport(&buf, v); err != nil {
			return nil, nil, err
		}
		return textResult(buf.String()), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown format %q (want json or report)", input.Format)
	}
}

// RenderDiagram renders a Mermaid diagram of an entity, a file, or the whole
// import graph.
func (s *QueryService) RenderDiagram(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input RenderDiagramInput,
) (*mcp.CallToolResult, RenderDiagramOutput, error) {
	defer observe("render_diagram")()
	id := graph.ID(input.ID)
	if id == 0 && input.Path != "" {
		f, err := s.findFile(ctx, input.Path)
		if err != nil {
			return nil, RenderDiagramOutput{}, err
		}
		id = f.ID
	}
	if id == 0 {
		snap, err := s.store.Snapshot(ctx)
		if err != nil {
			return nil, RenderDiagramOutput{}, err
		}
		defer func() { _ = snap.Close() }()
		d, err := export.ImportGraph(ctx, snap)
		if err != nil {
			return nil, RenderDiagramOutput{}, err
		}
		return nil, RenderDiagramOutput{Diagram: d}, nil
	}
	d, err := export.Diagram(ctx, s.store, id)
	if err != nil {
		return nil, RenderDiagramOutput{}, err
	}
	return nil, RenderDiagramOutput{Diagram: d}, nil
}

// GraphStats returns entity and edge counts.
func (s *QueryService) GraphStats(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ GraphStatsInput,
) (*mcp.CallToolResult, GraphStatsOutput, error) {
	defer observe("graph_stats")()
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, GraphStatsOutput{}, err
	}
	defer func() { _ = snap.Close() }()
	stats, err := snap.Stats(ctx)
	if err != nil {
		return nil, GraphStatsOutput{}, fmt.Errorf("stats: %w", err)
	}
	return nil, GraphStatsOutput{Stats: *stats, Entities: stats.EntityCount(), Edges: stats.EdgeCount()}, nil
}

// ImportClusters returns the groups of files connected by imports.
func (s *QueryService) ImportClusters(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ ImportClustersInput,
) (*mcp.CallToolResult, ImportClustersOutput, error) {
	defer observe("import_clusters")()
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, ImportClustersOutput{}, err
	}
	defer func() { _ = snap.Close() }()
	clusters, err := graph.ImportClusters(ctx, snap)
	if err != nil {
		return nil, ImportClustersOutput{}, err
	}
	if clusters == nil {
		clusters = []graph.Cluster{}
	}
	return nil, ImportClustersOutput{Clusters: clusters}, nil
}

func (s *QueryService) findFile(ctx context.Context, path string) (*graph.Entity, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = snap.Close() }()
	f, err := graph.FindFile(ctx, snap, path)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("%w: file %s", graph.ErrNotFound, path)
	}
	return f, nil
}

// jsonResult returns v as indented JSON text content. Views are recursive, so
// they are not exposed through a derived output schema.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return textResult(string(b)), nil, nil
}

func textResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: s}}}
}
