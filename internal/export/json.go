package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dusk-indust/codegraph/internal/graph"
)

// GraphExport is the top-level JSON export structure.
type GraphExport struct {
	ExportedAt string            `json:"exportedAt"`
	Pattern    string            `json:"pattern,omitempty"`
	Stats      *graph.GraphStats `json:"stats"`
	Files      []*graph.View     `json:"files"`
}

// ExportFiles projects every File whose path matches pattern (SQL LIKE
// syntax, empty matches all) with graph.ReportRelations. At most limit files
// are exported; limit <= 0 means all. All files are read from one snapshot.
func ExportFiles(ctx context.Context, store graph.Store, pattern string, limit int) (*GraphExport, error) {
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = snap.Close() }()

	files, err := snap.List(ctx, graph.ListQuery{Kind: graph.KindFile, NameLike: pattern, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	stats, err := snap.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	out := &GraphExport{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Pattern:    pattern,
		Stats:      stats,
		Files:      make([]*graph.View, 0, len(files)),
	}
	for _, f := range files {
		v, err := graph.Project(ctx, snap, f.ID, graph.ReportRelations, ReportDepth)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", f.Name, err)
		}
		if v != nil {
			out.Files = append(out.Files, v)
		}
	}
	return out, nil
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
