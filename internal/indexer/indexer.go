// Package indexer walks a repository, parses supported source files and
// feeds their facts to the graph engine.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/codegraph/internal/graph"
)

// DefaultExcludeDirs are directory names never descended into.
var DefaultExcludeDirs = []string{
	".git", ".codegraph", "node_modules", "vendor", "dist", "build", "target",
	"__pycache__", ".venv", ".idea",
}

// Options configures an Indexer.
type Options struct {
	// Workers bounds concurrent ingestion. Zero means GOMAXPROCS.
	Workers int
	// ExcludeDirs are directory base names to skip in addition to .gitignore.
	// Nil means DefaultExcludeDirs.
	ExcludeDirs []string
	// Extensions restricts indexing to these file extensions. Empty means
	// every extension the parser supports.
	Extensions []string
	Logger     *slog.Logger
}

// FileFailure records why one file could not be ingested.
type FileFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report summarises an indexing run.
type Report struct {
	Root     string        `json:"root"`
	Files    int           `json:"files"`
	Ingested int           `json:"ingested"`
	Failed   []FileFailure `json:"failed,omitempty"`
	Skipped  int           `json:"skippedFacts"`
	Duration time.Duration `json:"duration"`
}

// Indexer ingests whole repositories or single files.
type Indexer struct {
	engine  *graph.Engine
	parser  graph.FactsParser
	logger  *slog.Logger
	workers int
	exclude map[string]bool
	exts    map[string]bool

	mu       sync.Mutex
	resolver *ImportResolver
	resRoot  string
}

// New creates an Indexer feeding engine with facts from parser.
func New(engine *graph.Engine, parser graph.FactsParser, opts Options) *Indexer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.ExcludeDirs == nil {
		opts.ExcludeDirs = DefaultExcludeDirs
	}
	idx := &Indexer{
		engine:  engine,
		parser:  parser,
		logger:  opts.Logger,
		workers: opts.Workers,
		exclude: make(map[string]bool, len(opts.ExcludeDirs)),
		exts:    make(map[string]bool, len(opts.Extensions)),
	}
	for _, d := range opts.ExcludeDirs {
		idx.exclude[d] = true
	}
	for _, e := range opts.Extensions {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		idx.exts[strings.ToLower(e)] = true
	}
	return idx
}

// IndexRepo ingests every supported file under root. Per-file failures are
// recorded in the report and logged; they never stop other files. The
// returned error is non-nil only when the walk itself fails or ctx ends.
func (idx *Indexer) IndexRepo(ctx context.Context, root string) (*Report, error) {
	start := time.Now()
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	files, err := idx.Discover(root)
	if err != nil {
		return nil, err
	}
	resolver := NewImportResolver(root, files)
	idx.mu.Lock()
	idx.resolver, idx.resRoot = resolver, root
	idx.mu.Unlock()

	report := &Report{Root: root, Files: len(files)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)
	for _, rel := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := idx.ingest(gctx, root, rel, resolver)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				idx.logger.Warn("ingest failed", "path", rel, "error", err)
				report.Failed = append(report.Failed, FileFailure{Path: rel, Reason: err.Error()})
				return nil
			}
			report.Ingested++
			report.Skipped += len(res.Skipped)
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	slices.SortFunc(report.Failed, func(a, b FileFailure) int { return strings.Compare(a.Path, b.Path) })
	report.Duration = time.Since(start)
	idx.logger.Info("index complete",
		"root", root,
		"files", report.Files,
		"ingested", report.Ingested,
		"failed", len(report.Failed),
		"skipped_facts", report.Skipped,
		"duration", report.Duration,
	)
	return report, err
}

// IngestFile parses and ingests one file. rel is relative to root. The import
// resolver of the last IndexRepo run on root is reused and learns about rel.
func (idx *Indexer) IngestFile(ctx context.Context, root, rel string) (*graph.IngestResult, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	rel = graph.NormalizePath(rel)

	idx.mu.Lock()
	if idx.resolver == nil || idx.resRoot != root {
		files, err := idx.Discover(root)
		if err != nil {
			idx.mu.Unlock()
			return nil, err
		}
		idx.resolver, idx.resRoot = NewImportResolver(root, files), root
	}
	resolver := idx.resolver
	idx.mu.Unlock()

	resolver.Add(rel)
	return idx.ingest(ctx, root, rel, resolver)
}

func (idx *Indexer) ingest(ctx context.Context, root, rel string, resolver *ImportResolver) (*graph.IngestResult, error) {
	src, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, &graph.IngestError{Path: rel, Err: err}
	}
	facts, err := idx.parser.Parse(ctx, rel, src)
	if err != nil {
		return nil, &graph.IngestError{Path: rel, Err: fmt.Errorf("parse: %w", err)}
	}
	resolver.ResolveFacts(rel, facts)
	return idx.engine.Ingest(ctx, rel, facts)
}

// Discover lists the repository-relative paths of every indexable file under
// root, sorted.
func (idx *Indexer) Discover(root string) ([]string, error) {
	gi := loadGitignore(root)
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if idx.skipDir(rel, gi) {
				return filepath.SkipDir
			}
			return nil
		}
		if idx.accept(rel, gi) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	slices.Sort(files)
	return files, nil
}

func (idx *Indexer) skipDir(rel string, gi *ignore.GitIgnore) bool {
	if idx.exclude[filepath.Base(rel)] {
		return true
	}
	return gi != nil && gi.MatchesPath(rel+"/")
}

func (idx *Indexer) accept(rel string, gi *ignore.GitIgnore) bool {
	if !idx.parser.Supports(rel) {
		return false
	}
	if len(idx.exts) > 0 && !idx.exts[strings.ToLower(filepath.Ext(rel))] {
		return false
	}
	return gi == nil || !gi.MatchesPath(rel)
}

func loadGitignore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}
