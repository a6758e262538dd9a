package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/codegraph/internal/config"
	"github.com/dusk-indust/codegraph/internal/graph"
	"github.com/dusk-indust/codegraph/internal/indexer"
)

// version is set by goreleaser at build time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// app carries the root flags and the state built from them.
type app struct {
	root     string
	backend  string
	dbPath   string
	logLevel string

	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
	errOut io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}
	root := &cobra.Command{
		Use:   "codegraph",
		Short: "Build and query a knowledge graph of a codebase",
		Long: `codegraph parses source files with tree-sitter and merges their facts
(classes, interfaces, types, enums, functions, variables, imports, exports and
components) into a persistent graph that can be queried, reported on and
rendered as Mermaid diagrams.

Settings come from codegraph.yml in the root, a .env file, CODEGRAPH_*
environment variables and finally the flags below.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.root, "root", ".", "repository root")
	pf.StringVar(&a.backend, "backend", "", "store backend: sqlite, kuzu or memory")
	pf.StringVar(&a.dbPath, "db", "", "store path, relative to the root")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		a.indexCmd(),
		a.ingestCmd(),
		a.watchCmd(),
		a.filesCmd(),
		a.reportCmd(),
		a.diagramCmd(),
		a.projectCmd(),
		a.statsCmd(),
		a.clustersCmd(),
		a.serveCmd(),
		versionCmd(),
	)
	return root
}

// setup loads the configuration and applies the flags that were set.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.root)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Store.Backend = a.backend
	}
	if flags.Changed("db") {
		cfg.Store.Path = a.dbPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(a.logger)
	return nil
}

// openEngine opens the configured store and returns an engine over it. The
// caller closes the store.
func (a *app) openEngine(ctx context.Context) (*graph.Engine, graph.Store, error) {
	path := a.cfg.Store.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.root, path)
	}
	if a.cfg.Store.Backend != graph.BackendMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	store, err := graph.OpenStore(a.cfg.Store.Backend, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.InitSchema(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("init schema: %w", err)
	}
	eng, err := graph.NewEngine(store, graph.Options{
		Logger:            a.logger,
		Retries:           a.cfg.EngineRetries(),
		IdentityCacheSize: a.cfg.CacheSize,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return eng, store, nil
}

func (a *app) newIndexer(eng *graph.Engine) *indexer.Indexer {
	return indexer.New(eng, graph.NewTreeSitterParser(), indexer.Options{
		Workers:     a.cfg.Workers,
		ExcludeDirs: a.cfg.ExcludeDirs,
		Extensions:  a.cfg.Extensions,
		Logger:      a.logger,
	})
}

// withStore runs fn against an opened store and closes it afterwards.
func (a *app) withStore(ctx context.Context, fn func(*graph.Engine, graph.Store) error) error {
	eng, store, err := a.openEngine(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			a.logger.Warn("close store", "error", cerr)
		}
	}()
	return fn(eng, store)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
