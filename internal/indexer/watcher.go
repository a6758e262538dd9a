package indexer

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dusk-indust/codegraph/internal/graph"
)

// DefaultDebounce is how long a path must stay quiet before it is ingested.
const DefaultDebounce = 200 * time.Millisecond

// Watcher re-ingests files under a root as they are created or written.
// Events for the same path are debounced so an editor's burst of writes
// yields one ingestion.
type Watcher struct {
	idx      *Indexer
	root     string
	debounce time.Duration
	logger   *slog.Logger

	// OnIngest, when set, is called after each ingestion attempt from the
	// Run goroutine.
	OnIngest func(rel string, res *graph.IngestResult, err error)
}

// NewWatcher creates a Watcher for root. debounce <= 0 means DefaultDebounce.
func (idx *Indexer) NewWatcher(root string, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{idx: idx, root: abs, debounce: debounce, logger: idx.logger}, nil
}

// Run watches until ctx is done. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	gi := loadGitignore(w.root)
	addTree := func(dir string) {
		_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			if rel := w.rel(p); rel != "." && w.idx.skipDir(rel, gi) {
				return filepath.SkipDir
			}
			if err := fsw.Add(p); err != nil {
				w.logger.Warn("watch failed", "dir", p, "error", err)
			}
			return nil
		})
	}
	addTree(w.root)
	w.logger.Info("watching", "root", w.root, "debounce", w.debounce)

	deb := newDebouncer(w.debounce)
	defer deb.close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				if ev.Has(fsnotify.Create) {
					addTree(ev.Name)
				}
				continue
			}
			rel := w.rel(ev.Name)
			if rel == "." || !w.idx.accept(rel, gi) {
				continue
			}
			deb.touch(rel)

		case rel := <-deb.ready:
			deb.fired(rel)
			res, err := w.idx.IngestFile(ctx, w.root, rel)
			if err != nil {
				w.logger.Warn("re-ingest failed", "path", rel, "error", err)
			} else {
				w.logger.Info("re-ingested", "path", rel, "created", res.Created, "updated", res.Updated, "deleted", res.Deleted)
			}
			if w.OnIngest != nil {
				w.OnIngest(rel, res, err)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// debouncer delivers a path on ready once it has been quiet for delay. touch
// and fired are called from one goroutine; timer callbacks give up when the
// debouncer is closed.
type debouncer struct {
	delay  time.Duration
	ready  chan string
	done   chan struct{}
	timers map[string]*time.Timer

	inflight atomic.Int32
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{
		delay:  delay,
		ready:  make(chan string),
		done:   make(chan struct{}),
		timers: make(map[string]*time.Timer),
	}
}

func (d *debouncer) touch(rel string) {
	if t, ok := d.timers[rel]; ok {
		t.Reset(d.delay)
		return
	}
	d.timers[rel] = time.AfterFunc(d.delay, func() {
		d.inflight.Add(1)
		defer d.inflight.Add(-1)
		select {
		case d.ready <- rel:
		case <-d.done:
		}
	})
}

func (d *debouncer) fired(rel string) { delete(d.timers, rel) }

func (d *debouncer) close() {
	for _, t := range d.timers {
		t.Stop()
	}
	close(d.done)
}

func (w *Watcher) rel(p string) string {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return "."
	}
	return filepath.ToSlash(rel)
}
