package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	Logger *slog.Logger
	// Retries is how many times a transaction that failed with
	// ErrStoreUnavailable is retried. Zero selects DefaultRetries and a
	// negative value disables retries.
	Retries int
	// RetryBackoff is the wait before the first retry; later retries wait
	// proportionally longer.
	RetryBackoff time.Duration
	// IdentityCacheSize bounds the committed Directory/File identity cache.
	IdentityCacheSize int
}

// DefaultRetries is the retry count used when Options.Retries is zero.
const DefaultRetries = 3

const (
	defaultRetryBackoff      = 50 * time.Millisecond
	defaultIdentityCacheSize = 4096
)

// Engine merges parsed file facts into a Store. It is safe for concurrent
// use: each Ingest call runs in its own write transaction.
type Engine struct {
	store  Store
	logger *slog.Logger
	opts   Options
	ids    *lru.Cache[Key, ID]
}

// NewEngine returns an Engine writing to store.
func NewEngine(store Store, opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retries == 0 {
		opts.Retries = DefaultRetries
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	if opts.IdentityCacheSize <= 0 {
		opts.IdentityCacheSize = defaultIdentityCacheSize
	}
	ids, err := lru.New[Key, ID](opts.IdentityCacheSize)
	if err != nil {
		return nil, fmt.Errorf("identity cache: %w", err)
	}
	return &Engine{store: store, logger: opts.Logger, opts: opts, ids: ids}, nil
}

// Store returns the engine's store.
func (e *Engine) Store() Store { return e.store }

// IngestResult summarises one successful ingestion.
type IngestResult struct {
	Path     string       `json:"path"`
	FileID   ID           `json:"fileId"`
	Created  int          `json:"created"`
	Updated  int          `json:"updated"`
	Deleted  int          `json:"deleted"`
	Skipped  []*FactError `json:"skipped,omitempty"`
	Attempts int          `json:"attempts"`
}

// Ingest merges facts for the file at filePath in one transaction. The file's
// previous facts are replaced: owned imports, exports, components, enum
// members, parameters and generic parameters no longer reported are deleted,
// and every edge owned by an entity of the file is rewritten.
//
// Invalid entities are skipped and listed in the result. A failure rolls back
// the whole file and is returned as an *IngestError.
func (e *Engine) Ingest(ctx context.Context, filePath string, facts *FileFacts) (*IngestResult, error) {
	start := time.Now()
	defer func() { ingestDuration.Observe(time.Since(start).Seconds()) }()

	p := NormalizePath(filePath)
	if filePath == "" || p == "." || p == "/" {
		ingestTotal.WithLabelValues("failed").Inc()
		return nil, &IngestError{Path: filePath, Err: fmt.Errorf("%w: empty file path", ErrInvalidFact)}
	}
	if facts == nil {
		facts = &FileFacts{}
	}
	clean, skipped := sanitize(facts)
	for _, fe := range skipped {
		skippedFacts.WithLabelValues(string(fe.Kind)).Inc()
		e.logger.Warn("skipping invalid fact",
			slog.String("path", p),
			slog.String("kind", string(fe.Kind)),
			slog.String("name", fe.Name),
			slog.String("reason", fe.Reason),
		)
	}

	for attempt := 1; ; attempt++ {
		res, err := e.ingestOnce(ctx, p, clean)
		if err == nil {
			res.Skipped = skipped
			res.Attempts = attempt
			ingestTotal.WithLabelValues("ok").Inc()
			e.logger.Debug("ingested file",
				slog.String("path", p),
				slog.Int("created", res.Created),
				slog.Int("updated", res.Updated),
				slog.Int("deleted", res.Deleted),
				slog.Int("skipped", len(skipped)),
			)
			return res, nil
		}
		if !errors.Is(err, ErrStoreUnavailable) || attempt > e.opts.Retries || ctx.Err() != nil {
			ingestTotal.WithLabelValues("failed").Inc()
			return nil, &IngestError{Path: p, Err: err}
		}
		ingestRetries.Inc()
		e.logger.Warn("retrying ingestion",
			slog.String("path", p),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-time.After(e.opts.RetryBackoff * time.Duration(attempt)):
		case <-ctx.Done():
			ingestTotal.WithLabelValues("failed").Inc()
			return nil, &IngestError{Path: p, Err: unavailable("ingest", ctx.Err())}
		}
	}
}

func (e *Engine) ingestOnce(ctx context.Context, p string, facts *FileFacts) (*IngestResult, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res := &IngestResult{Path: p}
	r := newResolver(tx, e.ids, func(op writeOp) {
		entityWrites.WithLabelValues(string(op)).Inc()
		switch op {
		case opCreated:
			res.Created++
		case opUpdated:
			res.Updated++
		case opDeleted:
			res.Deleted++
		}
	})
	m := &merge{tx: tx, r: r, facts: facts}
	if err := m.run(ctx, p); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	r.publish()
	res.FileID = m.file.ID
	return res, nil
}

// merge holds the state of one file's transaction.
type merge struct {
	tx    Tx
	r     *resolver
	facts *FileFacts
	file  Entity

	functions map[string]ID
	generics  map[string]map[string]ID // function name -> generic name -> Type ID
}

func (m *merge) run(ctx context.Context, p string) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"file", func(ctx context.Context) error { return m.mergeFile(ctx, p) }},
		{"interfaces", m.mergeInterfaces},
		{"classes", m.mergeClasses},
		{"enums", m.mergeEnums},
		{"components", m.mergeComponents},
		{"imports", m.mergeImports},
		{"exports", m.mergeExports},
		{"types", m.mergeTypes},
		{"variables", m.mergeVariables},
		{"return types", m.materializeReturnTypes},
		{"functions", m.mergeFunctions},
		{"signatures", m.mergeSignatures},
		{"bodies", m.mergeBodies},
		{"stale", m.clearStale},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

func (m *merge) mergeFile(ctx context.Context, p string) error {
	_, file, err := m.r.file(ctx, p, false)
	if err != nil {
		return err
	}
	m.file = file
	return nil
}

func (m *merge) mergeInterfaces(ctx context.Context) error {
	for _, in := range m.facts.Interfaces {
		if _, err := m.r.declare(ctx, KindInterface, in.Name, m.file.ID, Attrs{}); err != nil {
			return err
		}
	}
	return nil
}

func (m *merge) mergeClasses(ctx context.Context) error {
	for _, c := range m.facts.Classes {
		cls, err := m.r.declare(ctx, KindClass, c.Name, m.file.ID, Attrs{})
		if err != nil {
			return err
		}
		ids := make([]ID, 0, len(c.Implements))
		for _, name := range c.Implements {
			in, err := m.r.ref(ctx, KindInterface, name, m.file.ID)
			if err != nil {
				return err
			}
			ids = append(ids, in.ID)
		}
		if err := m.tx.SetEdges(ctx, EdgeImplements, cls.ID, ids); err != nil {
			return err
		}
	}
	return nil
}

func (m *merge) mergeEnums(ctx context.Context) error {
	for _, en := range m.facts.Enums {
		enum, err := m.r.declare(ctx, KindEnum, en.Name, m.file.ID, Attrs{})
		if err != nil {
			return err
		}
		keep := make(map[string]bool, len(en.Members))
		for i, mem := range en.Members {
			key := Key{Kind: KindEnumMember, Name: mem.Name, FileID: m.file.ID, ParentID: enum.ID}
			if _, err := m.r.upsert(ctx, key, Attrs{Position: i}); err != nil {
				return err
			}
			keep[mem.Name] = true
		}
		have, err := m.tx.Children(ctx, enum.ID, KindEnumMember)
		if err != nil {
			return err
		}
		if err := m.r.deleteStale(ctx, have, keep); err != nil {
			return err
		}
	}
	return nil
}

func (m *merge) mergeComponents(ctx context.Context) error {
	keep := make(map[string]bool, len(m.facts.Components))
	for _, c := range m.facts.Components {
		attrs := Attrs{Props: string(c.Props), GenericTypes: []string(c.GenericTypes)}
		if _, err := m.r.upsert(ctx, m.owned(KindComponent, c.Name), attrs); err != nil {
			return err
		}
		keep[c.Name] = true
	}
	return m.dropUnreported(ctx, KindComponent, keep)
}

// combineImports folds statements that import the same path into one fact:
// names are unioned in order, the first default import and resolved path win.
func combineImports(in []ImportFacts) []ImportFacts {
	at := make(map[string]int, len(in))
	var out []ImportFacts
	for _, im := range in {
		i, seen := at[im.Path]
		if !seen {
			i = len(out)
			at[im.Path] = i
			out = append(out, ImportFacts{Path: im.Path})
		}
		dst := &out[i]
		for _, n := range im.Names {
			if !slices.Contains(dst.Names, n) {
				dst.Names = append(dst.Names, n)
			}
		}
		if dst.DefaultImport == "" {
			dst.DefaultImport = im.DefaultImport
		}
		if dst.ResolvedPath == "" {
			dst.ResolvedPath = im.ResolvedPath
		}
	}
	return out
}

func (m *merge) mergeImports(ctx context.Context) error {
	keep := make(map[string]bool, len(m.facts.Imports))
	for _, im := range combineImports(m.facts.Imports) {
		attrs := Attrs{Names: im.Names, DefaultImport: im.DefaultImport}
		imp, err := m.r.upsert(ctx, m.owned(KindImport, im.Path), attrs)
		if err != nil {
			return err
		}
		keep[im.Path] = true

		var target []ID
		if im.ResolvedPath != "" {
			rp := NormalizePath(im.ResolvedPath)
			if rp == m.file.Name {
				target = []ID{m.file.ID}
			} else {
				_, f, err := m.r.file(ctx, rp, true)
				if err != nil {
					return err
				}
				target = []ID{f.ID}
			}
		}
		if err := m.tx.SetEdges(ctx, EdgeImportsFile, imp.ID, target); err != nil {
			return err
		}
	}
	return m.dropUnreported(ctx, KindImport, keep)
}

func (m *merge) mergeExports(ctx context.Context) error {
	keep := make(map[string]bool, len(m.facts.Exports))
	for _, name := range m.facts.Exports {
		if _, err := m.r.upsert(ctx, m.owned(KindExport, name), Attrs{}); err != nil {
			return err
		}
		keep[name] = true
	}
	return m.dropUnreported(ctx, KindExport, keep)
}

func (m *merge) mergeTypes(ctx context.Context) error {
	for _, t := range m.facts.Types {
		if _, err := m.r.declare(ctx, KindType, t.Name, m.file.ID, Attrs{Definition: t.Definition}); err != nil {
			return err
		}
	}
	return nil
}

func (m *merge) mergeVariables(ctx context.Context) error {
	for _, v := range m.facts.Variables {
		variable, err := m.r.declare(ctx, KindVariable, v.Name, m.file.ID, Attrs{})
		if err != nil {
			return err
		}
		var typ []ID
		if v.Type != "" {
			t, err := m.r.ref(ctx, KindType, v.Type, m.file.ID)
			if err != nil {
				return err
			}
			typ = []ID{t.ID}
		}
		if err := m.tx.SetEdges(ctx, EdgeVariableType, variable.ID, typ); err != nil {
			return err
		}
	}
	return nil
}

// materializeReturnTypes resolves every distinct return type name that is
// not one of its function's own generic parameters, creating placeholders
// for names declared nowhere.
func (m *merge) materializeReturnTypes(ctx context.Context) error {
	seen := make(map[string]bool)
	for _, fn := range m.facts.Functions {
		rt := fn.ReturnType
		if rt == "" || seen[rt] || slices.Contains(fn.GenericTypes, rt) {
			continue
		}
		seen[rt] = true
		if _, err := m.r.ref(ctx, KindType, rt, m.file.ID); err != nil {
			return err
		}
	}
	return nil
}

func (m *merge) mergeFunctions(ctx context.Context) error {
	m.functions = make(map[string]ID, len(m.facts.Functions))
	for _, fn := range m.facts.Functions {
		f, err := m.r.declare(ctx, KindFunction, fn.Name, m.file.ID, Attrs{})
		if err != nil {
			return err
		}
		m.functions[fn.Name] = f.ID
	}
	return nil
}

// mergeSignatures writes generic parameters, the return type and the
// ordered parameters of every function.
func (m *merge) mergeSignatures(ctx context.Context) error {
	m.generics = make(map[string]map[string]ID, len(m.facts.Functions))
	for _, fn := range m.facts.Functions {
		fnID := m.functions[fn.Name]

		generics := make(map[string]ID, len(fn.GenericTypes))
		genericIDs := make([]ID, 0, len(fn.GenericTypes))
		keep := make(map[string]bool, len(fn.GenericTypes))
		for i, g := range fn.GenericTypes {
			key := Key{Kind: KindType, Name: g, FileID: m.file.ID, ParentID: fnID}
			t, err := m.r.upsert(ctx, key, Attrs{Position: i})
			if err != nil {
				return err
			}
			generics[g] = t.ID
			genericIDs = append(genericIDs, t.ID)
			keep[g] = true
		}
		m.generics[fn.Name] = generics
		if err := m.tx.SetEdges(ctx, EdgeGenericTypes, fnID, genericIDs); err != nil {
			return err
		}
		have, err := m.tx.Children(ctx, fnID, KindType)
		if err != nil {
			return err
		}
		if err := m.r.deleteStale(ctx, have, keep); err != nil {
			return err
		}

		var ret []ID
		if fn.ReturnType != "" {
			id, err := m.typeRef(ctx, fn.ReturnType, generics)
			if err != nil {
				return err
			}
			ret = []ID{id}
		}
		if err := m.tx.SetEdges(ctx, EdgeReturnType, fnID, ret); err != nil {
			return err
		}

		paramIDs := make([]ID, 0, len(fn.Parameters))
		keep = make(map[string]bool, len(fn.Parameters))
		for i, param := range fn.Parameters {
			// The type resolves before the parameter row is written.
			var typ []ID
			if param.Type != "" {
				id, err := m.typeRef(ctx, string(param.Type), generics)
				if err != nil {
					return err
				}
				typ = []ID{id}
			}
			key := Key{Kind: KindVariable, Name: param.Name, FileID: m.file.ID, ParentID: fnID}
			v, err := m.r.upsert(ctx, key, Attrs{Position: i})
			if err != nil {
				return err
			}
			if err := m.tx.SetEdges(ctx, EdgeVariableType, v.ID, typ); err != nil {
				return err
			}
			paramIDs = append(paramIDs, v.ID)
			keep[param.Name] = true
		}
		if err := m.tx.SetEdges(ctx, EdgeParameters, fnID, paramIDs); err != nil {
			return err
		}
		have, err = m.tx.Children(ctx, fnID, KindVariable)
		if err != nil {
			return err
		}
		if err := m.r.deleteStale(ctx, have, keep); err != nil {
			return err
		}
	}
	return nil
}

// mergeBodies replaces the calls, modifies and uses edges of every function.
func (m *merge) mergeBodies(ctx context.Context) error {
	for _, fn := range m.facts.Functions {
		fnID := m.functions[fn.Name]
		sets := []struct {
			edge  EdgeKind
			kind  Kind
			names []string
		}{
			{EdgeCalls, KindFunction, fn.Calls},
			{EdgeModifies, KindVariable, fn.Modifies},
			{EdgeUses, KindVariable, fn.Uses},
		}
		for _, s := range sets {
			ids := make([]ID, 0, len(s.names))
			for _, name := range s.names {
				target, err := m.r.ref(ctx, s.kind, name, m.file.ID)
				if err != nil {
					return err
				}
				ids = append(ids, target.ID)
			}
			if err := m.tx.SetEdges(ctx, s.edge, fnID, ids); err != nil {
				return err
			}
		}
	}
	return nil
}

// functionEdges are the edge tables owned by a Function.
var functionEdges = []EdgeKind{EdgeReturnType, EdgeParameters, EdgeGenericTypes, EdgeCalls, EdgeModifies, EdgeUses}

// clearStale empties the outgoing edges of functions, classes and file-level
// variables the file no longer reports, and drops the parameter and generic
// rows of vanished functions. The rows themselves stay.
func (m *merge) clearStale(ctx context.Context) error {
	fns, err := m.tx.Owned(ctx, m.file.ID, KindFunction)
	if err != nil {
		return err
	}
	for _, fn := range fns {
		if _, ok := m.functions[fn.Name]; ok {
			continue
		}
		for _, kind := range functionEdges {
			if err := m.tx.SetEdges(ctx, kind, fn.ID, nil); err != nil {
				return err
			}
		}
		for _, kind := range []Kind{KindVariable, KindType} {
			have, err := m.tx.Children(ctx, fn.ID, kind)
			if err != nil {
				return err
			}
			if err := m.r.deleteStale(ctx, have, nil); err != nil {
				return err
			}
		}
	}

	reported := make(map[string]bool, len(m.facts.Classes))
	for _, c := range m.facts.Classes {
		reported[c.Name] = true
	}
	classes, err := m.tx.Owned(ctx, m.file.ID, KindClass)
	if err != nil {
		return err
	}
	for _, c := range classes {
		if reported[c.Name] {
			continue
		}
		if err := m.tx.SetEdges(ctx, EdgeImplements, c.ID, nil); err != nil {
			return err
		}
	}

	clear(reported)
	for _, v := range m.facts.Variables {
		reported[v.Name] = true
	}
	vars, err := m.tx.Owned(ctx, m.file.ID, KindVariable)
	if err != nil {
		return err
	}
	for _, v := range vars {
		if v.ParentID != 0 || reported[v.Name] {
			continue
		}
		if err := m.tx.SetEdges(ctx, EdgeVariableType, v.ID, nil); err != nil {
			return err
		}
	}
	return nil
}

func (m *merge) owned(kind Kind, name string) Key {
	return Key{Kind: kind, Name: name, FileID: m.file.ID}
}

// typeRef resolves a type name against the function's generic parameters
// first, then as an ordinary reference.
func (m *merge) typeRef(ctx context.Context, name string, generics map[string]ID) (ID, error) {
	if id, ok := generics[name]; ok {
		return id, nil
	}
	t, err := m.r.ref(ctx, KindType, name, m.file.ID)
	if err != nil {
		return 0, err
	}
	return t.ID, nil
}

func (m *merge) dropUnreported(ctx context.Context, kind Kind, keep map[string]bool) error {
	have, err := m.tx.Owned(ctx, m.file.ID, kind)
	if err != nil {
		return err
	}
	return m.r.deleteStale(ctx, have, keep)
}

// sanitize returns a copy of facts without the entities that lack a
// required attribute, and the list of what was dropped.
func sanitize(in *FileFacts) (*FileFacts, []*FactError) {
	var skipped []*FactError
	skip := func(kind Kind, name, reason string) {
		skipped = append(skipped, &FactError{Kind: kind, Name: name, Reason: reason})
	}
	out := &FileFacts{}

	for _, c := range in.Classes {
		switch {
		case c.Name == "":
			skip(KindClass, "", "missing name")
		case slices.Contains(c.Implements, ""):
			skip(KindClass, c.Name, "empty implemented interface name")
		default:
			out.Classes = append(out.Classes, c)
		}
	}
	for _, i := range in.Interfaces {
		if i.Name == "" {
			skip(KindInterface, "", "missing name")
			continue
		}
		out.Interfaces = append(out.Interfaces, i)
	}
	for _, t := range in.Types {
		if t.Name == "" {
			skip(KindType, "", "missing name")
			continue
		}
		out.Types = append(out.Types, t)
	}
	for _, e := range in.Enums {
		switch {
		case e.Name == "":
			skip(KindEnum, "", "missing name")
		case slices.ContainsFunc(e.Members, func(m EnumMemberFacts) bool { return m.Name == "" }):
			skip(KindEnum, e.Name, "unnamed member")
		default:
			out.Enums = append(out.Enums, e)
		}
	}
	for _, fn := range in.Functions {
		if reason := functionProblem(fn); reason != "" {
			skip(KindFunction, fn.Name, reason)
			continue
		}
		out.Functions = append(out.Functions, fn)
	}
	for _, v := range in.Variables {
		if v.Name == "" {
			skip(KindVariable, "", "missing name")
			continue
		}
		out.Variables = append(out.Variables, v)
	}
	for _, im := range in.Imports {
		if im.Path == "" {
			skip(KindImport, im.DefaultImport, "missing import path")
			continue
		}
		out.Imports = append(out.Imports, im)
	}
	for _, name := range in.Exports {
		if name == "" {
			skip(KindExport, "", "missing name")
			continue
		}
		out.Exports = append(out.Exports, name)
	}
	for _, c := range in.Components {
		if c.Name == "" {
			skip(KindComponent, "", "missing name")
			continue
		}
		out.Components = append(out.Components, c)
	}
	return out, skipped
}

func functionProblem(fn FunctionFacts) string {
	switch {
	case fn.Name == "":
		return "missing name"
	case slices.ContainsFunc(fn.Parameters, func(p ParameterFacts) bool { return p.Name == "" }):
		return "unnamed parameter"
	case slices.Contains(fn.GenericTypes, ""):
		return "unnamed generic type"
	case slices.Contains(fn.Calls, ""):
		return "empty call target"
	case slices.Contains(fn.Modifies, ""):
		return "empty modified variable"
	case slices.Contains(fn.Uses, ""):
		return "empty used variable"
	}
	return ""
}
