package indexer

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/mod/modfile"

	"github.com/dusk-indust/codegraph/internal/graph"
)

// ImportResolver turns import specifiers into repository-relative paths of
// files the indexer knows about. Lookups never touch the filesystem; only
// construction reads package.json and go.mod from the root.
type ImportResolver struct {
	root string

	mu       sync.RWMutex
	known    map[string]struct{}
	byDir    map[string][]string
	packages map[string]*npmPackage
	module   string
}

// npmPackage is a workspace package declared in the root package.json.
type npmPackage struct {
	dir      string
	entry    string
	subpaths map[string]string
}

// NewImportResolver builds a resolver over files, which are relative to root.
func NewImportResolver(root string, files []string) *ImportResolver {
	r := &ImportResolver{
		root:     root,
		known:    make(map[string]struct{}, len(files)),
		byDir:    make(map[string][]string),
		packages: make(map[string]*npmPackage),
	}
	for _, f := range files {
		r.register(graph.NormalizePath(f))
	}
	r.loadWorkspaces()
	if data, err := os.ReadFile(filepath.Join(root, "go.mod")); err == nil {
		r.module = modfile.ModulePath(data)
	}
	return r
}

// Add makes file resolvable. It is safe to call concurrently with Resolve.
func (r *ImportResolver) Add(file string) {
	r.mu.Lock()
	r.register(graph.NormalizePath(file))
	r.mu.Unlock()
}

func (r *ImportResolver) register(f string) {
	if _, dup := r.known[f]; dup {
		return
	}
	r.known[f] = struct{}{}
	dir := path.Dir(f)
	r.byDir[dir] = append(r.byDir[dir], f)
}

// Resolve maps spec, imported by the file from, to a known file. The import
// syntax is chosen by from's extension.
func (r *ImportResolver) Resolve(spec, from string) (string, bool) {
	lang, ok := graph.LanguageOf(from)
	if !ok || spec == "" {
		return "", false
	}
	from = graph.NormalizePath(from)

	r.mu.RLock()
	defer r.mu.RUnlock()
	switch lang {
	case graph.LangTypeScript, graph.LangTSX:
		if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") {
			return r.lookup(path.Join(path.Dir(from), spec), scriptSuffixes...)
		}
		return r.workspaceImport(spec)
	case graph.LangGo:
		return r.goPackage(spec)
	case graph.LangPython:
		return r.pythonRelative(spec, from)
	case graph.LangRust:
		for _, base := range rustCandidates(spec, from) {
			if f, ok := r.rustModule(base); ok {
				return f, true
			}
		}
	}
	return "", false
}

// ResolveFacts sets ResolvedPath on each import of facts that Resolve can
// place. Paths set by the parser are kept.
func (r *ImportResolver) ResolveFacts(from string, facts *graph.FileFacts) {
	for i, imp := range facts.Imports {
		if imp.ResolvedPath != "" {
			continue
		}
		if target, ok := r.Resolve(imp.Path, from); ok {
			facts.Imports[i].ResolvedPath = target
		}
	}
}

// lookup returns base itself or the first base+suffix that is a known file.
func (r *ImportResolver) lookup(base string, suffixes ...string) (string, bool) {
	if _, ok := r.known[base]; ok {
		return base, true
	}
	for _, s := range suffixes {
		if _, ok := r.known[base+s]; ok {
			return base + s, true
		}
	}
	return "", false
}

var scriptSuffixes = []string{".ts", ".tsx", ".js", ".jsx", ".mts", "/index.ts", "/index.tsx", "/index.js"}

func (r *ImportResolver) workspaceImport(spec string) (string, bool) {
	if pkg, ok := r.packages[spec]; ok {
		return pkg.entry, pkg.entry != ""
	}
	name, sub, ok := splitPackageSpec(spec)
	if !ok {
		return "", false
	}
	pkg, ok := r.packages[name]
	if !ok {
		return "", false
	}
	if f, ok := pkg.subpaths["./"+sub]; ok {
		return f, true
	}
	return r.lookup(path.Join(pkg.dir, sub), scriptSuffixes...)
}

// splitPackageSpec splits "@scope/pkg/a/b" into "@scope/pkg" and "a/b", and
// "pkg/a" into "pkg" and "a".
func splitPackageSpec(spec string) (name, sub string, ok bool) {
	rest := spec
	prefix := ""
	if strings.HasPrefix(spec, "@") {
		scope, after, found := strings.Cut(spec, "/")
		if !found {
			return "", "", false
		}
		prefix, rest = scope+"/", after
	}
	pkg, sub, found := strings.Cut(rest, "/")
	if !found || pkg == "" {
		return "", "", false
	}
	return prefix + pkg, sub, true
}

// goPackage maps a package inside the repository's module to its first
// non-test file in lexical order.
func (r *ImportResolver) goPackage(spec string) (string, bool) {
	if r.module == "" {
		return "", false
	}
	dir := "."
	if spec != r.module {
		sub, ok := strings.CutPrefix(spec, r.module+"/")
		if !ok {
			return "", false
		}
		dir = sub
	}
	files := slices.Sorted(slices.Values(r.byDir[dir]))
	i := slices.IndexFunc(files, func(f string) bool {
		return strings.HasSuffix(f, ".go") && !strings.HasSuffix(f, "_test.go")
	})
	if i < 0 {
		return "", false
	}
	return files[i], true
}

// pythonRelative resolves "from .x import y" style specifiers. The first dot
// is the importing package; every extra dot climbs one directory.
func (r *ImportResolver) pythonRelative(spec, from string) (string, bool) {
	mod := strings.TrimLeft(spec, ".")
	levels := len(spec) - len(mod)
	if levels == 0 {
		return "", false
	}
	dir := path.Dir(from)
	for range levels - 1 {
		dir = path.Dir(dir)
	}
	if mod == "" {
		return r.lookup(path.Join(dir, "__init__.py"))
	}
	return r.lookup(path.Join(dir, strings.ReplaceAll(mod, ".", "/")), ".py", "/__init__.py")
}

// rustCandidates lists the module paths a use declaration may point at,
// most specific first. Only crate, self and super paths are local.
func rustCandidates(spec, from string) []string {
	if before, _, ok := strings.Cut(spec, "::{"); ok {
		spec = before
	}
	head, rest, ok := strings.Cut(spec, "::")
	if !ok {
		return nil
	}
	rel := strings.ReplaceAll(rest, "::", "/")
	switch head {
	case "crate":
		out := []string{path.Join("src", rel), rel}
		if src := enclosingSrc(from); src != "" {
			out = append(out, path.Join(src, rel))
		}
		return out
	case "self":
		return []string{path.Join(path.Dir(from), rel)}
	case "super":
		return []string{path.Join(path.Dir(path.Dir(from)), rel)}
	}
	return nil
}

// rustModule tries base as a module, then its parent, since the last path
// segment often names an item rather than a module.
func (r *ImportResolver) rustModule(base string) (string, bool) {
	if f, ok := r.lookup(base, ".rs", "/mod.rs"); ok {
		return f, true
	}
	parent := path.Dir(base)
	if parent == "." || parent == base {
		return "", false
	}
	return r.lookup(parent, ".rs", "/mod.rs")
}

// enclosingSrc returns the closest ancestor directory of file named src.
func enclosingSrc(file string) string {
	for dir := path.Dir(file); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if path.Base(dir) == "src" {
			return dir
		}
	}
	return ""
}

type manifest struct {
	Name       string `json:"name"`
	Main       string `json:"main"`
	Workspaces any    `json:"workspaces"`
	Exports    any    `json:"exports"`
}

func readManifest(dir string) (*manifest, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, false
	}
	var m manifest
	if json.Unmarshal(data, &m) != nil {
		return nil, false
	}
	return &m, true
}

// workspaceGlobs reads both the array and the {"packages": [...]} forms.
func workspaceGlobs(v any) []string {
	if obj, ok := v.(map[string]any); ok {
		v = obj["packages"]
	}
	list, _ := v.([]any)
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (r *ImportResolver) loadWorkspaces() {
	root, ok := readManifest(r.root)
	if !ok {
		return
	}
	for _, glob := range workspaceGlobs(root.Workspaces) {
		dirs, _ := filepath.Glob(filepath.Join(r.root, filepath.FromSlash(glob)))
		for _, dir := range dirs {
			if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
				r.loadPackage(dir)
			}
		}
	}
}

func (r *ImportResolver) loadPackage(dir string) {
	m, ok := readManifest(dir)
	if !ok || m.Name == "" {
		return
	}
	rel, err := filepath.Rel(r.root, dir)
	if err != nil {
		return
	}
	pkg := &npmPackage{dir: filepath.ToSlash(rel), subpaths: map[string]string{}}
	inPkg := func(p string) (string, bool) {
		return r.lookup(path.Join(pkg.dir, p), scriptSuffixes...)
	}

	switch exp := m.Exports.(type) {
	case string:
		pkg.entry, _ = inPkg(exp)
	case map[string]any:
		for key, val := range exp {
			target := exportTarget(val)
			if target == "" {
				continue
			}
			f, ok := inPkg(target)
			if !ok {
				continue
			}
			if key == "." {
				pkg.entry = f
			} else {
				pkg.subpaths[key] = f
			}
		}
	}
	for _, fallback := range []string{m.Main, "src/index", "index"} {
		if pkg.entry != "" || fallback == "" {
			continue
		}
		pkg.entry, _ = inPkg(fallback)
	}
	r.packages[m.Name] = pkg
}

// exportTarget picks the file of an exports entry, preferring the import
// condition, then default, then require.
func exportTarget(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		for _, cond := range []string{"import", "default", "require"} {
			if next, ok := t[cond]; ok {
				return exportTarget(next)
			}
		}
	}
	return ""
}
