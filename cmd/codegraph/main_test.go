package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func fixture(t *testing.T) string {
	t.Helper()
	abs, err := filepath.Abs("../../testdata/fixtures/ts_project")
	require.NoError(t, err)
	return abs
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestIndex_MemoryBackend(t *testing.T) {
	out, err := runCLI(t, "index", "--root", fixture(t), "--backend", "memory", "--log-level", "error")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Indexed 5/5 files in "), out)
}

func TestIndex_JSON(t *testing.T) {
	out, err := runCLI(t, "index", "--root", fixture(t), "--backend", "memory", "--log-level", "error", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"ingested": 5`)
}

func TestIngest_FromFile(t *testing.T) {
	dir := t.TempDir()
	facts := filepath.Join(dir, "facts.json")
	require.NoError(t, os.WriteFile(facts, []byte(`{"functions":[{"name":"run"},{"name":""}],"exports":["run"]}`), 0o644))

	out, err := runCLI(t, "ingest", "src/run.ts", facts, "--root", dir, "--backend", "memory", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "src/run.ts: ")
	assert.Contains(t, out, "  skipped Function: ")
}

func TestIngest_InvalidFacts(t *testing.T) {
	dir := t.TempDir()
	facts := filepath.Join(dir, "facts.json")
	require.NoError(t, os.WriteFile(facts, []byte(`[1, 2]`), 0o644))

	_, err := runCLI(t, "ingest", "a.ts", facts, "--root", dir, "--backend", "memory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid fact")
}

func TestQueriesOnEmptyStore(t *testing.T) {
	dir := t.TempDir()
	base := []string{"--root", dir, "--backend", "memory"}

	out, err := runCLI(t, append([]string{"stats"}, base...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Entities: 0\n")
	assert.Contains(t, out, "Edges: 0\n")

	out, err = runCLI(t, append([]string{"clusters"}, base...)...)
	require.NoError(t, err)
	assert.Equal(t, "No clusters found.\n", out)

	out, err = runCLI(t, append([]string{"diagram"}, base...)...)
	require.NoError(t, err)
	assert.Equal(t, "graph TD\n", out)

	_, err = runCLI(t, append([]string{"report", "missing.ts"}, base...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestConfigErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, "stats", "--root", dir, "--backend", "postgres")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown store backend "postgres"`)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "codegraph.yml"), []byte("store:\n  backend: memory\n"), 0o644))
	_, err = runCLI(t, "serve", "--root", dir, "--transport", "carrier-pigeon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestSQLitePersistsAcrossCommands(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.ts"), []byte("export function main() { helper(); }\nfunction helper() {}\n"), 0o644))

	_, err := runCLI(t, "index", "--root", root, "--log-level", "error")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, ".codegraph", "graph.db"))

	out, err := runCLI(t, "files", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "\tapp.ts\n")

	out, err = runCLI(t, "report", "app.ts", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "    - main\n")
	assert.Contains(t, out, "      Calls:\n        - helper\n")
}
