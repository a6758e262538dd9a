package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad_NoFiles(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "codegraph.yaml", `
store:
  backend: kuzu
  path: data/graph
extensions: [.ts, .go]
excludeDirs:
  - fixtures
workers: 4
logLevel: debug
debounce: 500ms
`)
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, StoreConfig{Backend: "kuzu", Path: "data/graph"}, cfg.Store)
	assert.Equal(t, []string{".ts", ".go"}, cfg.Extensions)
	assert.Equal(t, []string{"fixtures"}, cfg.ExcludeDirs)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.Debounce)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "localhost:8765", cfg.MCPAddr, "unset keys keep their defaults")
}

func TestLoad_YMLWinsOverYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "codegraph.yml", "workers: 2\n")
	writeFile(t, dir, "codegraph.yaml", "workers: 9\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "codegraph.yml", "workers: 2\nlogLevel: warn\n")
	t.Setenv("CODEGRAPH_WORKERS", "8")
	t.Setenv("CODEGRAPH_EXCLUDE_DIRS", "gen, , third_party")
	t.Setenv("CODEGRAPH_STORE_BACKEND", "memory")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, []string{"gen", "third_party"}, cfg.ExcludeDirs)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "CODEGRAPH_MCP_ADDR=0.0.0.0:9000\nCODEGRAPH_RETRIES=5\n")
	// godotenv sets variables in the process; register them for cleanup.
	t.Setenv("CODEGRAPH_MCP_ADDR", "")
	t.Setenv("CODEGRAPH_RETRIES", "")
	require.NoError(t, os.Unsetenv("CODEGRAPH_MCP_ADDR"))
	require.NoError(t, os.Unsetenv("CODEGRAPH_RETRIES"))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.MCPAddr)
	assert.Equal(t, 5, cfg.Retries)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
		want string
	}{
		{name: "bad yaml", yaml: "workers: [", want: "parse codegraph.yml"},
		{name: "unknown backend", yaml: "store:\n  backend: postgres\n", want: `unknown store backend "postgres"`},
		{name: "negative workers", yaml: "workers: -1\n", want: "workers must not be negative"},
		{name: "negative retries", yaml: "retries: -2\n", want: "retries must not be negative"},
		{name: "bad level", yaml: "logLevel: chatty\n", want: `invalid log level "chatty"`},
		{name: "bad env number", env: map[string]string{"CODEGRAPH_WORKERS": "many"}, want: "CODEGRAPH_WORKERS"},
		{name: "bad env duration", env: map[string]string{"CODEGRAPH_DEBOUNCE": "soon"}, want: "CODEGRAPH_DEBOUNCE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.yaml != "" {
				writeFile(t, dir, "codegraph.yml", tt.yaml)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_ZeroRetriesDisablesRetries(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.EngineRetries())

	writeFile(t, dir, "codegraph.yml", "retries: 0\n")
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Retries)
	assert.Equal(t, -1, cfg.EngineRetries(), "the engine treats negative as no retries")

	t.Setenv("CODEGRAPH_RETRIES", "0")
	cfg, err = Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, -1, cfg.EngineRetries())
}

func TestSlogLevel_FallsBackToInfo(t *testing.T) {
	cfg := &Config{LogLevel: "nope"}
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}
