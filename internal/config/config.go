// Package config loads codegraph settings from codegraph.yml, a .env file and
// CODEGRAPH_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/codegraph/internal/graph"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CODEGRAPH_"

// Config holds project-level settings loaded from codegraph.yml.
type Config struct {
	Store       StoreConfig   `yaml:"store,omitempty"`
	Extensions  []string      `yaml:"extensions,omitempty"`
	ExcludeDirs []string      `yaml:"excludeDirs,omitempty"`
	Workers     int           `yaml:"workers,omitempty"`
	Retries     int           `yaml:"retries"`
	CacheSize   int           `yaml:"cacheSize,omitempty"`
	LogLevel    string        `yaml:"logLevel,omitempty"`
	MCPAddr     string        `yaml:"mcpAddr,omitempty"`
	Debounce    time.Duration `yaml:"debounce,omitempty"`
}

// StoreConfig selects the store backend.
type StoreConfig struct {
	Backend string `yaml:"backend,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Store:    StoreConfig{Backend: graph.BackendSQLite, Path: filepath.Join(".codegraph", "graph.db")},
		Retries:  graph.DefaultRetries,
		LogLevel: "info",
		MCPAddr:  "localhost:8765",
	}
}

// Load reads codegraph.yml or codegraph.yaml from dir over the defaults, then
// loads dir/.env into the process environment (existing variables win) and
// applies CODEGRAPH_* overrides. A missing file is not an error.
func Load(dir string) (*Config, error) {
	cfg := Defaults()
	for _, name := range []string{"codegraph.yml", "codegraph.yaml"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		break
	}

	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = splitList(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("STORE_BACKEND", &c.Store.Backend)
	str("STORE_PATH", &c.Store.Path)
	str("LOG_LEVEL", &c.LogLevel)
	str("MCP_ADDR", &c.MCPAddr)
	list("EXTENSIONS", &c.Extensions)
	list("EXCLUDE_DIRS", &c.ExcludeDirs)
	for key, dst := range map[string]*int{"WORKERS": &c.Workers, "RETRIES": &c.Retries, "CACHE_SIZE": &c.CacheSize} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	if v, ok := lookup(EnvPrefix + "DEBOUNCE"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sDEBOUNCE: %w", EnvPrefix, err)
		}
		c.Debounce = d
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Backend) {
	case graph.BackendSQLite, graph.BackendKuzu, graph.BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.Retries)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cacheSize must not be negative, got %d", c.CacheSize)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level, or info when it is invalid.
func (c *Config) SlogLevel() slog.Level {
	l, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// EngineRetries converts Retries to graph.Options.Retries, where zero would
// select the engine default instead of disabling retries.
func (c *Config) EngineRetries() int {
	if c.Retries == 0 {
		return -1
	}
	return c.Retries
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
