package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/codesearch-mcp/internal/extractor"
	"github.com/dshills/codesearch-mcp/internal/indexer"
	"github.com/dshills/codesearch-mcp/internal/keyword"
	"github.com/dshills/codesearch-mcp/internal/scope"
	"github.com/dshills/codesearch-mcp/internal/searcher"
	"github.com/dshills/codesearch-mcp/internal/watcher"
	"github.com/dshills/codesearch-mcp/pkg/types"
)

// EnvPrefix prefixes environment overrides: CODESEARCH_SEARCH_RESULT_BUDGET=20
const EnvPrefix = "CODESEARCH"

// Config holds all configuration settings
type Config struct {
	Root      string       `mapstructure:"root"`
	FileScope string       `mapstructure:"file_scope"`
	Index     IndexConfig  `mapstructure:"index"`
	Search    SearchConfig `mapstructure:"search"`
	Log       LogConfig    `mapstructure:"log"`
}

type IndexConfig struct {
	Workers     int      `mapstructure:"workers"`
	MaxFileSize int64    `mapstructure:"max_file_size"`
	MaxFiles    int      `mapstructure:"max_files"`
	IgnoreDirs  []string `mapstructure:"ignore_dirs"`
	CachePath   string   `mapstructure:"cache_path"` // empty disables the on-disk cache
	Watch       bool     `mapstructure:"watch"`
	DebounceMs  int      `mapstructure:"debounce_ms"`
}

type SearchConfig struct {
	ResultBudget    int     `mapstructure:"result_budget"`
	ContextWindow   int     `mapstructure:"context_window"`
	SnippetMaxLines int     `mapstructure:"snippet_max_lines"`
	BM25K1          float64 `mapstructure:"bm25_k1"`
	BM25B           float64 `mapstructure:"bm25_b"`
	Stemming        bool    `mapstructure:"stemming"`
	QueryCacheSize  int     `mapstructure:"query_cache_size"`
	Suggestions     int     `mapstructure:"suggestions"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Root:      ".",
		FileScope: types.DefaultFileScope,
		Index: IndexConfig{
			Workers:     runtime.NumCPU(),
			MaxFileSize: indexer.DefaultMaxFileSize,
			MaxFiles:    scope.DefaultMaxFiles,
			IgnoreDirs:  append([]string(nil), scope.DefaultIgnoreDirs...),
			DebounceMs:  int(watcher.DefaultDebounce.Milliseconds()),
		},
		Search: SearchConfig{
			ResultBudget:    searcher.DefaultResultBudget,
			ContextWindow:   extractor.DefaultWindow,
			SnippetMaxLines: searcher.DefaultSnippetMaxLines,
			BM25K1:          keyword.DefaultK1,
			BM25B:           keyword.DefaultB,
			QueryCacheSize:  searcher.DefaultCacheSize,
			Suggestions:     searcher.DefaultSuggestions,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path, or from the standard locations when
// path is empty, applying CODESEARCH_* environment overrides on top. A missing
// config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".codesearch")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".codesearch"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply to keys
// absent from the config file
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("root", cfg.Root)
	v.SetDefault("file_scope", cfg.FileScope)

	v.SetDefault("index.workers", cfg.Index.Workers)
	v.SetDefault("index.max_file_size", cfg.Index.MaxFileSize)
	v.SetDefault("index.max_files", cfg.Index.MaxFiles)
	v.SetDefault("index.ignore_dirs", cfg.Index.IgnoreDirs)
	v.SetDefault("index.cache_path", cfg.Index.CachePath)
	v.SetDefault("index.watch", cfg.Index.Watch)
	v.SetDefault("index.debounce_ms", cfg.Index.DebounceMs)

	v.SetDefault("search.result_budget", cfg.Search.ResultBudget)
	v.SetDefault("search.context_window", cfg.Search.ContextWindow)
	v.SetDefault("search.snippet_max_lines", cfg.Search.SnippetMaxLines)
	v.SetDefault("search.bm25_k1", cfg.Search.BM25K1)
	v.SetDefault("search.bm25_b", cfg.Search.BM25B)
	v.SetDefault("search.stemming", cfg.Search.Stemming)
	v.SetDefault("search.query_cache_size", cfg.Search.QueryCacheSize)
	v.SetDefault("search.suggestions", cfg.Search.Suggestions)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.Root) == "" {
		add("root is required")
	}
	if c.Index.Workers <= 0 {
		add("index.workers must be positive, got %d", c.Index.Workers)
	}
	if c.Index.MaxFileSize <= 0 {
		add("index.max_file_size must be positive, got %d", c.Index.MaxFileSize)
	}
	if c.Index.MaxFiles <= 0 {
		add("index.max_files must be positive, got %d", c.Index.MaxFiles)
	}
	if c.Index.DebounceMs <= 0 {
		add("index.debounce_ms must be positive, got %d", c.Index.DebounceMs)
	}
	if c.Search.ResultBudget <= 0 {
		add("search.result_budget must be positive, got %d", c.Search.ResultBudget)
	}
	if c.Search.ContextWindow <= 0 {
		add("search.context_window must be positive, got %d", c.Search.ContextWindow)
	}
	if c.Search.SnippetMaxLines <= 0 {
		add("search.snippet_max_lines must be positive, got %d", c.Search.SnippetMaxLines)
	}
	if c.Search.BM25K1 <= 0 || c.Search.BM25K1 > 3 {
		add("search.bm25_k1 must be within (0, 3], got %g", c.Search.BM25K1)
	}
	if c.Search.BM25B < 0 || c.Search.BM25B > 1 {
		add("search.bm25_b must be within [0, 1], got %g", c.Search.BM25B)
	}
	if c.Search.Suggestions < 0 {
		add("search.suggestions must not be negative, got %d", c.Search.Suggestions)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ScopeConfig returns the file scope resolver settings
func (c *Config) ScopeConfig() scope.Config {
	return scope.Config{
		Root:           c.Root,
		DefaultPattern: c.FileScope,
		IgnoreDirs:     c.Index.IgnoreDirs,
		MaxFiles:       c.Index.MaxFiles,
	}
}

// IndexerConfig returns the index store settings for an absolute root
func (c *Config) IndexerConfig(root string) indexer.Config {
	return indexer.Config{
		Root:        root,
		Workers:     c.Index.Workers,
		MaxFileSize: c.Index.MaxFileSize,
		Stemming:    c.Search.Stemming,
	}
}

// SearcherConfig returns the query planner settings. A zero cache size
// disables the query cache.
func (c *Config) SearcherConfig() searcher.Config {
	cacheSize := c.Search.QueryCacheSize
	if cacheSize <= 0 {
		cacheSize = -1
	}
	suggestions := c.Search.Suggestions
	if suggestions == 0 {
		suggestions = -1
	}
	return searcher.Config{
		ResultBudget:    c.Search.ResultBudget,
		ContextWindow:   c.Search.ContextWindow,
		SnippetMaxLines: c.Search.SnippetMaxLines,
		K1:              c.Search.BM25K1,
		B:               c.Search.BM25B,
		CacheSize:       cacheSize,
		Suggestions:     suggestions,
	}
}

// WatcherConfig returns the file watcher settings
func (c *Config) WatcherConfig() watcher.Config {
	return watcher.Config{Debounce: time.Duration(c.Index.DebounceMs) * time.Millisecond}
}
