package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dshills/codesearch-mcp/internal/config"
	"github.com/dshills/codesearch-mcp/internal/indexer"
	"github.com/dshills/codesearch-mcp/internal/scope"
	"github.com/dshills/codesearch-mcp/internal/searcher"
	"github.com/dshills/codesearch-mcp/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	flagConfig  string
	flagRoot    string
	flagCache   string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:           "codesearch",
	Short:         "Code search over Python working trees, served over MCP",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"codesearch MCP Server\nVersion: %s\nBuild Time: %s\nBuild Mode: %s\nSQLite Driver: %s\n",
		version, buildTime, storage.BuildMode, storage.DriverName))

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default .codesearch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "working tree root (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagCache, "cache", "", "on-disk entity cache path (overrides index.cache_path)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd, searchCmd, indexCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// engine is the wired set of components every command works against
type engine struct {
	cfg      *config.Config
	logger   *logrus.Logger
	resolver *scope.Resolver
	store    *indexer.Store
	searcher *searcher.Searcher
	cache    *storage.SQLiteStorage
}

// newEngine loads configuration, applies flag overrides and wires the
// resolver, index store and query planner
func newEngine(ctx context.Context) (*engine, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagRoot != "" {
		cfg.Root = flagRoot
	}
	if flagCache != "" {
		cfg.Index.CachePath = flagCache
	}
	if flagVerbose {
		cfg.Log.Level = "debug"
	}

	// stdout is reserved for the MCP transport and command output
	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return nil, err
	}

	resolver, err := scope.New(cfg.ScopeConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open working tree: %w", err)
	}

	e := &engine{cfg: cfg, logger: logger, resolver: resolver}

	var cache storage.Storage
	if cfg.Index.CachePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Index.CachePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		e.cache, err = storage.NewSQLiteStorage(cfg.Index.CachePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		cache = e.cache
	}

	e.store, err = indexer.New(ctx, cfg.IndexerConfig(resolver.Root()), cache, logger)
	if err != nil {
		e.close()
		return nil, fmt.Errorf("failed to create index store: %w", err)
	}

	e.searcher, err = searcher.New(resolver, e.store, cfg.SearcherConfig(), logger)
	if err != nil {
		e.close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"root":       resolver.Root(),
		"file_scope": cfg.FileScope,
		"cache":      cfg.Index.CachePath,
		"build_mode": storage.BuildMode,
	}).Debug("Engine ready")

	return e, nil
}

func (e *engine) close() {
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			e.logger.WithError(err).Warn("Failed to close cache")
		}
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
