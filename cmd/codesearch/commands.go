package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/codesearch-mcp/internal/indexer"
	"github.com/dshills/codesearch-mcp/internal/mcp"
	"github.com/dshills/codesearch-mcp/internal/searcher"
	"github.com/dshills/codesearch-mcp/internal/watcher"
	"github.com/dshills/codesearch-mcp/pkg/types"
)

var (
	flagWatch    bool
	flagWarm     bool
	flagTerms    []string
	flagLines    []int
	flagScope    string
	flagJSON     bool
	flagSnippets bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var searchCmd = &cobra.Command{
	Use:   "search [term...]",
	Short: "Run one query and print the results",
	Example: `  codesearch search Series --scope 'src/**/*.py'
  codesearch search --lines 120 --scope src/models.py
  codesearch search -t "label not found" -t KeyError --json`,
	RunE: runSearch,
}

var indexCmd = &cobra.Command{
	Use:   "index [pattern]",
	Short: "Build the index for a scope (default: all source files)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	serveCmd.Flags().BoolVar(&flagWatch, "watch", false, "invalidate files as they change on disk (overrides index.watch)")
	serveCmd.Flags().BoolVar(&flagWarm, "warm", false, "index the default scope in the background at startup")

	searchCmd.Flags().StringSliceVarP(&flagTerms, "term", "t", nil, "search term (repeatable; positional args are terms too)")
	searchCmd.Flags().IntSliceVarP(&flagLines, "lines", "l", nil, "line numbers to show; the scope must match one file")
	searchCmd.Flags().StringVarP(&flagScope, "scope", "s", "", "file path or glob relative to the root")
	searchCmd.Flags().BoolVar(&flagJSON, "json", false, "print the response as JSON")
	searchCmd.Flags().BoolVar(&flagSnippets, "snippets", false, "print snippets below each result")

	indexCmd.Flags().BoolVar(&flagJSON, "json", false, "print statistics as JSON")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	if flagWatch || e.cfg.Index.Watch {
		w, err := watcher.New(e.resolver, e.store, e.cfg.WatcherConfig(), e.logger)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			_ = w.Close()
			return fmt.Errorf("failed to start file watcher: %w", err)
		}
		defer func() { _ = w.Close() }()
	}

	if flagWarm {
		go func() {
			paths, err := e.resolver.Resolve("")
			if err != nil {
				e.logger.WithError(err).Warn("Warm-up skipped")
				return
			}
			if _, err := e.store.Warm(ctx, paths); err != nil && !errors.Is(err, indexer.ErrBuildInProgress) {
				e.logger.WithError(err).Warn("Warm-up failed")
			}
		}()
	}

	server, err := mcp.NewServer(e.resolver, e.store, e.searcher, e.logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	e.logger.WithField("version", version).Info("codesearch MCP server starting")
	if err := server.Serve(ctx); err != nil && !errors.Is(err, ctx.Err()) {
		return fmt.Errorf("server error: %w", err)
	}
	e.logger.Info("Server stopped")
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	query := types.SearchQuery{
		SearchTerms: append(append([]string(nil), args...), flagTerms...),
		LineNums:    flagLines,
		FileScope:   flagScope,
	}
	resp, err := e.searcher.Search(ctx, query)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagJSON {
		return writeJSON(out, resp)
	}
	printResponse(out, resp, flagSnippets)
	return nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	pattern := ""
	if len(args) == 1 {
		pattern = args[0]
	}
	paths, err := e.resolver.Resolve(pattern)
	if err != nil {
		return err
	}

	stats, err := e.store.Warm(ctx, paths)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagJSON {
		return writeJSON(out, stats)
	}
	printStatistics(out, stats, e.store.Status())
	return nil
}

func printResponse(w io.Writer, resp *searcher.Response, snippets bool) {
	for _, r := range resp.Results {
		loc := fmt.Sprintf("%s:%d-%d", r.FilePath, r.Lines.Start, r.Lines.End)
		line := fmt.Sprintf("%-40s %-12s", loc, r.MatchKind)
		if r.Score != nil {
			line += fmt.Sprintf(" %7.3f", *r.Score)
		} else {
			line += fmt.Sprintf(" %7s", "-")
		}
		if r.QualifiedName != "" {
			line += "  " + r.QualifiedName
		}
		fmt.Fprintln(w, line)

		if snippets {
			for _, l := range strings.Split(r.Snippet, "\n") {
				fmt.Fprintln(w, "    "+l)
			}
			fmt.Fprintln(w)
		}
	}

	summary := fmt.Sprintf("%d results from %d files", len(resp.Results), resp.FilesSearched)
	if resp.Truncated {
		summary += fmt.Sprintf(" (truncated from %d)", resp.TotalMatches)
	}
	fmt.Fprintln(w, summary)
	if len(resp.Unstructured) > 0 {
		fmt.Fprintf(w, "text-only (parse errors): %s\n", strings.Join(resp.Unstructured, ", "))
	}
	if len(resp.Suggestions) > 0 {
		fmt.Fprintf(w, "did you mean: %s\n", strings.Join(resp.Suggestions, ", "))
	}
}

func printStatistics(w io.Writer, stats *indexer.Statistics, status indexer.Status) {
	fmt.Fprintf(w, "Files: %d requested, %d built, %d from cache, %d reused\n",
		stats.FilesRequested, stats.FilesBuilt, stats.FilesFromCache, stats.FilesReused+stats.FilesRefreshed)
	fmt.Fprintf(w, "Unstructured: %d, Failed: %d\n", stats.Unstructured, stats.Failed)
	fmt.Fprintf(w, "Entities: %d (generation %d)\n", status.Entities, status.Generation)
	fmt.Fprintf(w, "Duration: %s\n", stats.Duration)
	for _, msg := range stats.ErrorMessages {
		fmt.Fprintf(w, "  %s\n", msg)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
