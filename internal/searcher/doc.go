// Package searcher implements the query planner: it resolves a query's file
// scope, brings the index up to date and merges the results of every retrieval
// strategy into one ranked list.
//
// # Basic Usage
//
//	s, err := searcher.New(resolver, store, searcher.Config{}, logger)
//
//	resp, err := s.Search(ctx, types.SearchQuery{
//	    SearchTerms: []string{"Series", "fill missing values"},
//	    FileScope:   "src/**/*.py",
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("%s %s:%d-%d\n", r.MatchKind, r.FilePath, r.Lines.Start, r.Lines.End)
//	}
//
// # Term Queries
//
// Each search term is looked up three ways, concurrently per file:
//
//   - Exact name: the term is resolved against qualified names. A full name
//     scores 3, a suffix at a qualifier boundary 2 and a case-insensitive
//     suffix 1; only the best level found anywhere in scope is reported.
//   - Keyword: the term is tokenized like entity bodies and scored with BM25
//     over the documents of the query scope.
//   - Substring: every line containing the term verbatim.
//
// Results are deduplicated by file, line range and match kind, ordered by tier
// (exact name, keyword, substring), then by descending score, then by position,
// and truncated to the result budget. The ordering is total, so identical
// queries over an unchanged tree return identical prefixes.
//
// # Line Queries
//
// A query with line numbers must resolve to a single file; otherwise Search
// returns a *types.AmbiguousScopeError. Each line becomes a context window,
// widened to the enclosing entity when there is one. Search terms, if given,
// only narrow the windows.
//
// # Caching
//
// Responses are cached in an LRU keyed by snapshot generation and the
// normalized query, so any merge that changes content invalidates them.
package searcher
