package searcher

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codesearch-mcp/internal/extractor"
	"github.com/dshills/codesearch-mcp/internal/indexer"
	"github.com/dshills/codesearch-mcp/internal/keyword"
	"github.com/dshills/codesearch-mcp/internal/matcher"
	"github.com/dshills/codesearch-mcp/internal/scope"
	"github.com/dshills/codesearch-mcp/pkg/types"
)

const (
	// DefaultResultBudget caps the number of results returned for a query
	DefaultResultBudget = 50
	// DefaultSnippetMaxLines caps keyword-hit snippets
	DefaultSnippetMaxLines = 80
	// DefaultCacheSize is the number of responses kept in the query cache
	DefaultCacheSize = 256
	// DefaultSuggestions is the number of "did you mean" names returned
	DefaultSuggestions = 5
)

// Config contains configuration for the query planner
type Config struct {
	ResultBudget    int
	ContextWindow   int
	SnippetMaxLines int
	K1              float64
	B               float64
	CacheSize       int // negative disables the query cache
	Suggestions     int
}

// Response contains search results and metadata
type Response struct {
	Results       []types.SearchResult `json:"results"`
	TotalMatches  int                  `json:"total_matches"` // matches before truncation
	Truncated     bool                 `json:"truncated"`     // TotalMatches exceeded the result budget
	FilesSearched int                  `json:"files_searched"`
	Unstructured  []string             `json:"unstructured_files,omitempty"` // searched by substring/line only
	Suggestions   []string             `json:"suggestions,omitempty"`        // similar names for terms without a name hit
	Generation    uint64               `json:"generation"`
	CacheHit      bool                 `json:"cached"`
	Duration      time.Duration        `json:"duration_ns"`
}

// Searcher plans and executes queries against the index store
type Searcher struct {
	resolver  *scope.Resolver
	store     *indexer.Store
	extractor *extractor.Extractor
	scorer    keyword.Scorer
	cfg       Config
	cache     *lru.Cache[string, *Response]
	logger    *logrus.Logger
}

// New creates a Searcher over store, resolving scopes with resolver
func New(resolver *scope.Resolver, store *indexer.Store, cfg Config, logger *logrus.Logger) (*Searcher, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if cfg.ResultBudget <= 0 {
		cfg.ResultBudget = DefaultResultBudget
	}
	if cfg.SnippetMaxLines <= 0 {
		cfg.SnippetMaxLines = DefaultSnippetMaxLines
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Suggestions == 0 {
		cfg.Suggestions = DefaultSuggestions
	}

	s := &Searcher{
		resolver:  resolver,
		store:     store,
		extractor: extractor.New(cfg.ContextWindow),
		scorer:    keyword.NewScorer(cfg.K1, cfg.B),
		cfg:       cfg,
		logger:    logger,
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, *Response](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create query cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Search executes query. Malformed queries, scopes outside the root and line
// queries spanning several files are errors; everything else, including a scope
// matching no files, produces a (possibly empty) response.
func (s *Searcher) Search(ctx context.Context, query types.SearchQuery) (*Response, error) {
	startTime := time.Now()

	if err := query.Validate(); err != nil {
		return nil, err
	}

	// an empty scope falls through to the resolver's configured default
	pattern := strings.TrimSpace(query.FileScope)
	paths, err := s.resolver.Resolve(pattern)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = s.resolver.DefaultPattern()
	}
	if len(query.LineNums) > 0 && len(paths) > 1 {
		return nil, &types.AmbiguousScopeError{Pattern: pattern, Matches: len(paths)}
	}
	if len(paths) == 0 {
		return &Response{
			Results:    []types.SearchResult{},
			Generation: s.store.Snapshot().Generation,
			Duration:   time.Since(startTime),
		}, nil
	}

	snap, _, err := s.store.Ensure(ctx, paths)
	if err != nil {
		return nil, err
	}

	// deletions leave the generation alone, so the resolved file set is part of the key
	key := strconv.FormatUint(snap.Generation, 10) + "\x00" +
		strconv.FormatUint(pathsDigest(paths), 16) + "\x00" + query.CacheKey()
	if cached, ok := s.checkCache(key); ok {
		cached.CacheHit = true
		cached.Duration = time.Since(startTime)
		return cached, nil
	}

	files := make([]*indexer.FileIndex, 0, len(paths))
	for _, p := range paths {
		// a file removed between resolution and build is simply absent
		if fi, ok := snap.File(p); ok {
			files = append(files, fi)
		}
	}

	var response *Response
	if len(query.LineNums) > 0 {
		response = s.lineSearch(files, query)
	} else {
		response, err = s.termSearch(ctx, files, query.Terms())
		if err != nil {
			return nil, err
		}
	}

	response.FilesSearched = len(files)
	response.Generation = snap.Generation
	for _, fi := range files {
		if fi.Source.State == types.StateUnstructured {
			response.Unstructured = append(response.Unstructured, fi.Source.Path)
		}
	}

	s.storeInCache(key, response)
	response.Duration = time.Since(startTime)

	s.logger.WithFields(logrus.Fields{
		"scope":      pattern,
		"files":      response.FilesSearched,
		"matches":    response.TotalMatches,
		"generation": response.Generation,
		"duration":   response.Duration,
	}).Debug("Search complete")

	return response, nil
}

// lineSearch bypasses ranking; the extractor's output is already deterministic
func (s *Searcher) lineSearch(files []*indexer.FileIndex, query types.SearchQuery) *Response {
	results := []types.SearchResult{}
	if len(files) == 1 {
		results = s.extractor.Extract(files[0].Source, query.LineNums, query.Terms())
	}
	return &Response{Results: results, TotalMatches: len(results)}
}

// filePartial holds everything one file contributes to a term query
type filePartial struct {
	names   []nameHits // per term
	results []types.SearchResult
	file    *indexer.FileIndex
}

// termSearch runs name resolution, substring matching and keyword scoring for
// every file concurrently, then merges the partial results in one pass
func (s *Searcher) termSearch(ctx context.Context, files []*indexer.FileIndex, terms []string) (*Response, error) {
	tok := s.store.Tokenizer()
	termTokens := make([][]string, len(terms))
	all := make([]string, 0)
	for i, term := range terms {
		termTokens[i] = tok.Unique(term)
		all = appendUnique(all, termTokens[i])
	}

	// BM25 statistics cover the whole query scope
	indexes := make([]*keyword.FileIndex, len(files))
	for i, fi := range files {
		indexes[i] = fi.Keywords
	}
	stats := keyword.CollectStats(indexes, all)

	partials := make([]filePartial, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, fi := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			partials[i] = s.searchFile(fi, terms, termTokens, stats)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("search cancelled: %w", err)
	}

	results := make([]types.SearchResult, 0)
	response := &Response{}
	for t, term := range terms {
		named := s.exactNameResults(partials, t, term)
		if len(named) == 0 {
			response.Suggestions = appendUnique(response.Suggestions, suggestNames(files, term, s.cfg.Suggestions))
		}
		results = append(results, named...)
	}
	for i := range partials {
		results = append(results, partials[i].results...)
	}

	results = dedupe(results)
	sortResults(results)

	response.TotalMatches = len(results)
	if len(results) > s.cfg.ResultBudget {
		results = results[:s.cfg.ResultBudget]
		response.Truncated = true
	}
	response.Results = results
	if len(response.Suggestions) > s.cfg.Suggestions && s.cfg.Suggestions > 0 {
		response.Suggestions = response.Suggestions[:s.cfg.Suggestions]
	}
	return response, nil
}

// searchFile produces one file's partial results. It reads only immutable
// snapshot data.
func (s *Searcher) searchFile(fi *indexer.FileIndex, terms []string, termTokens [][]string, stats keyword.Stats) filePartial {
	p := filePartial{names: make([]nameHits, len(terms)), file: fi}
	src := fi.Source

	for t, term := range terms {
		p.names[t] = matchNames(fi, term)
		p.results = append(p.results, matcher.Match(src, term)...)

		for _, hit := range s.scorer.Score(fi.Keywords, stats, termTokens[t]) {
			e := &src.Entities[hit.Entity]
			r := types.NewEntityResult(e, types.MatchKeyword, e.LineRange(),
				extractor.EntitySnippet(src, e, s.cfg.SnippetMaxLines))
			r.Score = types.Float(hit.Score)
			r.Term = term
			p.results = append(p.results, r)
		}
	}
	return p
}

// exactNameResults keeps, for term t, the matches at the best level found
// anywhere in scope: exact names win over suffix matches, which win over
// case-insensitive suffix matches
func (s *Searcher) exactNameResults(partials []filePartial, t int, term string) []types.SearchResult {
	best := levelNone
	for i := range partials {
		if lvl := partials[i].names[t].level; lvl > best {
			best = lvl
		}
	}
	if best == levelNone {
		return nil
	}

	var results []types.SearchResult
	for i := range partials {
		hits := partials[i].names[t]
		if hits.level != best {
			continue
		}
		src := partials[i].file.Source
		for _, e := range hits.entities {
			r := types.NewEntityResult(e, types.MatchExactName, e.LineRange(), src.Text(e.LineRange()))
			r.Score = types.Float(float64(best))
			r.Term = term
			results = append(results, r)
		}
	}
	return results
}

type dedupeKey struct {
	path  string
	lines types.LineRange
	kind  types.MatchKind
}

// dedupe collapses results sharing (file, range, kind), keeping the highest
// score and otherwise the first occurrence
func dedupe(results []types.SearchResult) []types.SearchResult {
	index := make(map[dedupeKey]int, len(results))
	out := results[:0]
	for _, r := range results {
		k := dedupeKey{r.FilePath, r.Lines, r.MatchKind}
		if i, ok := index[k]; ok {
			if r.ScoreValue() > out[i].ScoreValue() {
				out[i] = r
			}
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}

// sortResults orders by tier, then descending score, then position
func sortResults(results []types.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := &results[i], &results[j]
		if ta, tb := a.MatchKind.Tier(), b.MatchKind.Tier(); ta != tb {
			return ta < tb
		}
		if sa, sb := a.ScoreValue(), b.ScoreValue(); sa != sb {
			return sa > sb
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Lines.Start != b.Lines.Start {
			return a.Lines.Start < b.Lines.Start
		}
		if a.Lines.End != b.Lines.End {
			return a.Lines.End < b.Lines.End
		}
		return a.QualifiedName < b.QualifiedName
	})
}

func appendUnique(dst, src []string) []string {
	for _, s := range src {
		found := false
		for _, d := range dst {
			if d == s {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, s)
		}
	}
	return dst
}

// pathsDigest identifies a resolved scope by its sorted file list
func pathsDigest(paths []string) uint64 {
	d := xxhash.New()
	for _, p := range paths {
		_, _ = d.WriteString(p)
		_, _ = d.WriteString("\x00")
	}
	return d.Sum64()
}

// checkCache looks up a cached response for key
func (s *Searcher) checkCache(key string) (*Response, bool) {
	if s.cache == nil {
		return nil, false
	}
	entry, found := s.cache.Get(key)
	if !found {
		return nil, false
	}
	return copyResponse(entry), true
}

// storeInCache saves a copy of response under key
func (s *Searcher) storeInCache(key string, response *Response) {
	if s.cache == nil {
		return
	}
	s.cache.Add(key, copyResponse(response))
}

// InvalidateCache drops every cached response
func (s *Searcher) InvalidateCache() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

// copyResponse copies a Response so cached entries are never shared with
// callers. Entities and scores point into immutable snapshots and are shared.
func copyResponse(src *Response) *Response {
	dst := *src
	dst.Results = append([]types.SearchResult(nil), src.Results...)
	if dst.Results == nil {
		dst.Results = []types.SearchResult{}
	}
	dst.Unstructured = append([]string(nil), src.Unstructured...)
	dst.Suggestions = append([]string(nil), src.Suggestions...)
	return &dst
}
