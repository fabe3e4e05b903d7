// Package matcher finds verbatim occurrences of search terms in file contents.
//
// Matching is case-sensitive and line oriented: every line containing the term
// yields one substring result. It works on any readable file, including files
// the parser could not structure, so distinctive literals are never lost to
// tokenization.
package matcher

import (
	"strings"

	"github.com/dshills/codesearch-mcp/pkg/types"
)

// Match returns one result per line of file containing term
func Match(file *types.SourceFile, term string) []types.SearchResult {
	if term == "" || len(file.Lines) == 0 {
		return nil
	}

	var results []types.SearchResult
	for i, line := range file.Lines {
		if !strings.Contains(line, term) {
			continue
		}
		results = append(results, newResult(file, i+1, line, term))
	}
	return results
}

func newResult(file *types.SourceFile, lineNo int, line, term string) types.SearchResult {
	lines := types.LineRange{Start: lineNo, End: lineNo}

	var entity *types.CodeEntity
	if file.Structured() {
		entity = file.EntityAt(lineNo)
		if entity == nil {
			entity = file.Root()
		}
	}

	if entity == nil {
		return types.SearchResult{
			FilePath:  file.Path,
			Lines:     lines,
			Snippet:   line,
			MatchKind: types.MatchSubstring,
			Term:      term,
		}
	}

	r := types.NewEntityResult(entity, types.MatchSubstring, lines, line)
	r.FilePath = file.Path
	r.Term = term
	return r
}
