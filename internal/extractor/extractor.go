package extractor

import (
	"strings"

	"github.com/dshills/codesearch-mcp/pkg/types"
)

const (
	// DefaultWindow is the number of lines shown on each side of a requested line
	DefaultWindow = 5
)

// Extractor slices bounded line windows out of indexed files
type Extractor struct {
	window int
}

// New creates an Extractor; a non-positive window uses DefaultWindow
func New(window int) *Extractor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Extractor{window: window}
}

// Window returns the configured half-width
func (x *Extractor) Window() int {
	return x.window
}

// Extract returns one line-context result per requested line, in request order.
// A line inside an entity expands to that entity's full range; other lines get
// [line-W, line+W] clipped to the file. Lines outside the file are skipped and
// windows with identical ranges are reported once. When narrow is non-empty,
// only windows containing at least one narrowing term (case-insensitive) are kept.
func (x *Extractor) Extract(file *types.SourceFile, lineNums []int, narrow []string) []types.SearchResult {
	lowered := make([]string, 0, len(narrow))
	for _, term := range narrow {
		if t := strings.TrimSpace(term); t != "" {
			lowered = append(lowered, strings.ToLower(t))
		}
	}

	seen := make(map[types.LineRange]bool, len(lineNums))
	results := make([]types.SearchResult, 0, len(lineNums))

	for _, line := range lineNums {
		if line < 1 || line > len(file.Lines) {
			continue
		}

		entity := file.EntityAt(line)
		var r types.LineRange
		if entity != nil {
			r = entity.LineRange()
		} else {
			r = x.windowAround(line, len(file.Lines))
		}
		if seen[r] {
			continue
		}

		text := file.Text(r)
		if len(lowered) > 0 && !containsAny(strings.ToLower(text), lowered) {
			continue
		}
		seen[r] = true

		if entity != nil {
			res := types.NewEntityResult(entity, types.MatchLineContext, r, text)
			res.FilePath = file.Path
			results = append(results, res)
			continue
		}
		results = append(results, types.SearchResult{
			FilePath:  file.Path,
			Lines:     r,
			Snippet:   text,
			MatchKind: types.MatchLineContext,
		})
	}

	return results
}

func (x *Extractor) windowAround(line, lineCount int) types.LineRange {
	start := line - x.window
	if start < 1 {
		start = 1
	}
	end := line + x.window
	if end > lineCount {
		end = lineCount
	}
	return types.LineRange{Start: start, End: end}
}

// EntitySnippet returns the source of e. When maxLines is positive the text is
// cut to its first maxLines lines; the reported range is always the entity's.
func EntitySnippet(file *types.SourceFile, e *types.CodeEntity, maxLines int) string {
	r := e.LineRange()
	if maxLines > 0 && r.End-r.Start+1 > maxLines {
		r.End = r.Start + maxLines - 1
	}
	return file.Text(r)
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
