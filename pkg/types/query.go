package types

import (
	"fmt"
	"strings"
)

// DefaultFileScope matches all source files of the primary language
const DefaultFileScope = "**/*.py"

// SearchQuery is the normalized request accepted by the query planner
type SearchQuery struct {
	// SearchTerms are free-text phrases or qualified-name lookup keys
	SearchTerms []string `json:"search_terms,omitempty"`

	// LineNums are only valid together with a scope resolving to a single file
	LineNums []int `json:"line_nums,omitempty"`

	// FileScope is a glob pattern or exact path; empty means the resolver's
	// default pattern
	FileScope string `json:"file_path_or_pattern,omitempty"`
}

// Scope returns the file scope for display, applying DefaultFileScope
func (q *SearchQuery) Scope() string {
	if strings.TrimSpace(q.FileScope) == "" {
		return DefaultFileScope
	}
	return strings.TrimSpace(q.FileScope)
}

// Terms returns the non-blank search terms in order, without duplicates
func (q *SearchQuery) Terms() []string {
	seen := make(map[string]bool, len(q.SearchTerms))
	terms := make([]string, 0, len(q.SearchTerms))
	for _, t := range q.SearchTerms {
		if strings.TrimSpace(t) == "" || seen[t] {
			continue
		}
		seen[t] = true
		terms = append(terms, t)
	}
	return terms
}

// Validate rejects request shapes that cannot be planned
func (q *SearchQuery) Validate() error {
	if len(q.Terms()) == 0 && len(q.LineNums) == 0 {
		return fmt.Errorf("%w: at least one of search_terms or line_nums is required", ErrMalformedQuery)
	}

	for _, n := range q.LineNums {
		if n < 1 {
			return fmt.Errorf("%w: line number %d must be positive", ErrMalformedQuery, n)
		}
	}

	return nil
}

// CacheKey returns a stable string representation of the query
func (q *SearchQuery) CacheKey() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(q.FileScope))
	b.WriteString("|")
	b.WriteString(strings.Join(q.Terms(), "\x00"))
	b.WriteString("|")
	for i, n := range q.LineNums {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%d", n)
	}
	return b.String()
}
