package types

// MatchKind tags how a search result was produced
type MatchKind string

const (
	MatchExactName   MatchKind = "exact-name"
	MatchKeyword     MatchKind = "keyword"
	MatchSubstring   MatchKind = "substring"
	MatchLineContext MatchKind = "line-context"
)

// Tier orders match kinds in a merged result list: lower sorts first
func (k MatchKind) Tier() int {
	switch k {
	case MatchExactName:
		return 0
	case MatchKeyword:
		return 1
	case MatchSubstring:
		return 2
	case MatchLineContext:
		return 3
	default:
		return 4
	}
}

// LineRange is an inclusive, 1-based range of lines
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether line lies within the range
func (r LineRange) Contains(line int) bool {
	return line >= r.Start && line <= r.End
}

// SearchResult represents a single match returned by the query planner
type SearchResult struct {
	// Entity is nil for hits in files without an entity graph and for line
	// windows that are not aligned to an entity
	Entity *CodeEntity `json:"-"`

	FilePath  string    `json:"file_path"`
	Lines     LineRange `json:"line_range"`
	Snippet   string    `json:"snippet"`
	MatchKind MatchKind `json:"match_kind"`

	// Score is nil for substring and line-context results
	Score *float64 `json:"score"`

	// Term is the search term that produced the result, if any
	Term string `json:"term,omitempty"`

	// QualifiedName is set when the result is tied to an entity
	QualifiedName string `json:"qualified_name,omitempty"`
}

// NewEntityResult builds a result tied to entity e
func NewEntityResult(e *CodeEntity, kind MatchKind, lines LineRange, snippet string) SearchResult {
	return SearchResult{
		Entity:        e,
		FilePath:      e.FilePath,
		Lines:         lines,
		Snippet:       snippet,
		MatchKind:     kind,
		QualifiedName: e.QualifiedName,
	}
}

// ScoreValue returns the score, treating a nil score as zero
func (sr *SearchResult) ScoreValue() float64 {
	if sr.Score == nil {
		return 0
	}
	return *sr.Score
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.FilePath == "" {
		return ErrMissingFilePath
	}

	if sr.Lines.Start < 1 || sr.Lines.Start > sr.Lines.End {
		return ErrInvalidRange
	}

	if sr.MatchKind.Tier() > MatchLineContext.Tier() {
		return ErrInvalidMatchKind
	}

	return nil
}

// Float returns a pointer to v, for populating SearchResult.Score
func Float(v float64) *float64 {
	return &v
}
