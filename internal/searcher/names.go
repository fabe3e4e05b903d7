package searcher

import (
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/dshills/codesearch-mcp/internal/indexer"
	"github.com/dshills/codesearch-mcp/pkg/types"
)

// Exact-name score tiers
const (
	levelNone       = 0
	levelSuffixFold = 1 // case-insensitive suffix
	levelSuffix     = 2 // case-sensitive suffix
	levelExact      = 3 // full qualified name
)

// suggestionThreshold is the minimum Jaro-Winkler similarity for a suggestion
const suggestionThreshold = 0.85

// nameHits are the best qualified-name matches of one term within one file
type nameHits struct {
	level    int
	entities []*types.CodeEntity
}

// matchNames resolves term against the entity graph of fi. Only the best level
// found in the file is kept; the caller compares levels across files.
func matchNames(fi *indexer.FileIndex, term string) nameHits {
	src := fi.Source
	if !src.Structured() {
		return nameHits{}
	}

	if e, ok := fi.Lookup(term); ok {
		return nameHits{level: levelExact, entities: []*types.CodeEntity{e}}
	}

	folded := strings.ToLower(term)
	best := nameHits{}
	for i := range src.Entities {
		e := &src.Entities[i]
		if e.Kind == types.KindFile {
			continue
		}
		level := nameLevel(e.QualifiedName, term, folded)
		switch {
		case level == levelNone || level < best.level:
		case level > best.level:
			best = nameHits{level: level, entities: []*types.CodeEntity{e}}
		default:
			best.entities = append(best.entities, e)
		}
	}
	return best
}

// nameLevel grades how well term names qn. Suffix matches must start at a
// qualifier boundary, so "Series" matches "models.py:Series" but not
// "models.py:TimeSeries". Redefinition suffixes (#2) are ignored.
func nameLevel(qn, term, folded string) int {
	base := stripOrdinal(qn)
	if base == term {
		return levelExact
	}
	if boundarySuffix(base, term) {
		return levelSuffix
	}
	if boundarySuffix(strings.ToLower(base), folded) {
		return levelSuffixFold
	}
	return levelNone
}

// stripOrdinal removes a trailing "#n" redefinition marker
func stripOrdinal(qn string) string {
	i := strings.LastIndexByte(qn, '#')
	if i <= 0 || i == len(qn)-1 {
		return qn
	}
	for _, c := range qn[i+1:] {
		if c < '0' || c > '9' {
			return qn
		}
	}
	return qn[:i]
}

func boundarySuffix(s, suffix string) bool {
	if suffix == "" || len(s) <= len(suffix) || !strings.HasSuffix(s, suffix) {
		return false
	}
	c := s[len(s)-len(suffix)-1]
	return c == '.' || c == ':'
}

// suggestNames returns qualified names that look like term, most similar first
func suggestNames(files []*indexer.FileIndex, term string, limit int) []string {
	if limit <= 0 || strings.ContainsAny(term, " \t") {
		return nil
	}

	type candidate struct {
		name  string
		score float32
	}
	best := make(map[string]float32)
	for _, fi := range files {
		if !fi.Source.Structured() {
			continue
		}
		for i := range fi.Source.Entities {
			e := &fi.Source.Entities[i]
			if e.Kind == types.KindFile {
				continue
			}
			score := similarity(term, e.Name)
			if tail := localPath(e.QualifiedName); tail != e.Name {
				if s := similarity(term, tail); s > score {
					score = s
				}
			}
			if score >= suggestionThreshold && score > best[e.QualifiedName] {
				best[e.QualifiedName] = score
			}
		}
	}

	candidates := make([]candidate, 0, len(best))
	for name, score := range best {
		candidates = append(candidates, candidate{name, score})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].name < candidates[j].name
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.name
	}
	return names
}

func similarity(a, b string) float32 {
	score, err := edlib.StringsSimilarity(a, b, edlib.JaroWinkler)
	if err != nil {
		return 0
	}
	return score
}

// localPath strips the file prefix: "models.py:Series.head" -> "Series.head"
func localPath(qn string) string {
	if i := strings.IndexByte(qn, ':'); i >= 0 {
		return qn[i+1:]
	}
	return qn
}
