package keyword

import (
	"math"
	"sort"

	"github.com/dshills/codesearch-mcp/pkg/types"
)

const (
	// DefaultK1 controls term-frequency saturation
	DefaultK1 = 1.2
	// DefaultB controls document-length normalization
	DefaultB = 0.75
)

// Stats are the corpus statistics BM25 needs, computed over a query scope
type Stats struct {
	N      int            // number of documents
	AvgLen float64        // average document length
	DF     map[string]int // documents containing each query term
}

// CollectStats computes corpus statistics for terms over the given file indexes
func CollectStats(indexes []*FileIndex, terms []string) Stats {
	stats := Stats{DF: make(map[string]int, len(terms))}
	total := 0
	for _, fi := range indexes {
		if fi.Empty() {
			continue
		}
		stats.N += len(fi.Docs)
		total += fi.TotalLength
		for _, term := range terms {
			stats.DF[term] += len(fi.Postings[term])
		}
	}
	if stats.N > 0 {
		stats.AvgLen = float64(total) / float64(stats.N)
	}
	return stats
}

// Hit is one scored entity
type Hit struct {
	Entity types.EntityID
	Score  float64
}

// Scorer computes BM25 relevance
type Scorer struct {
	K1 float64
	B  float64
}

// NewScorer returns a scorer, substituting defaults for non-positive constants
func NewScorer(k1, b float64) Scorer {
	if k1 <= 0 {
		k1 = DefaultK1
	}
	if b < 0 || b > 1 {
		b = DefaultB
	}
	return Scorer{K1: k1, B: b}
}

// IDF returns ln(1 + (N - df + 0.5) / (df + 0.5))
func (s Scorer) IDF(stats Stats, term string) float64 {
	df := float64(stats.DF[term])
	return math.Log(1 + (float64(stats.N)-df+0.5)/(df+0.5))
}

// Score returns the entities of fi that contain at least one of terms, scored by
// the sum of per-term BM25 scores, ordered by descending score then entity id
func (s Scorer) Score(fi *FileIndex, stats Stats, terms []string) []Hit {
	if fi.Empty() || stats.N == 0 {
		return nil
	}

	avgLen := stats.AvgLen
	if avgLen <= 0 {
		avgLen = 1
	}

	scores := make(map[int]float64)
	for _, term := range terms {
		postings := fi.Postings[term]
		if len(postings) == 0 {
			continue
		}
		idf := s.IDF(stats, term)
		for _, p := range postings {
			tf := float64(p.TF)
			docLen := float64(fi.Docs[p.Doc].Length)
			norm := tf + s.K1*(1-s.B+s.B*docLen/avgLen)
			scores[p.Doc] += idf * (tf * (s.K1 + 1)) / norm
		}
	}

	hits := make([]Hit, 0, len(scores))
	for doc, score := range scores {
		hits = append(hits, Hit{Entity: fi.Docs[doc].Entity, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Entity < hits[j].Entity
	})
	return hits
}
