package keyword

import (
	"github.com/dshills/codesearch-mcp/pkg/types"
)

// Document is one entity's token bag
type Document struct {
	Entity types.EntityID
	Length int
}

// Posting records how often a term occurs in a document
type Posting struct {
	Doc int // index into FileIndex.Docs
	TF  int
}

// FileIndex holds the keyword postings of one file. It is immutable once built
// and replaced as a unit when the file changes.
type FileIndex struct {
	Docs        []Document
	Postings    map[string][]Posting
	TotalLength int
}

// Empty reports whether the file contributes no documents
func (fi *FileIndex) Empty() bool {
	return fi == nil || len(fi.Docs) == 0
}

// Build tokenizes every entity of a structured file. An entity's document is its
// own lines, those not covered by a child entity, plus its local name. Files that
// are not structured get an empty index.
func Build(file *types.SourceFile, tok *Tokenizer) *FileIndex {
	fi := &FileIndex{Postings: make(map[string][]Posting)}
	if !file.Structured() || len(file.Entities) == 0 {
		return fi
	}

	// owner[line-1] is the innermost entity covering that line; arena order puts
	// parents before children so later assignments win
	owner := make([]types.EntityID, len(file.Lines))
	for i := range file.Entities {
		e := &file.Entities[i]
		for line := e.StartLine; line <= e.EndLine && line <= len(file.Lines); line++ {
			owner[line-1] = e.ID
		}
	}

	counts := make([]map[string]int, len(file.Entities))
	lengths := make([]int, len(file.Entities))
	add := func(id types.EntityID, text string) {
		if counts[id] == nil {
			counts[id] = make(map[string]int)
		}
		for _, t := range tok.Tokens(text) {
			counts[id][t]++
			lengths[id]++
		}
	}

	for i, line := range file.Lines {
		add(owner[i], line)
	}
	for i := range file.Entities {
		e := &file.Entities[i]
		if e.Kind != types.KindFile {
			add(e.ID, e.Name)
		}
	}

	for i := range file.Entities {
		doc := len(fi.Docs)
		fi.Docs = append(fi.Docs, Document{Entity: types.EntityID(i), Length: lengths[i]})
		fi.TotalLength += lengths[i]
		for term, tf := range counts[i] {
			fi.Postings[term] = append(fi.Postings[term], Posting{Doc: doc, TF: tf})
		}
	}

	return fi
}
