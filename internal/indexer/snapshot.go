package indexer

import (
	"sort"
	"time"

	"github.com/dshills/codesearch-mcp/internal/keyword"
	"github.com/dshills/codesearch-mcp/pkg/types"
)

// FileIndex is the replaceable index unit of one file: its lines and entity
// arena plus keyword postings. It is never mutated after it is merged.
type FileIndex struct {
	Source   *types.SourceFile
	Keywords *keyword.FileIndex

	names map[string]types.EntityID
	epoch uint64
}

func newFileIndex(src *types.SourceFile, tok *keyword.Tokenizer, epoch uint64) *FileIndex {
	fi := &FileIndex{
		Source:   src,
		Keywords: keyword.Build(src, tok),
		names:    make(map[string]types.EntityID, len(src.Entities)),
		epoch:    epoch,
	}
	if src.Structured() {
		for i := range src.Entities {
			fi.names[src.Entities[i].QualifiedName] = src.Entities[i].ID
		}
	}
	return fi
}

// withSignature returns a copy sharing everything but the signature. Used when a
// file was touched without its content changing.
func (fi *FileIndex) withSignature(sig types.Signature, epoch uint64) *FileIndex {
	src := *fi.Source
	src.Signature = sig
	return &FileIndex{
		Source:   &src,
		Keywords: fi.Keywords,
		names:    fi.names,
		epoch:    epoch,
	}
}

// Lookup resolves an exact qualified name within the file
func (fi *FileIndex) Lookup(qualifiedName string) (*types.CodeEntity, bool) {
	id, ok := fi.names[qualifiedName]
	if !ok {
		return nil, false
	}
	return &fi.Source.Entities[id], true
}

// Snapshot is an immutable view of the index. Queries hold on to the snapshot
// they started with and never observe later merges.
type Snapshot struct {
	Generation uint64
	MergedAt   time.Time

	files map[string]*FileIndex
}

func emptySnapshot() *Snapshot {
	return &Snapshot{files: make(map[string]*FileIndex)}
}

// File returns the index of path, if it has been built
func (s *Snapshot) File(path string) (*FileIndex, bool) {
	fi, ok := s.files[path]
	return fi, ok
}

// Len returns the number of indexed files
func (s *Snapshot) Len() int {
	return len(s.files)
}

// Paths returns all indexed paths in sorted order
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// clone copies the file map so a merge can replace entries without touching
// snapshots that readers still hold
func (s *Snapshot) clone() *Snapshot {
	files := make(map[string]*FileIndex, len(s.files))
	for p, fi := range s.files {
		files[p] = fi
	}
	return &Snapshot{Generation: s.Generation, MergedAt: s.MergedAt, files: files}
}

// Status summarizes a snapshot
type Status struct {
	Generation   uint64
	Files        int
	Structured   int
	Unstructured int
	Failed       int
	Entities     int
	MergedAt     time.Time
}

// Status reports counts per file state
func (s *Snapshot) Status() Status {
	st := Status{Generation: s.Generation, Files: len(s.files), MergedAt: s.MergedAt}
	for _, fi := range s.files {
		switch fi.Source.State {
		case types.StateStructured:
			st.Structured++
		case types.StateUnstructured:
			st.Unstructured++
		case types.StateFailed:
			st.Failed++
		}
		st.Entities += len(fi.Source.Entities)
	}
	return st
}
