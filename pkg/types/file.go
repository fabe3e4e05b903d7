package types

import (
	"strings"
	"time"
)

// FileState is the per-file index state
type FileState int

const (
	// StateStructured files have a full entity graph and keyword postings
	StateStructured FileState = iota
	// StateUnstructured files failed to parse; only the file entity exists and
	// retrieval falls back to substring and line search
	StateUnstructured
	// StateFailed files could not be indexed (unreadable, binary, oversized or
	// badly encoded); Lines is populated when the content was readable
	StateFailed
)

func (s FileState) String() string {
	switch s {
	case StateStructured:
		return "structured"
	case StateUnstructured:
		return "unstructured"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Signature identifies one version of a file's contents
type Signature struct {
	Size    int64
	ModTime time.Time
	Hash    uint64 // xxhash of the contents
}

// SameStat reports whether size and modification time both match.
// Matching stat data alone never proves identical content; callers compare Hash
// whenever SameStat is false.
func (s Signature) SameStat(o Signature) bool {
	return s.Size == o.Size && s.ModTime.Equal(o.ModTime)
}

// SourceFile is one indexed file: its lines and, when structured, its entity arena
type SourceFile struct {
	Path      string
	Lines     []string
	Entities  []CodeEntity // index 0 is the file entity when present
	State     FileState
	Signature Signature
	Err       error // cause of Unstructured/Failed state
}

// Root returns the file-level entity, or nil if the file has no entities
func (f *SourceFile) Root() *CodeEntity {
	if len(f.Entities) == 0 {
		return nil
	}
	return &f.Entities[0]
}

// Structured reports whether entity-based retrieval applies to the file
func (f *SourceFile) Structured() bool {
	return f.State == StateStructured
}

// LineCount returns the number of lines in the file
func (f *SourceFile) LineCount() int {
	return len(f.Lines)
}

// EntityAt returns the innermost class/function/method containing line, or nil
// when the line lies only within the file entity (or the file is not structured)
func (f *SourceFile) EntityAt(line int) *CodeEntity {
	if !f.Structured() || len(f.Entities) == 0 {
		return nil
	}

	var found *CodeEntity
	current := &f.Entities[0]
	for {
		var next *CodeEntity
		for _, id := range current.Children {
			child := &f.Entities[id]
			if child.Contains(line) {
				next = child
				break
			}
			if child.StartLine > line {
				break
			}
		}
		if next == nil {
			return found
		}
		found = next
		current = next
	}
}

// Text returns the lines in r joined with newlines, clipped to the file bounds
func (f *SourceFile) Text(r LineRange) string {
	start, end := r.Start, r.End
	if start < 1 {
		start = 1
	}
	if end > len(f.Lines) {
		end = len(f.Lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(f.Lines[start-1:end], "\n")
}

// SplitLines splits content into lines without line terminators. A trailing
// newline does not produce an empty final line.
func SplitLines(content string) []string {
	if content == "" {
		return []string{}
	}
	content = strings.TrimSuffix(content, "\n")
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
