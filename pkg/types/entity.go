package types

import "fmt"

// EntityKind represents the type of named code region
type EntityKind string

const (
	KindFile     EntityKind = "file"
	KindClass    EntityKind = "class"
	KindFunction EntityKind = "function"
	KindMethod   EntityKind = "method"
)

// EntityID addresses an entity inside its file's entity arena
type EntityID int

// NoParent is the Parent of a file-level entity
const NoParent EntityID = -1

// CodeEntity represents a named, line-ranged region of source
type CodeEntity struct {
	// Identification
	ID            EntityID
	QualifiedName string // e.g. "models.py:Series.__init__"
	Name          string // local name, e.g. "__init__"
	Kind          EntityKind
	FilePath      string

	// Location (1-based, inclusive)
	StartLine int
	EndLine   int

	// Content
	Signature string
	Docstring string

	// Containment. Parent is a weak back-reference into the same arena.
	Parent   EntityID
	Children []EntityID
}

// LineRange returns the entity's inclusive line range
func (e *CodeEntity) LineRange() LineRange {
	return LineRange{Start: e.StartLine, End: e.EndLine}
}

// Contains reports whether line lies within the entity
func (e *CodeEntity) Contains(line int) bool {
	return line >= e.StartLine && line <= e.EndLine
}

// ValidateKind checks if the entity kind is valid
func (e *CodeEntity) ValidateKind() error {
	switch e.Kind {
	case KindFile, KindClass, KindFunction, KindMethod:
		return nil
	default:
		return fmt.Errorf("%w: invalid kind %q", ErrInvalidEntity, e.Kind)
	}
}

// Validate performs comprehensive validation of the entity
func (e *CodeEntity) Validate() error {
	if e.QualifiedName == "" {
		return fmt.Errorf("%w: qualified name is required", ErrInvalidEntity)
	}

	if err := e.ValidateKind(); err != nil {
		return err
	}

	if e.FilePath == "" {
		return fmt.Errorf("%w: file path is required", ErrInvalidEntity)
	}

	if e.StartLine <= 0 || e.EndLine <= 0 {
		return fmt.Errorf("%w: line numbers must be positive", ErrInvalidEntity)
	}

	if e.StartLine > e.EndLine {
		return fmt.Errorf("%w: start line must be before or equal to end line", ErrInvalidEntity)
	}

	// Only the file entity is a root
	if e.Kind == KindFile && e.Parent != NoParent {
		return fmt.Errorf("%w: file entity cannot have a parent", ErrInvalidEntity)
	}
	if e.Kind != KindFile && e.Parent == NoParent {
		return fmt.Errorf("%w: %s has no parent", ErrInvalidEntity, e.QualifiedName)
	}

	return nil
}

// ValidateArena checks the containment invariants of a file's entity arena:
// ids match positions, children nest inside parents, and qualified names are unique.
func ValidateArena(entities []CodeEntity) error {
	seen := make(map[string]EntityID, len(entities))
	for i := range entities {
		e := &entities[i]
		if e.ID != EntityID(i) {
			return fmt.Errorf("%w: entity %s has id %d at position %d", ErrInvalidEntity, e.QualifiedName, e.ID, i)
		}
		if err := e.Validate(); err != nil {
			return err
		}
		if prev, dup := seen[e.QualifiedName]; dup {
			return fmt.Errorf("%w: duplicate qualified name %s (ids %d, %d)", ErrInvalidEntity, e.QualifiedName, prev, i)
		}
		seen[e.QualifiedName] = e.ID

		for _, c := range e.Children {
			if int(c) <= i || int(c) >= len(entities) {
				return fmt.Errorf("%w: child %d of %s out of arena order", ErrInvalidEntity, c, e.QualifiedName)
			}
			child := &entities[c]
			if child.Parent != e.ID {
				return fmt.Errorf("%w: %s lists child %s with parent %d", ErrInvalidEntity, e.QualifiedName, child.QualifiedName, child.Parent)
			}
			if child.StartLine < e.StartLine || child.EndLine > e.EndLine {
				return fmt.Errorf("%w: %s [%d,%d] escapes parent %s [%d,%d]", ErrInvalidEntity,
					child.QualifiedName, child.StartLine, child.EndLine, e.QualifiedName, e.StartLine, e.EndLine)
			}
		}
	}
	return nil
}
