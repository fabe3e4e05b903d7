package types

import (
	"errors"
	"fmt"
)

// Domain errors for query handling and type validation
var (
	// Query errors
	ErrMalformedQuery   = errors.New("malformed query")
	ErrAmbiguousScope   = errors.New("ambiguous scope")
	ErrScopeOutsideRoot = errors.New("scope escapes working tree root")

	// Entity errors
	ErrInvalidEntity = errors.New("invalid entity")

	// Search result errors
	ErrInvalidRange     = errors.New("line range must satisfy 1 <= start <= end")
	ErrMissingFilePath  = errors.New("file path is required")
	ErrInvalidMatchKind = errors.New("invalid match kind")
)

// AmbiguousScopeError is returned when a line-based query does not resolve to
// exactly one file
type AmbiguousScopeError struct {
	Pattern string
	Matches int
}

func (e *AmbiguousScopeError) Error() string {
	return fmt.Sprintf("ambiguous scope: line numbers require exactly one file, %q matched %d", e.Pattern, e.Matches)
}

// Is lets errors.Is(err, ErrAmbiguousScope) match
func (e *AmbiguousScopeError) Is(target error) bool {
	return target == ErrAmbiguousScope
}
