// Package types provides shared type definitions for the codesearch engine.
//
// # Core Types
//
// CodeEntity is a named, line-ranged region of source (file, class, function or
// method). Entities of one file live in an arena: a slice indexed by EntityID,
// where Entities[0] is the file entity and Parent/Children refer to positions in
// the same slice:
//
//	file := entities[0]               // models.py
//	cls := entities[file.Children[0]] // models.py:Series
//	init := entities[cls.Children[0]] // models.py:Series.__init__
//
// SourceFile bundles a file's lines, its arena and its FileState. Files that fail
// to parse are StateUnstructured and only serve substring and line queries; files
// that cannot be read or decoded are StateFailed.
//
// # Queries and Results
//
// SearchQuery is the normalized request: search terms, optional line numbers and
// a file scope (default "**/*.py"). SearchResult is one match tagged with a
// MatchKind. Merged result lists are ordered by MatchKind.Tier, then score.
//
// # Errors
//
// Only malformed requests (ErrMalformedQuery), scopes escaping the tree
// (ErrScopeOutsideRoot) and ambiguous line queries (*AmbiguousScopeError, which
// matches ErrAmbiguousScope) are surfaced to callers. Empty scopes and empty
// result sets are not errors.
package types
