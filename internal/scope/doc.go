// Package scope resolves file-scope patterns into concrete file sets.
//
// Patterns use doublestar glob syntax ("**/*.py", "src/core/*.py") or name a
// literal file or directory. All results are slash-separated paths relative to
// the working tree root; patterns that escape the root are rejected.
package scope
