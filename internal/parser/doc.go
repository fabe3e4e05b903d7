// Package parser builds entity graphs from Python source files using tree-sitter.
//
// Each file becomes an arena of types.CodeEntity rooted at a file-level entity.
// Classes, functions and methods are emitted in source order with qualified names
// that encode their nesting:
//
//	p := parser.New()
//	result := p.Parse("models.py", content)
//
//	for _, e := range result.Entities {
//	    fmt.Printf("%s %s [%d-%d]\n", e.Kind, e.QualifiedName, e.StartLine, e.EndLine)
//	}
//	// file models.py [1-12]
//	// class models.py:Series [1-9]
//	// method models.py:Series.__init__ [2-4]
//
// # Error Handling
//
// Syntax errors are not returned as errors. The file is marked Unstructured and
// only its file entity is emitted, so later stages fall back to substring and
// line-based retrieval:
//
//	result := p.Parse("broken.py", content)
//	if result.Unstructured {
//	    fmt.Println(result.FirstError())
//	}
//
// This allows indexing to continue even when some files have syntax errors.
//
// # Concurrency
//
// A Parser may be shared between goroutines. Every Parse call allocates its own
// tree-sitter parser; only the compiled grammar is shared.
package parser
