// Package extractor slices context windows and snippets out of indexed files.
//
// Windows are aligned to entity boundaries when possible, so a caller asking for
// a line inside a method sees the complete method rather than an arbitrary slice.
//
// # Basic Usage
//
//	x := extractor.New(5)
//	results := x.Extract(file, []int{42, 118}, nil)
//
//	for _, r := range results {
//	    fmt.Printf("%s:%d-%d\n", r.FilePath, r.Lines.Start, r.Lines.End)
//	}
//
// Narrowing terms drop windows that mention none of them:
//
//	results = x.Extract(file, []int{42, 118}, []string{"timeout"})
//
// An empty result is a valid answer, not an error.
package extractor
