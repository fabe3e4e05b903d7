package types

// ParseResult represents the output of building the entity graph of one file
type ParseResult struct {
	Path string

	// Entities is an arena: Entities[i].ID == i, Entities[0] is the file entity
	Entities []CodeEntity

	// Unstructured is set when the file could not be parsed; Entities then
	// holds only the file entity
	Unstructured bool

	// Errors encountered during parsing
	Errors []ParseError
}

// ParseError represents an error that occurred during parsing
type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
}

// Error implements the error interface
func (pe *ParseError) Error() string {
	return pe.Message
}

// HasErrors returns true if any parsing errors occurred
func (pr *ParseResult) HasErrors() bool {
	return len(pr.Errors) > 0
}

// AddError adds a parsing error to the result
func (pr *ParseResult) AddError(file string, line, col int, msg string) {
	pr.Errors = append(pr.Errors, ParseError{
		File:    file,
		Line:    line,
		Column:  col,
		Message: msg,
	})
}

// FirstError returns the first parse error, or nil
func (pr *ParseResult) FirstError() *ParseError {
	if len(pr.Errors) == 0 {
		return nil
	}
	return &pr.Errors[0]
}
