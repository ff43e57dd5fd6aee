package types

// ParseResult represents the output of parsing one source file
type ParseResult struct {
	Language string
	Exports  []ExportEntry
	Imports  []ImportEntry

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

// ErrorMessages flattens the errors into the strings stored on a record
func (pr *ParseResult) ErrorMessages() []string {
	if len(pr.Errors) == 0 {
		return nil
	}
	msgs := make([]string, len(pr.Errors))
	for i, e := range pr.Errors {
		msgs[i] = e.Message
	}
	return msgs
}
