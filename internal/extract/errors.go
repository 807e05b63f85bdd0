// Package extract turns raw song and event-log files into typed records.
package extract

import "fmt"

// ParseError reports a file that could not be decoded. Line is 1-based for
// newline-delimited logs and 0 for whole-file documents.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
