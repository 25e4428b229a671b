package parser

import "fmt"

// ErrorKind classifies parse failures.
type ErrorKind string

const (
	// KindMissingSection means the document lacks the root suite or the
	// statistics block.
	KindMissingSection ErrorKind = "missing_section"

	// KindMalformed means the document could not be decoded or walked.
	KindMalformed ErrorKind = "malformed"
)

// ParseError is the only error type returned by Parse. Structural problems
// never escape the parser as raw decode errors.
type ParseError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error (%s): %s: %v", e.Kind, e.Msg, e.Err)
	}

	return fmt.Sprintf("parse error (%s): %s", e.Kind, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func missingSection(msg string) *ParseError {
	return &ParseError{Kind: KindMissingSection, Msg: msg}
}

func malformed(msg string, err error) *ParseError {
	return &ParseError{Kind: KindMalformed, Msg: msg, Err: err}
}
