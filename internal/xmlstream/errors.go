package xmlstream

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStopped is returned once Stop has been requested.
	ErrStopped = errors.New("xmlstream: parsing stopped")

	// ErrClosed is returned when feeding a parser after End succeeded.
	ErrClosed = errors.New("xmlstream: parser closed")
)

// MalformedXMLError reports bytes the tokenizer or the element stack
// rejected. Parsing is permanently aborted.
type MalformedXMLError struct {
	// Offset is the position in the decoded stream of the first byte that
	// could not be tokenized.
	Offset int64
	Err    error
}

func (e *MalformedXMLError) Error() string {
	return fmt.Sprintf("malformed xml at offset %d: %v", e.Offset, e.Err)
}

func (e *MalformedXMLError) Unwrap() error {
	return e.Err
}

// IncompleteDocumentError reports End called before the document was closed.
type IncompleteDocumentError struct {
	// Open lists the still-open elements, outermost first. It is empty when
	// no root element was ever seen.
	Open []string
}

func (e *IncompleteDocumentError) Error() string {
	if len(e.Open) == 0 {
		return "incomplete xml document: no root element"
	}
	return "incomplete xml document: unclosed elements /" + strings.Join(e.Open, "/")
}

func malformed(offset int64, format string, args ...any) *MalformedXMLError {
	return &MalformedXMLError{Offset: offset, Err: fmt.Errorf(format, args...)}
}
