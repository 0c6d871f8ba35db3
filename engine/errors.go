package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed document
	ErrClosed = errors.New("document is closed")
	// ErrPageOutOfRange is returned for page indexes outside the document
	ErrPageOutOfRange = errors.New("page out of range")
)

// OpenErrorKind classifies why a document could not be opened
type OpenErrorKind int

const (
	OpenErrorIO OpenErrorKind = iota
	OpenErrorWrongPassword
	OpenErrorCorrupt
)

func (k OpenErrorKind) String() string {
	switch k {
	case OpenErrorWrongPassword:
		return "wrong password"
	case OpenErrorCorrupt:
		return "corrupt document"
	default:
		return "i/o error"
	}
}

// OpenError is returned once by Open, the document is unusable
type OpenError struct {
	Kind OpenErrorKind
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("unable to open document (%s): %v", e.Kind, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// PageRenderError records that one page could not be opened or rendered. Other pages stay usable.
type PageRenderError struct {
	Page int
	Err  error
}

func (e *PageRenderError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageRenderError) Unwrap() error { return e.Err }
