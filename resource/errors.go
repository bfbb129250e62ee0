package resource

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a resource ended up unsupported.
type ErrorKind int

const (
	ErrKindNetwork ErrorKind = iota + 1
	ErrKindUnsupportedFormat
	ErrKindMissingSize
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindNetwork:
		return "network"
	case ErrKindUnsupportedFormat:
		return "unsupported format"
	case ErrKindMissingSize:
		return "missing size"
	default:
		return "unknown"
	}
}

// ErrTooLarge is returned for a body over the fetcher's byte limit.
var ErrTooLarge = errors.New("resource too large")

var (
	errNoDimensions = errors.New("image reports no dimensions")
	errNotImage     = errors.New("content is neither svg nor a decodable raster image")
)

// FetchError is the failure of one resource. It never aborts a document
// render; the loader holds it in its snapshot for placeholder rendering.
type FetchError struct {
	Kind    ErrorKind
	Locator string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resource %s: %s", e.Locator, e.Kind)
	}
	return fmt.Sprintf("resource %s: %s: %v", e.Locator, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind of err, or 0 if err is not a FetchError.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
