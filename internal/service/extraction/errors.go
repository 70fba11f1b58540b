package extraction

import (
	"errors"
	"fmt"
)

// Kind classifies why an extraction failed.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindFetch       Kind = "fetch"
	KindTooLarge    Kind = "too_large"
	KindUnsupported Kind = "unsupported"
	KindParse       Kind = "parse"
	KindProcess     Kind = "process"
	KindEmpty       Kind = "empty"
)

// Error is returned by Extract for every failure it classifies.
type Error struct {
	Kind      Kind
	Source    string
	Err       error
	retryable bool
}

func (e *Error) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("extraction %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("extraction %s (%s): %v", e.Kind, e.Source, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed.
func (e *Error) Retryable() bool {
	return e.retryable
}

func newError(kind Kind, source string, err error, retryable bool) *Error {
	return &Error{Kind: kind, Source: source, Err: err, retryable: retryable}
}

// IsRetryable treats unclassified errors as retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return err != nil
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
