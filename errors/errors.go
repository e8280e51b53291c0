// Package errors defines the error kinds surfaced by the repository core.
//
// Callers are expected to translate AuthorizationDenied into a permission
// prompt and every other kind into a generic failure. The core does no
// user-facing formatting.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	_ Kind = iota

	// AuthorizationDenied means the principal lacks the required action.
	AuthorizationDenied

	// NotFound is used by lookups that must find something. Retrieve by id
	// never returns it, absence is a nil result there.
	NotFound

	// NonUniqueMetadata is a schema, field or format collision.
	NonUniqueMetadata

	// InvalidOperation is a caller error, e.g. deleting the unknown format.
	InvalidOperation

	// StorageFailure wraps any error returned by the backing store.
	StorageFailure

	// Configuration is raised when a pipeline cannot be assembled.
	Configuration
)

func (k Kind) String() string {
	switch k {
	case AuthorizationDenied:
		return "AuthorizationDenied"
	case NotFound:
		return "NotFound"
	case NonUniqueMetadata:
		return "NonUniqueMetadata"
	case InvalidOperation:
		return "InvalidOperation"
	case StorageFailure:
		return "StorageFailure"
	case Configuration:
		return "Configuration"
	default:
		return "Unknown"
	}
}

// Error is an error with a Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Cause implements the causer interface of github.com/pkg/errors.
func (e *Error) Cause() error {
	return e.Err
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind with a plain message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Err: stderrors.New(msg)}
}

// Errorf returns an error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// NewWithError returns an error of the given kind wrapping err. A nil err
// yields nil so it can be used on the result of a call directly.
func NewWithError(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of the outermost *Error found in the chain, or
// zero when there is none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
