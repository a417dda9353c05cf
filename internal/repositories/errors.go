package repositories

import "fmt"

// ErrorKind categorises repository failures.
type ErrorKind string

const (
	ErrorKindNotFound    ErrorKind = "not_found"
	ErrorKindConflict    ErrorKind = "conflict"
	ErrorKindUnavailable ErrorKind = "unavailable"
)

// Error is the RepositoryError implementation shared by storage backends that
// do not carry their own error type.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

var _ RepositoryError = (*Error)(nil)

// NewNotFoundError reports a missing document.
func NewNotFoundError(op string, err error) *Error {
	return &Error{Op: op, Kind: ErrorKindNotFound, Err: err}
}

// NewConflictError reports a uniqueness or version conflict.
func NewConflictError(op string, err error) *Error {
	return &Error{Op: op, Kind: ErrorKindConflict, Err: err}
}

// NewUnavailableError reports a backend that could not serve the request.
func NewUnavailableError(op string, err error) *Error {
	return &Error{Op: op, Kind: ErrorKindUnavailable, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.Kind == ErrorKindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.Kind == ErrorKindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Kind == ErrorKindUnavailable }
