package errors

import (
	"errors"
	"fmt"
)

// New returns an error with the given message.
func New(msg string) error {
	return errors.New(msg)
}

// ContextError wraps an error with a short description of the operation that
// failed. Rendering the chain produces messages like
// "pull endpoint: take snapshot: connection reset".
type ContextError struct {
	Context string
	Err     error
}

func (err ContextError) Error() string {
	return fmt.Sprintf("%s: %s", err.Context, err.Err)
}

// Unwrap makes ContextError compatible with the standard errors package.
func (err ContextError) Unwrap() error {
	return err.Err
}

// WithContext annotates `err` with the operation that produced it.
func WithContext(err error, context string) error {
	return ContextError{Context: context, Err: err}
}

// RootCause returns the innermost error in a chain of ContextErrors.
func RootCause(err error) error {
	for {
		ctxErr, ok := err.(ContextError)
		if !ok {
			return err
		}
		err = ctxErr.Err
	}
}
