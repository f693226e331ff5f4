package errors

import "fmt"

// FriendlyError is an error whose message is meant to be shown to the user
// directly, without the "ERROR:" framing and context chain that internal
// errors get.
type FriendlyError interface {
	error
	FriendlyMessage() string
}

type friendlyError struct {
	message string
}

func (err friendlyError) Error() string {
	return err.message
}

func (err friendlyError) FriendlyMessage() string {
	return err.message
}

// NewFriendlyError creates an error that's printed to the user verbatim.
func NewFriendlyError(format string, args ...interface{}) error {
	return friendlyError{fmt.Sprintf(format, args...)}
}

// GetPrintableMessage returns the message that should be shown to the user
// for `err`. Friendly errors anywhere in the context chain take precedence.
func GetPrintableMessage(err error) string {
	for cause := err; ; {
		if friendly, ok := cause.(FriendlyError); ok {
			return friendly.FriendlyMessage()
		}

		ctxErr, ok := cause.(ContextError)
		if !ok {
			return err.Error()
		}
		cause = ctxErr.Err
	}
}
