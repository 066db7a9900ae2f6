// Package errors defines the domain error taxonomy shared by every service.
package errors

import (
	stderrors "errors"
	"fmt"
)

// DomainError is a classified failure. Two DomainErrors match under errors.Is
// when their codes are equal, so wrapped detail never hides the class.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is matches any DomainError carrying the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap attaches detail to a domain error while keeping it matchable.
func Wrap(err *DomainError, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...))
}

// Code returns the code of the first DomainError in err's chain, or "".
func Code(err error) string {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Is is errors.Is, re-exported so callers importing this package need not alias the stdlib.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
