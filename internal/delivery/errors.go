package delivery

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMethodFailed marks the failure of a single delivery method.
	ErrMethodFailed = errors.New("delivery method failed")
	// ErrAllMethodsFailed is returned when the whole fallback chain failed.
	ErrAllMethodsFailed = errors.New("all delivery methods failed")
	// ErrNoMethods is returned by a dispatcher built without methods.
	ErrNoMethods = errors.New("no delivery methods configured")
	// ErrNilPayload is returned when there is nothing to deliver.
	ErrNilPayload = errors.New("nil payload")
)

// MethodError is the failure of one method for one printer.
type MethodError struct {
	Method  string
	Printer string
	Err     error
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Method, e.Printer, e.Err)
}

func (e *MethodError) Unwrap() error { return e.Err }

// Is matches ErrMethodFailed.
func (e *MethodError) Is(target error) bool { return target == ErrMethodFailed }

// AllMethodsFailedError aggregates every method failure of one dispatch, in
// configured order.
type AllMethodsFailedError struct {
	Printer string
	Errors  []*MethodError
}

func (e *AllMethodsFailedError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, me := range e.Errors {
		parts[i] = me.Error()
	}
	return fmt.Sprintf("all delivery methods failed for %q: [%s]", e.Printer, strings.Join(parts, "; "))
}

// Unwrap exposes the individual method errors to errors.Is and errors.As.
func (e *AllMethodsFailedError) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, me := range e.Errors {
		out[i] = me
	}
	return out
}

// Is matches ErrAllMethodsFailed.
func (e *AllMethodsFailedError) Is(target error) bool { return target == ErrAllMethodsFailed }
