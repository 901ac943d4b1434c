package receipt

import (
	"errors"
	"fmt"
)

// ErrTemplateInvalid matches every TemplateError through errors.Is.
var ErrTemplateInvalid = errors.New("template invalid")

// TemplateError is the fatal rendering failure: the template cannot be printed.
type TemplateError struct {
	Field  string
	Reason string
	Err    error
}

func (e *TemplateError) Error() string {
	msg := fmt.Sprintf("template invalid: %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TemplateError) Unwrap() error { return e.Err }

// Is reports ErrTemplateInvalid as a match.
func (e *TemplateError) Is(target error) bool { return target == ErrTemplateInvalid }

func invalid(field, reason string) error {
	return &TemplateError{Field: field, Reason: reason}
}
