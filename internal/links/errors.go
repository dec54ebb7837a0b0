package links

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a link id does not exist.
	ErrNotFound = errors.New("link not found")
	// ErrInvalid matches every *ValidationError.
	ErrInvalid = errors.New("invalid link")
	// ErrChannelClosed is returned by channels after Close.
	ErrChannelClosed = errors.New("channel closed")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrInvalid) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
