package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means a referenced entity is absent where one was expected.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable means the store could not reach or read its backing
	// medium, including an empty-cache miss on a cache-only read.
	ErrUnavailable = errors.New("unavailable")
	// ErrConflict is reserved for compare-and-swap writes; current operations
	// never raise it since every write is overwrite-by-key or merge.
	ErrConflict = errors.New("conflict")
)

// ValidationError reports a request that is well-formed but not actionable,
// such as acting on a roster entry that does not exist.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Message)
}

func NewValidation(field, message string) error {
	return ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Unavailablef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}
