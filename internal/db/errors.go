package db

import (
	"fmt"

	"golang.org/x/xerrors"
)

// ErrLockUnavailable is returned when an advisory lock could not be
// acquired within the caller's timeout. Ingestion of that single event
// fails; the caller may log and drop.
var ErrLockUnavailable = xerrors.New("advisory lock unavailable")

// ValidationError rejects bad report parameters (inverted date ranges,
// unknown intervals and the like) synchronously, before any query
// execution, so callers can tell them apart from store errors.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}
