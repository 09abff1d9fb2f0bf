package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrorInvalidQuestion ErrorCode = "INVALID_QUESTION"
	ErrorRateLimited     ErrorCode = "RATE_LIMITED"
	ErrorUpstream        ErrorCode = "UPSTREAM_ERROR"
	ErrorCanceled        ErrorCode = "CANCELED"
	ErrorInternal        ErrorCode = "INTERNAL_ERROR"
)

// Error is the failure of a turn as reported to the client: a stable code
// plus a snake_case reason. Err carries the underlying cause for logs only.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Classify returns the code and reason of err, treating anything that is not
// an *Error as internal.
func Classify(err error) (ErrorCode, string) {
	var usecaseErr *Error
	if errors.As(err, &usecaseErr) {
		return usecaseErr.Code, usecaseErr.Reason
	}
	return ErrorInternal, "internal_error"
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
