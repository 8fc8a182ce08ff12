// Package errs gives harness failures a code that survives wrapping and maps
// to the process exit status.
package errs

import (
	"context"
	"errors"
)

// Code is a harness error code.
type Code string

const (
	InvalidArgument    Code = "invalid_argument"
	NotFound           Code = "not_found"
	DeadlineExceeded   Code = "deadline_exceeded"
	FailedPrecondition Code = "failed_precondition"
	Unavailable        Code = "unavailable"
	Canceled           Code = "canceled"
	Internal           Code = "internal"
)

// Error is a coded harness error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Message == "" && e.Err == nil:
		return string(e.Code)
	case e.Message == "":
		return e.Err.Error()
	case e.Err == nil:
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Err: cause}
}

// CodeOf returns the outermost coded error's code. Uncoded context
// errors map to DeadlineExceeded and Canceled; anything else is Internal.
func CodeOf(err error) Code {
	var coded *Error
	switch {
	case err == nil:
		return Internal
	case errors.As(err, &coded) && coded.Code != "":
		return coded.Code
	case errors.Is(err, context.DeadlineExceeded):
		return DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return Canceled
	}
	return Internal
}

// exitCodes are process exit statuses; unknown codes exit 1.
var exitCodes = map[Code]int{
	InvalidArgument:    2,
	DeadlineExceeded:   3,
	NotFound:           4,
	FailedPrecondition: 5,
	Unavailable:        6,
	Canceled:           130,
}

// ExitCode maps an error code to a process exit status.
func ExitCode(code Code) int {
	if n, ok := exitCodes[code]; ok {
		return n
	}
	return 1
}
