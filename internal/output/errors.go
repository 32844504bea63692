package output

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error is a structured error with code, message, and optional hint.
type Error struct {
	Code       string
	Message    string
	Hint       string
	HTTPStatus int
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Hint)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode returns the appropriate exit code for this error.
func (e *Error) ExitCode() int {
	return ExitCodeFor(e.Code)
}

// Error constructors for common cases.

func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Message: msg}
}

func ErrUsageHint(msg, hint string) *Error {
	return &Error{Code: CodeUsage, Message: msg, Hint: hint}
}

func ErrNotFound(resource, identifier string) *Error {
	return &Error{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, identifier),
		HTTPStatus: http.StatusNotFound,
	}
}

func ErrAuth(msg string) *Error {
	return &Error{
		Code:       CodeAuth,
		Message:    msg,
		Hint:       "Set TAXDESK_TOKEN or token in ~/.config/taxdesk/config.yaml",
		HTTPStatus: http.StatusUnauthorized,
	}
}

func ErrForbidden(msg string) *Error {
	return &Error{
		Code:       CodeForbidden,
		Message:    msg,
		HTTPStatus: http.StatusForbidden,
	}
}

// ErrRateLimit reports throttling. retryAfter is in seconds; 0 means unknown.
func ErrRateLimit(retryAfter int) *Error {
	hint := "Try again later"
	if retryAfter > 0 {
		hint = fmt.Sprintf("Try again in %d seconds", retryAfter)
	}
	return &Error{
		Code:       CodeRateLimit,
		Message:    "Rate limited",
		Hint:       hint,
		HTTPStatus: http.StatusTooManyRequests,
		Retryable:  true,
	}
}

func ErrNetwork(cause error) *Error {
	return &Error{
		Code:      CodeNetwork,
		Message:   "Network error",
		Hint:      cause.Error(),
		Retryable: true,
		Cause:     cause,
	}
}

func ErrTimeout(cause error) *Error {
	return &Error{
		Code:      CodeNetwork,
		Message:   "Request timed out",
		Retryable: true,
		Cause:     cause,
	}
}

// ErrCanceled marks a request abandoned by its caller. cause should wrap
// context.Canceled so errors.Is keeps working.
func ErrCanceled(cause error) *Error {
	if cause == nil {
		cause = context.Canceled
	}
	return &Error{
		Code:    CodeCanceled,
		Message: "Request canceled",
		Cause:   cause,
	}
}

// ErrAPI maps an HTTP failure to an error. 5xx responses are retryable.
func ErrAPI(status int, msg string) *Error {
	return &Error{
		Code:       CodeAPI,
		Message:    msg,
		HTTPStatus: status,
		Retryable:  status >= 500,
	}
}

// ErrHTTP picks the most specific constructor for status.
func ErrHTTP(status int, msg string) *Error {
	switch status {
	case http.StatusUnauthorized:
		return ErrAuth(msg)
	case http.StatusForbidden:
		return ErrForbidden(msg)
	case http.StatusNotFound:
		return &Error{Code: CodeNotFound, Message: msg, HTTPStatus: status}
	case http.StatusTooManyRequests:
		return ErrRateLimit(0)
	default:
		return ErrAPI(status, msg)
	}
}

// IsCanceled reports whether err represents caller cancellation.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) && e.Code == CodeCanceled {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// AsError attempts to convert an error to an *Error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) {
		return ErrCanceled(err)
	}
	return &Error{
		Code:    CodeAPI,
		Message: err.Error(),
		Cause:   err,
	}
}
