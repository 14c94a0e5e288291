package output

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a structured error with code, message, and optional hint.
//
// Errors produced by the request pipeline also carry a classification Kind.
// SuppressToast marks failures the pipeline already handles through a
// redirect, so a notification layer should stay quiet about them.
type Error struct {
	Code       string
	Message    string
	Hint       string
	HTTPStatus int
	Retryable  bool
	Cause      error

	Kind           Kind
	SuppressToast  bool
	IsNetworkError bool
	Body           []byte
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
		Code:    CodeAuth,
		Message: msg,
		Hint:    "Run: staybook auth login",
	}
}

func ErrForbidden(msg string) *Error {
	return &Error{
		Code:       CodeForbidden,
		Message:    msg,
		HTTPStatus: http.StatusForbidden,
	}
}

// ErrNetwork is the single rejection used when no response was received.
func ErrNetwork(cause error) *Error {
	return &Error{
		Code:           CodeNetwork,
		Message:        "Unable to reach the server. Check your connection and try again.",
		Hint:           cause.Error(),
		Cause:          cause,
		Kind:           KindNetworkError,
		IsNetworkError: true,
	}
}

func ErrAPI(status int, msg string) *Error {
	return &Error{
		Code:       CodeAPI,
		Message:    msg,
		HTTPStatus: status,
	}
}

// ErrSuppressed builds a rejection for a failure the pipeline has already
// handled (credential clear, redirect). Callers should not surface it.
func ErrSuppressed(kind Kind, status int, msg string) *Error {
	code := CodeAuth
	if status == http.StatusForbidden {
		code = CodeForbidden
	}
	return &Error{
		Code:          code,
		Message:       msg,
		HTTPStatus:    status,
		Kind:          kind,
		SuppressToast: true,
	}
}

// CodeForStatus maps an HTTP status to an envelope error code.
func CodeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return CodeAuth
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	default:
		return CodeAPI
	}
}

// AsError attempts to convert an error to an *Error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Code:    CodeAPI,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsSuppressed reports whether err is a pipeline-handled failure.
func IsSuppressed(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.SuppressToast
}
