// ABOUTME: Typed application errors with wire-safe codes
// ABOUTME: Every failure surfaced to a client maps to exactly one Code

package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a failure class on the wire. Codes are stable strings:
// clients switch on them, so renaming one is a breaking change.
type Code string

const (
	CodeAuthenticationRequired Code = "AUTHENTICATION_REQUIRED"
	CodeInvalidCredential      Code = "INVALID_CREDENTIAL"
	CodeUserNotFound           Code = "USER_NOT_FOUND"
	CodeAccessDenied           Code = "ACCESS_DENIED"
	CodeNotFound               Code = "NOT_FOUND"
	CodeBlocked                Code = "BLOCKED"
	CodeInvalidOperation       Code = "INVALID_OPERATION"
	CodeValidationFailed       Code = "VALIDATION_FAILED"
	CodeTransientStore         Code = "TRANSIENT_STORE"
)

// Error carries a Code for the wire and an optional wrapped cause for logs.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error that records cause for logging. The cause is never
// serialized to clients.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the Code from err. Errors that are not *Error are treated
// as transient store failures: the only unclassified errors in this codebase
// come from the database or the network, and those are the retryable class.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeTransientStore
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Constructors for the common cases.

func AuthenticationRequired(msg string) *Error { return New(CodeAuthenticationRequired, msg) }
func InvalidCredential(msg string) *Error      { return New(CodeInvalidCredential, msg) }
func UserNotFound(msg string) *Error           { return New(CodeUserNotFound, msg) }
func AccessDenied(msg string) *Error           { return New(CodeAccessDenied, msg) }
func NotFound(msg string) *Error               { return New(CodeNotFound, msg) }
func Blocked(msg string) *Error                { return New(CodeBlocked, msg) }
func InvalidOperation(msg string) *Error       { return New(CodeInvalidOperation, msg) }
func ValidationFailed(msg string) *Error       { return New(CodeValidationFailed, msg) }

// TransientStore wraps a database error that a caller may retry.
func TransientStore(msg string, cause error) *Error {
	return Wrap(CodeTransientStore, msg, cause)
}
