// Package domainerrors carries coded errors from services to the transport layer.
//
// Services return *Error values (directly or wrapped) and the HTTP layer maps the
// code to a status and a stable machine-readable error string. Infrastructure
// facts travel as sentinel errors (pkg/platform/sentinel) and are translated into
// coded errors at the service boundary.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is a stable, client-facing error identifier.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"
	CodeUnavailable        Code = "unavailable"
	CodeInternal           Code = "internal_error"
	CodeInvariantViolation Code = "invariant_violation"

	// CodeConfiguration marks a missing mandatory policy parameter. The decision
	// cannot proceed and retrying will not help until an operator fixes the data.
	CodeConfiguration Code = "configuration_error"
	// CodeVerificationFailed covers bad signatures, unknown kids and proof mismatches.
	CodeVerificationFailed Code = "verification_failed"
	// CodeSigningUnavailable is retryable: no certificate was produced and the
	// request was not marked complete.
	CodeSigningUnavailable Code = "signing_unavailable"
)

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the chain
// carries no domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether any domain error in the chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is reports whether the outermost domain error in the chain carries code.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Retryable reports whether a caller may retry the same request unchanged.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeSigningUnavailable, CodeUnavailable, CodeTimeout:
		return true
	default:
		return false
	}
}
