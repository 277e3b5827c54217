package errors

import (
	"context"
	"errors"
	"fmt"
)

// New creates a new Error with the specified code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message.
//
//	err := errors.Newf(errors.CodeAppNotRegistered, "no registration for %q", id)
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps err with a code and message. If err is nil, Wrap returns nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps err with a code and a formatted message. If err is nil, Wrapf
// returns nil.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// Validationf creates a validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// AppNotRegistered creates the error returned when a security id has no
// registration.
func AppNotRegistered(securityID string) *Error {
	return Newf(CodeAppNotRegistered, "no registration for application %q", securityID).
		WithDetail("security_id", securityID)
}

// UserNotFound creates the error returned when the user directory has no
// record of a DN.
func UserNotFound(dn string) *Error {
	return Newf(CodeUserNotFound, "user %q not found", dn)
}

// Forbidden creates an authorization error for administrative operations.
func Forbidden(message string) *Error {
	return New(CodeForbidden, message)
}

// Internal creates a new internal error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// Internalf creates a new internal error with a formatted message.
func Internalf(format string, args ...any) *Error {
	return Newf(CodeInternal, format, args...)
}

// Unavailable creates an error for a service that is not ready.
func Unavailable(message string) *Error {
	return New(CodeUnavailable, message)
}

// Upstream wraps a collaborator failure. A context deadline becomes
// [CodeUpstreamTimeout]; anything else becomes [CodeUpstreamUnavailable].
// Errors that already carry a code are returned unchanged so that a
// collaborator's NF_ or VAL_ answer is not mistaken for an outage.
//
//	user, err := directory.GetUser(ctx, dn)
//	if err != nil {
//	    return errors.Upstream(err, "user directory")
//	}
func Upstream(err error, collaborator string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrapf(err, CodeUpstreamTimeout, "%s call timed out", collaborator)
	}
	return Wrapf(err, CodeUpstreamUnavailable, "%s call failed", collaborator)
}

// FromError converts a standard error to an Error. An *Error anywhere in the
// chain is returned as-is; anything else is wrapped as an internal error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
