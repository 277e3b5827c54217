package errors

import (
	"fmt"
	"maps"
)

// Error is the structured error returned by EzSecurity packages.
//
// Message may be shown to callers only after the error has passed through
// [Public]; before that it can name applications, users and the check that
// failed, which is exactly what the audit log needs and what a caller must
// not see.
type Error struct {
	// Code is the machine-readable error code (e.g., "AUTH_003").
	Code Code

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// Details carries structured context such as the security id that
	// failed lookup or which side of the freshness window was violated.
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of this error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code. This lets
// callers match on a sentinel built with [New]:
//
//	errors.Is(err, sserr.New(sserr.CodeUserNotFound, ""))
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithDetails returns a copy of the error with details merged in.
func (e *Error) WithDetails(details map[string]any) *Error {
	newDetails := make(map[string]any, len(e.Details)+len(details))
	maps.Copy(newDetails, e.Details)
	maps.Copy(newDetails, details)
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: newDetails,
	}
}

// WithDetail returns a copy of the error with one detail added.
func (e *Error) WithDetail(key string, value any) *Error {
	return e.WithDetails(map[string]any{key: value})
}

// Format implements fmt.Formatter. %+v includes details and the cause chain.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Code: %q, Message: %q", e.Code, e.Message)
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
