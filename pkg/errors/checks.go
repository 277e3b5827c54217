package errors

import (
	"errors"
	"slices"
)

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the first *Error in err's chain, or "".
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// InCategory reports whether err carries a code in one of categories,
// for example InCategory(err, "NF", "AUTHZ").
func InCategory(err error, categories ...string) bool {
	e, ok := AsError(err)
	return ok && slices.Contains(categories, e.Code.Category())
}

// IsValidation reports a malformed request or configuration (VAL_xxx).
func IsValidation(err error) bool {
	return InCategory(err, "VAL")
}

// IsRetryable reports whether the caller may resubmit the request.
// Only collaborator failures (UNAVAIL, TIMEOUT) qualify. A rejected
// signed request stays rejected no matter how often it is sent, so the
// service itself never retries.
func IsRetryable(err error) bool {
	return InCategory(err, "UNAVAIL", "TIMEOUT")
}

// IsClientError reports whether the caller is at fault. Audit records
// these as denials and the gRPC layer logs them below error level.
func IsClientError(err error) bool {
	return InCategory(err, "VAL", "AUTH", "AUTHZ", "NF", "CONF")
}

// IsRejection reports whether the error is one of the token-path
// rejections that [Public] folds into [CodeTokenRejected].
func IsRejection(err error) bool {
	switch GetCode(err) {
	case CodeTokenRejected, CodeRequestExpired, CodeSignatureInvalid,
		CodeTokenExpired, CodeAppAccessDenied, CodeNoPrincipal,
		CodeAppNotRegistered, CodeUserNotFound:
		return true
	default:
		return false
	}
}
