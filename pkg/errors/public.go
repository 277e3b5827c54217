package errors

// Messages returned to callers by [Public].
const (
	msgRejected     = "token request rejected"
	msgNotPermitted = "operation not permitted"
	msgRefreshAge   = "token is too old to refresh"
	msgUnavailable  = "service temporarily unavailable"
	msgInvalid      = "invalid request"
	msgInternal     = "internal error"
)

// Public reduces err to the form a caller is allowed to see. Every
// rejection on the token path becomes [CodeTokenRejected] with one fixed
// message, so an unknown application, an expired timestamp and a bad
// signature are indistinguishable from outside. Collaborator failures keep
// their retryable code. The cause and details are always dropped.
func Public(err error) *Error {
	if err == nil {
		return nil
	}
	e, ok := AsError(err)
	if !ok {
		return New(CodeInternal, msgInternal)
	}
	if IsRejection(e) {
		return New(CodeTokenRejected, msgRejected)
	}
	switch e.Code {
	case CodeRefreshWindowExceeded:
		return New(CodeRefreshWindowExceeded, msgRefreshAge)
	case CodeForbidden, CodePeerNotTrusted:
		return New(e.Code, msgNotPermitted)
	case CodeUpstreamTimeout:
		return New(CodeUpstreamTimeout, msgUnavailable)
	}
	switch e.Code.Category() {
	case "UNAVAIL", "TIMEOUT":
		return New(CodeUpstreamUnavailable, msgUnavailable)
	case "VAL":
		return New(e.Code, msgInvalid)
	case "NF":
		return New(CodeNotFound, msgInvalid)
	case "CONF":
		return New(e.Code, e.Message)
	default:
		return New(CodeInternal, msgInternal)
	}
}
