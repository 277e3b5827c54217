package errors

// Code represents a machine-readable error code. Codes follow the pattern
// CATEGORY_XXX where CATEGORY is a short identifier (VAL, AUTH, NF, ...) and
// XXX is a three-digit number. Codes are stable once assigned.
type Code string

// Error code categories:
//
//	VAL_xxx     - Validation errors (400 Bad Request)
//	AUTH_xxx    - Authentication errors (401 Unauthorized)
//	AUTHZ_xxx   - Authorization errors (403 Forbidden)
//	NF_xxx      - Not found errors (404 Not Found)
//	CONF_xxx    - Conflict errors (409 Conflict)
//	INT_xxx     - Internal errors (500 Internal Server Error)
//	UNAVAIL_xxx - Collaborator unavailable (503 Service Unavailable)
//	TIMEOUT_xxx - Collaborator timeout (504 Gateway Timeout)
const (
	// Validation errors (VAL_xxx).

	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeNoPrincipal indicates a token request carried no usable proof of
	// identity, or a proof that does not fit the requested token type.
	CodeNoPrincipal Code = "VAL_002"

	// CodeValidationFormat indicates a field has an invalid format, such as
	// an undecodable proxy token or key.
	CodeValidationFormat Code = "VAL_003"

	// Authentication errors (AUTH_xxx).

	// CodeTokenRejected is the single caller-visible code for every
	// rejection on the token issuance and refresh path.
	CodeTokenRejected Code = "AUTH_001"

	// CodeRequestExpired indicates a request timestamp fell outside the
	// freshness window.
	CodeRequestExpired Code = "AUTH_002"

	// CodeSignatureInvalid indicates a request, principal, token or proxy
	// token signature did not verify.
	CodeSignatureInvalid Code = "AUTH_003"

	// CodeRefreshWindowExceeded indicates a token is older than the
	// absolute refresh window.
	CodeRefreshWindowExceeded Code = "AUTH_004"

	// CodeTokenExpired indicates a received token is past its notAfter.
	CodeTokenExpired Code = "AUTH_005"

	// Authorization errors (AUTHZ_xxx).

	// CodeForbidden indicates a non-administrator attempted an
	// administrative operation.
	CodeForbidden Code = "AUTHZ_001"

	// CodeAppAccessDenied indicates the target application requires a group
	// the requesting application does not hold.
	CodeAppAccessDenied Code = "AUTHZ_002"

	// CodePeerNotTrusted indicates the transport peer identity is not
	// allowed to call the operation.
	CodePeerNotTrusted Code = "AUTHZ_003"

	// Not found errors (NF_xxx).

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// CodeAppNotRegistered indicates no registration exists for a security id.
	CodeAppNotRegistered Code = "NF_002"

	// CodeUserNotFound indicates the user directory has no record of a DN.
	CodeUserNotFound Code = "NF_003"

	// Conflict errors (CONF_xxx).

	// CodeConflict indicates an operation conflicts with current state.
	CodeConflict Code = "CONF_001"

	// Internal errors (INT_xxx).

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a database operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates a configuration error.
	CodeInternalConfiguration Code = "INT_003"

	// CodeInternalSigning indicates the service could not sign or encode a
	// token with its own key.
	CodeInternalSigning Code = "INT_004"

	// Unavailable errors (UNAVAIL_xxx).

	// CodeUnavailable indicates the service itself is not ready.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUpstreamUnavailable indicates a collaborator call failed.
	CodeUpstreamUnavailable Code = "UNAVAIL_002"

	// Timeout errors (TIMEOUT_xxx).

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeUpstreamTimeout indicates a collaborator call exceeded its
	// per-call deadline.
	CodeUpstreamTimeout Code = "TIMEOUT_002"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "VAL", "AUTH").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
