// Package errors provides the structured error type used by every EzSecurity
// package. Each error carries a machine-readable [Code], a message, an
// optional cause and optional structured details.
//
// # Error Categories
//
// Codes are grouped by a category prefix that determines the transport
// status a caller eventually sees:
//
//   - VAL: malformed or incomplete requests (no principal proof, bad input)
//   - AUTH: the request or an embedded credential failed verification
//   - AUTHZ: the verified caller is not allowed to do what it asked
//   - NF: an application registration or a user record does not exist
//   - CONF: a state transition conflicts with the current state
//   - INT: signing, encoding or configuration failures inside the service
//   - UNAVAIL: a collaborator (store, directory, groups, cache) failed
//   - TIMEOUT: a collaborator call exceeded its deadline
//
// # Internal and Public Errors
//
// Errors built inside the service keep full detail for the audit log. Before
// an error crosses the service boundary it is reduced with [Public], which
// collapses every rejection on the token path into one generic message so
// that a caller cannot tell a bad signature from an expired request or an
// unknown application.
//
// # Usage
//
//	err := errors.New(errors.CodeSignatureInvalid, "request signature did not verify")
//
//	if errors.IsRetryable(err) {
//	    // collaborator failure, the caller may resubmit
//	}
//
//	return errors.Public(err)
package errors
