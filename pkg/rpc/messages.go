package rpc

import "github.com/StricklySoft/ezsecurity/pkg/token"

// Wire messages. Token types carry their own JSON forms; these wrappers
// add the detached signatures and the scalar arguments of each method.

// Empty is the argument or result of methods that carry none.
type Empty struct{}

// SignedTokenRequest carries a token request and the signer's detached
// signature over [token.TokenRequest.SigningBytes].
type SignedTokenRequest struct {
	Request   *token.TokenRequest `json:"request"`
	Signature []byte              `json:"signature"`
}

// TokenResponse carries an issued token.
type TokenResponse struct {
	Token *token.Token `json:"token"`
}

// JWTResponse carries an issued token rendered as a signed JWT.
type JWTResponse struct {
	JWT string `json:"jwt"`
}

// AuthorizationsRequest asks for the authorizations of one subject.
type AuthorizationsRequest struct {
	Caller *token.Token `json:"caller,omitempty"`
	Type   token.Type   `json:"type"`
	ID     string       `json:"id"`
}

// AuthorizationsResponse carries a subject's combined authorizations.
type AuthorizationsResponse struct {
	Authorizations token.Tags `json:"authorizations"`
}

// UserInvalidRequest asks whether a user is absent from the directory.
type UserInvalidRequest struct {
	Caller *token.Token `json:"caller"`
	UserID string       `json:"user_id"`
}

// InvalidateCacheRequest carries the administrator token that authorizes
// the invalidation.
type InvalidateCacheRequest struct {
	Token *token.Token `json:"token"`
}

// UpdateAdminsRequest carries the full administrator set.
type UpdateAdminsRequest struct {
	Admins []string `json:"admins"`
}

// BoolResponse carries a single flag.
type BoolResponse struct {
	Value bool `json:"value"`
}
