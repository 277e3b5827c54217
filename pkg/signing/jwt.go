package signing

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// SignJWT renders claims as a compact JWS signed with k.
func (k *Key) SignJWT(claims jwt.Claims) (string, error) {
	if k.private == nil {
		return "", sserr.New(sserr.CodeInternalSigning, "signing: key has no private material")
	}
	s, err := jwt.NewWithClaims(k.method, claims).SignedString(k.private)
	if err != nil {
		return "", sserr.Wrap(err, sserr.CodeInternalSigning, "signing: sign JWT failed")
	}
	return s, nil
}

// ParseJWT verifies a compact JWS with k and decodes it into claims. Only
// the key's own algorithm is accepted.
func (k *Key) ParseJWT(raw string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	opts = append([]jwt.ParserOption{jwt.WithValidMethods([]string{k.method.Alg()})}, opts...)
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return k.public, nil
	}, opts...)
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return sserr.Wrap(err, sserr.CodeTokenExpired, "signing: JWT outside its validity window")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return sserr.Wrap(err, sserr.CodeSignatureInvalid, "signing: JWT signature does not verify")
	default:
		return sserr.Wrap(err, sserr.CodeValidationFormat, "signing: malformed JWT")
	}
}
