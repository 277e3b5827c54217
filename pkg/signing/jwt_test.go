package signing

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/ezsecurity/internal/testutil"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

func TestKey_JWT_RoundTrip(t *testing.T) {
	k := newECKey(t)
	in := jwt.RegisteredClaims{
		Subject:   "CN=Jim Bob",
		Issuer:    "_Ez_Security",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	raw, err := k.SignJWT(in)
	require.NoError(t, err)

	var out jwt.RegisteredClaims
	require.NoError(t, k.PublicOnly().ParseJWT(raw, &out, jwt.WithIssuer("_Ez_Security")))
	assert.Equal(t, "CN=Jim Bob", out.Subject)
}

func TestKey_ParseJWT_Expired(t *testing.T) {
	k := newECKey(t)
	raw, err := k.SignJWT(jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))})
	require.NoError(t, err)

	var out jwt.RegisteredClaims
	testutil.RequireErrorCode(t, k.ParseJWT(raw, &out), sserr.CodeTokenExpired)
}

func TestKey_ParseJWT_WrongKey(t *testing.T) {
	raw, err := newECKey(t).SignJWT(jwt.RegisteredClaims{Subject: "s"})
	require.NoError(t, err)

	var out jwt.RegisteredClaims
	testutil.RequireErrorCode(t, newECKey(t).ParseJWT(raw, &out), sserr.CodeSignatureInvalid)
}

func TestKey_ParseJWT_Malformed(t *testing.T) {
	var out jwt.RegisteredClaims
	testutil.RequireErrorCode(t, newECKey(t).ParseJWT("a.b", &out), sserr.CodeValidationFormat)
}

func TestKey_SignJWT_PublicOnly(t *testing.T) {
	_, err := newECKey(t).PublicOnly().SignJWT(jwt.RegisteredClaims{})
	testutil.RequireErrorCode(t, err, sserr.CodeInternalSigning)
}
