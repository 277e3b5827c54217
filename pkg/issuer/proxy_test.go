package issuer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/ezsecurity/internal/testutil"
	"github.com/StricklySoft/ezsecurity/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
	"github.com/StricklySoft/ezsecurity/pkg/registration"
	"github.com/StricklySoft/ezsecurity/pkg/signing"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

// proxyRequest builds a proxy token request for dn signed with key.
func (h *harness) proxyRequest(dn string, key *signing.Key) *token.ProxyTokenRequest {
	h.t.Helper()
	req := &token.ProxyTokenRequest{
		X509:     token.X509Info{Subject: dn, Issuer: "CN=EzBake CA"},
		Validity: token.Validity{Issuer: registration.EFE.CN, NotAfter: h.clock.Now()},
	}
	b, err := req.SigningBytes()
	require.NoError(h.t, err)
	req.Validity.Signature, err = key.Sign(b)
	require.NoError(h.t, err)
	return req
}

// ===========================================================================
// RequestProxyToken
// ===========================================================================

func TestRequestProxyToken(t *testing.T) {
	h := newHarness(t)
	resp, err := h.is.RequestProxyToken(context.Background(), h.proxyRequest(fixtures.JimBobDN, h.keys.EFE))
	require.NoError(t, err)
	require.NoError(t, h.keys.Server.Verify([]byte(resp.Token), resp.Signature))

	put, err := h.is.ValidateProxyToken(resp.Token, resp.Signature)
	require.NoError(t, err)
	assert.Equal(t, fixtures.JimBobDN, put.X509.Subject)
	assert.Equal(t, "CN=EzBake CA", put.X509.Issuer)
	assert.Equal(t, registration.EzSecurity.CN, put.IssuedBy)
	assert.Equal(t, registration.EFE.CN, put.IssuedTo)
	assert.Equal(t, testNow.Add(720*time.Second), put.NotAfter)
}

func TestRequestProxyToken_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		build    func(h *harness) *token.ProxyTokenRequest
		wantCode sserr.Code
	}{
		{
			name:     "signed by an application",
			build:    func(h *harness) *token.ProxyTokenRequest { return h.proxyRequest(fixtures.JimBobDN, h.keys.App1) },
			wantCode: sserr.CodeSignatureInvalid,
		},
		{
			name: "unsigned",
			build: func(h *harness) *token.ProxyTokenRequest {
				req := h.proxyRequest(fixtures.JimBobDN, h.keys.EFE)
				req.Validity.Signature = nil
				return req
			},
			wantCode: sserr.CodeSignatureInvalid,
		},
		{
			name: "stale",
			build: func(h *harness) *token.ProxyTokenRequest {
				h.clock.Advance(-2 * time.Minute)
				defer h.clock.Advance(2 * time.Minute)
				return h.proxyRequest(fixtures.JimBobDN, h.keys.EFE)
			},
			wantCode: sserr.CodeRequestExpired,
		},
		{
			name:     "unknown user",
			build:    func(h *harness) *token.ProxyTokenRequest { return h.proxyRequest(fixtures.GhostDN, h.keys.EFE) },
			wantCode: sserr.CodeUserNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.is.RequestProxyToken(context.Background(), tt.build(h))
			testutil.RequireErrorCode(t, err, tt.wantCode)
		})
	}

	h := newHarness(t)
	_, err := h.is.RequestProxyToken(context.Background(), nil)
	testutil.RequireErrorCode(t, err, sserr.CodeValidation)
}

// ===========================================================================
// ValidateProxyToken
// ===========================================================================

func TestValidateProxyToken(t *testing.T) {
	h := newHarness(t)
	resp, err := h.is.RequestProxyToken(context.Background(), h.proxyRequest(fixtures.JimBobDN, h.keys.EFE))
	require.NoError(t, err)

	_, err = h.is.ValidateProxyToken(resp.Token+" ", resp.Signature)
	testutil.RequireErrorCode(t, err, sserr.CodeSignatureInvalid)

	forged, err := (&token.ProxyUserToken{X509: token.X509Info{Subject: fixtures.AdminDN}, NotAfter: testNow.Add(time.Hour)}).Encode()
	require.NoError(t, err)
	sig, err := h.keys.EFE.Sign([]byte(forged))
	require.NoError(t, err)
	_, err = h.is.ValidateProxyToken(forged, sig)
	testutil.RequireErrorCode(t, err, sserr.CodeSignatureInvalid)

	h.clock.Advance(720 * time.Second)
	_, err = h.is.ValidateProxyToken(resp.Token, resp.Signature)
	testutil.RequireErrorCode(t, err, sserr.CodeTokenExpired)
}

// ===========================================================================
// Proxy principal in a token request
// ===========================================================================

func TestRequestToken_ProxyPrincipal(t *testing.T) {
	h := newHarness(t)
	resp, err := h.is.RequestProxyToken(context.Background(), h.proxyRequest(fixtures.JimBobDN, h.keys.EFE))
	require.NoError(t, err)

	req := &token.TokenRequest{
		SecurityID: fixtures.App1,
		Timestamp:  testNow,
		Type:       token.TypeUser,
		Proof:      token.ProxyPrincipal{Token: resp.Token, Signature: resp.Signature},
	}
	tok, err := h.is.RequestToken(context.Background(), req, h.sign(h.keys.App1, req))
	require.NoError(t, err)
	assert.Equal(t, fixtures.JimBobDN, tok.Principal.Subject)
	assert.Equal(t, "CN=EzBake CA", tok.Principal.Issuer)
	assert.Equal(t, token.Tags{"42six", "CSC", "USA", "ezbake"}, tok.Authorizations.Formal)

	h.clock.Advance(721 * time.Second)
	req.Timestamp = h.clock.Now()
	_, err = h.is.RequestToken(context.Background(), req, h.sign(h.keys.App1, req))
	testutil.RequireErrorCode(t, err, sserr.CodeTokenExpired)
}

func TestRequestToken_ProxyPrincipalForged(t *testing.T) {
	h := newHarness(t)
	forged, err := (&token.ProxyUserToken{
		X509:     token.X509Info{Subject: fixtures.AdminDN},
		IssuedBy: registration.EzSecurity.CN,
		NotAfter: testNow.Add(time.Hour),
	}).Encode()
	require.NoError(t, err)

	req := &token.TokenRequest{
		SecurityID: fixtures.App1,
		Timestamp:  testNow,
		Type:       token.TypeUser,
		Proof:      token.ProxyPrincipal{Token: forged, Signature: []byte("not a signature")},
	}
	_, err = h.is.RequestToken(context.Background(), req, h.sign(h.keys.App1, req))
	testutil.RequireErrorCode(t, err, sserr.CodeSignatureInvalid)
}
