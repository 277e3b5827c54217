package issuer

import (
	"context"

	"github.com/StricklySoft/ezsecurity/pkg/audit"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
	"github.com/StricklySoft/ezsecurity/pkg/registration"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

// RequestProxyToken issues a proxy user token binding the certificate
// subject of req to the front-end. Only the front-end can obtain one: req
// must be fresh and signed with the front-end's registered key, and the
// subject must exist in the directory.
func (is *Issuer) RequestProxyToken(ctx context.Context, req *token.ProxyTokenRequest) (*token.ProxyTokenResponse, error) {
	if req == nil {
		return nil, sserr.New(sserr.CodeValidation, "issuer: proxy token request is required")
	}
	var resp *token.ProxyTokenResponse
	err := is.run(ctx, OpRequestProxyToken, registration.EFE.CN, func(ctx context.Context, ev *audit.Event) (err error) {
		ev.Subject = req.X509.Subject
		resp, err = is.requestProxyToken(ctx, req)
		return err
	})
	return resp, err
}

func (is *Issuer) requestProxyToken(ctx context.Context, req *token.ProxyTokenRequest) (*token.ProxyTokenResponse, error) {
	efe, err := is.fetchApp(ctx, registration.EFE.CN)
	if err != nil {
		return nil, err
	}
	if err := is.checkFresh(ctx, req.Validity.NotAfter); err != nil {
		return nil, err
	}
	v, err := efe.Verifier()
	if err != nil {
		return nil, err
	}
	b, err := req.SigningBytes()
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "issuer: encode proxy request")
	}
	if err := v.Verify(b, req.Validity.Signature); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeSignatureInvalid, "issuer: proxy request signature does not verify")
	}

	cctx, cancel := is.upstream(ctx)
	defer cancel()
	exists, err := is.directory.AssertUserStrict(cctx, req.X509.Subject)
	if err != nil {
		return nil, sserr.Upstream(err, "user directory")
	}
	if !exists {
		return nil, sserr.UserNotFound(req.X509.Subject)
	}

	put := &token.ProxyUserToken{
		X509:     req.X509,
		IssuedBy: is.id,
		IssuedTo: registration.EFE.CN,
		NotAfter: is.now().Add(is.cfg.ProxyTokenTTL),
	}
	return is.signProxyToken(put)
}

func (is *Issuer) signProxyToken(put *token.ProxyUserToken) (*token.ProxyTokenResponse, error) {
	enc, err := put.Encode()
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalSigning, "issuer: encode proxy token")
	}
	sig, err := is.key.Sign([]byte(enc))
	if err != nil {
		return nil, err
	}
	return &token.ProxyTokenResponse{Token: enc, Signature: sig}, nil
}

// ValidateProxyToken checks a proxy token returned by
// [Issuer.RequestProxyToken] and decodes it. It fails with
// [sserr.CodeSignatureInvalid] when the server signature does not verify
// and [sserr.CodeTokenExpired] once the token has expired.
func (is *Issuer) ValidateProxyToken(encoded string, signature []byte) (*token.ProxyUserToken, error) {
	if err := is.key.Verify([]byte(encoded), signature); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeSignatureInvalid, "issuer: proxy token signature does not verify")
	}
	put, err := token.ParseProxyUserToken(encoded)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "issuer: malformed proxy token")
	}
	if !is.now().Before(put.NotAfter) {
		return nil, sserr.Newf(sserr.CodeTokenExpired, "issuer: proxy token for %q expired", put.X509.Subject)
	}
	return put, nil
}
