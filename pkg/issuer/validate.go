package issuer

import (
	"context"
	"time"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
	"github.com/StricklySoft/ezsecurity/pkg/registration"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

// checkFresh accepts t when now-RequestExpiration < t < now+ClockSkew.
// The caller only learns that the request expired; the log says which
// bound it crossed.
func (is *Issuer) checkFresh(ctx context.Context, t time.Time) error {
	now := is.now()
	switch {
	case !t.After(now.Add(-is.cfg.RequestExpiration)):
		is.logger.InfoContext(ctx, "issuer: request timestamp too old",
			"timestamp", t, "now", now, "max_age", is.cfg.RequestExpiration)
	case !t.Before(now.Add(is.cfg.ClockSkew)):
		is.logger.InfoContext(ctx, "issuer: request timestamp in the future",
			"timestamp", t, "now", now, "clock_skew", is.cfg.ClockSkew)
	default:
		return nil
	}
	return sserr.New(sserr.CodeRequestExpired, "issuer: request outside the freshness window")
}

// validateRequest checks freshness and the request signature against
// signer's key. Mock mode skips the signature only.
func (is *Issuer) validateRequest(ctx context.Context, req *token.TokenRequest, signature []byte, signer *app) error {
	if err := is.checkFresh(ctx, req.Timestamp); err != nil {
		return err
	}
	if is.mock.Load() {
		is.logger.WarnContext(ctx, "issuer: mock mode, request signature not verified", "signer", signer.ID)
		return nil
	}
	v, err := signer.Verifier()
	if err != nil {
		return err
	}
	b, err := req.SigningBytes()
	if err != nil {
		return sserr.Wrap(err, sserr.CodeValidationFormat, "issuer: encode request")
	}
	if err := v.Verify(b, signature); err != nil {
		return sserr.Wrapf(err, sserr.CodeSignatureInvalid, "issuer: request signature by %s does not verify", signer.ID)
	}
	return nil
}

// verifyProofs checks the embedded principal proof with the server key.
// Raw and proxy principals forwarded by the front-end are trusted as is;
// token principals are always verified.
func (is *Issuer) verifyProofs(req *token.TokenRequest, signerID string) error {
	frontEnd := registration.EFE.Is(signerID)
	switch p := req.Proof.(type) {
	case token.RawPrincipal:
		if frontEnd {
			return nil
		}
		return is.verifyPrincipal(&p.Principal)
	case token.TokenPrincipal:
		if p.Token == nil {
			return sserr.New(sserr.CodeNoPrincipal, "issuer: token principal without a token")
		}
		return is.verifyToken(p.Token)
	case token.ProxyPrincipal:
		if frontEnd {
			return nil
		}
		_, err := is.ValidateProxyToken(p.Token, p.Signature)
		return err
	}
	return nil
}

func (is *Issuer) verifyPrincipal(p *token.Principal) error {
	if p.Validity == nil {
		return sserr.New(sserr.CodeSignatureInvalid, "issuer: principal carries no validity")
	}
	b, err := p.SigningBytes()
	if err != nil {
		return sserr.Wrap(err, sserr.CodeValidationFormat, "issuer: encode principal")
	}
	if err := is.key.Verify(b, p.Validity.Signature); err != nil {
		return sserr.Wrap(err, sserr.CodeSignatureInvalid, "issuer: principal signature does not verify")
	}
	return nil
}

// verifyToken checks the server signature of t. Expiry is not checked.
func (is *Issuer) verifyToken(t *token.Token) error {
	b, err := t.SigningBytes()
	if err != nil {
		return sserr.Wrap(err, sserr.CodeValidationFormat, "issuer: encode token")
	}
	if err := is.key.Verify(b, t.Validity.Signature); err != nil {
		return sserr.Wrap(err, sserr.CodeSignatureInvalid, "issuer: token signature does not verify")
	}
	return nil
}

// verifyReceivedToken checks a token presented to EzSecurity itself: it
// must carry the server signature, be unexpired and be issued for
// EzSecurity.
func (is *Issuer) verifyReceivedToken(t *token.Token) error {
	if t == nil {
		return sserr.New(sserr.CodeNoPrincipal, "issuer: caller token is required")
	}
	if err := is.verifyToken(t); err != nil {
		return err
	}
	if t.Validity.Expired(is.now()) {
		return sserr.Newf(sserr.CodeTokenExpired, "issuer: token %s expired at %s", t.ID, t.Validity.NotAfter.Format(time.RFC3339))
	}
	if !registration.EzSecurity.Is(t.Validity.IssuedFor) {
		return sserr.Newf(sserr.CodeTokenRejected, "issuer: token %s was issued for %q", t.ID, t.Validity.IssuedFor)
	}
	return nil
}

// resolvePrincipal turns the request proof into the principal the token
// will carry. The result never aliases the request.
func (is *Issuer) resolvePrincipal(req *token.TokenRequest) (token.Principal, error) {
	switch p := req.Proof.(type) {
	case token.RawPrincipal:
		return p.Principal.Clone(), nil
	case token.TokenPrincipal:
		if p.Token == nil {
			return token.Principal{}, sserr.New(sserr.CodeNoPrincipal, "issuer: token principal without a token")
		}
		return p.Token.Principal.Clone(), nil
	case token.ProxyPrincipal:
		put, err := token.ParseProxyUserToken(p.Token)
		if err != nil {
			return token.Principal{}, sserr.Wrap(err, sserr.CodeValidationFormat, "issuer: malformed proxy token")
		}
		if !is.now().Before(put.NotAfter) {
			return token.Principal{}, sserr.Newf(sserr.CodeTokenExpired, "issuer: proxy token for %q expired", put.X509.Subject)
		}
		return token.Principal{Subject: put.X509.Subject, Issuer: put.X509.Issuer}, nil
	case token.SelfAttested, nil:
		if req.Type == token.TypeApp {
			return token.Principal{Subject: req.SecurityID}, nil
		}
	}
	return token.Principal{}, sserr.Newf(sserr.CodeNoPrincipal, "issuer: no principal available for a %s token", req.Type)
}
