package issuer

import (
	"context"

	"github.com/StricklySoft/ezsecurity/pkg/audit"
	"github.com/StricklySoft/ezsecurity/pkg/auth"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
	"github.com/StricklySoft/ezsecurity/pkg/registration"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

// Ping reports that the service is up.
func (is *Issuer) Ping(ctx context.Context) bool {
	is.logger.DebugContext(ctx, "issuer: ping")
	return true
}

// GetAuthorizations returns the formal and community authorizations of
// the subject identified by typ and id. With mutual TLS on, only
// infrastructure peers may ask.
func (is *Issuer) GetAuthorizations(ctx context.Context, caller *token.Token, typ token.Type, id string) (token.Tags, error) {
	var tags token.Tags
	err := is.run(ctx, OpGetAuthorizations, callerOf(caller), func(ctx context.Context, ev *audit.Event) (err error) {
		ev.Subject = id
		tags, err = is.getAuthorizations(ctx, typ, id)
		return err
	})
	return tags, err
}

func (is *Issuer) getAuthorizations(ctx context.Context, typ token.Type, id string) (token.Tags, error) {
	if is.cfg.MutualTLS {
		p, ok := auth.PeerFromContext(ctx)
		if !ok {
			return nil, sserr.New(sserr.CodePeerNotTrusted, "issuer: peer identity unavailable")
		}
		if !registration.IsInfrastructure(p.CommonName) {
			return nil, sserr.Newf(sserr.CodePeerNotTrusted, "issuer: peer %q may not read authorizations", p.CommonName)
		}
	}
	switch typ {
	case token.TypeApp:
		a, err := is.fetchApp(ctx, id)
		if err != nil {
			if sserr.HasCode(err, sserr.CodeAppNotRegistered) {
				return nil, sserr.Wrapf(err, sserr.CodeUserNotFound, "issuer: no application %q", id)
			}
			return nil, err
		}
		return a.formal.Union(a.community()), nil
	case token.TypeUser:
		u, auths, err := is.fetchUser(ctx, id)
		if err != nil {
			return nil, err
		}
		community, err := is.userCommunity(ctx, u)
		if err != nil {
			return nil, err
		}
		return auths.Union(community), nil
	}
	return nil, sserr.Newf(sserr.CodeValidation, "issuer: unknown token type %q", typ)
}

// IsUserInvalid reports whether userID is absent from the directory. The
// caller token must be a current token issued for EzSecurity.
func (is *Issuer) IsUserInvalid(ctx context.Context, caller *token.Token, userID string) (bool, error) {
	var invalid bool
	err := is.run(ctx, OpIsUserInvalid, callerOf(caller), func(ctx context.Context, ev *audit.Event) error {
		ev.Subject = userID
		if err := is.verifyReceivedToken(caller); err != nil {
			return err
		}
		cctx, cancel := is.upstream(ctx)
		defer cancel()
		exists, err := is.directory.AssertUserStrict(cctx, userID)
		if err != nil {
			return sserr.Upstream(err, "user directory")
		}
		invalid = !exists
		return nil
	})
	return invalid, err
}

// InvalidateCache drops the registration cache and the shared cache. The
// token must be a current user token, issued for EzSecurity, whose
// subject is an administrator.
//
// Registrations are dropped first. If the shared cache then fails, the
// error is returned as unavailable and the call may be retried.
func (is *Issuer) InvalidateCache(ctx context.Context, adminToken *token.Token) error {
	return is.run(ctx, OpInvalidateCache, callerOf(adminToken), func(ctx context.Context, ev *audit.Event) error {
		if err := is.verifyReceivedToken(adminToken); err != nil {
			return err
		}
		subject := adminToken.Principal.Subject
		ev.Subject = subject
		if adminToken.Type != token.TypeUser || !is.admins.IsAdmin(subject) {
			return sserr.Forbidden("issuer: cache invalidation requires an administrator").
				WithDetail("subject", subject)
		}
		is.apps.Invalidate()
		if is.cache != nil {
			cctx, cancel := is.upstream(ctx)
			defer cancel()
			if err := is.cache.Invalidate(cctx); err != nil {
				return sserr.Upstream(err, "cache")
			}
		}
		is.logger.InfoContext(ctx, "issuer: caches invalidated", "admin", subject)
		return nil
	})
}

// UpdateAdmins replaces the administrator set. Only a sibling EzSecurity
// instance, proven by its channel identity, may push admins; any other
// peer gets [sserr.CodePeerNotTrusted] and the set is left alone.
//
// A pushed set is applied but never forwarded, so siblings that each own
// an admin file do not echo sets back and forth. Pushing the set already
// held is a no-op that still reports true.
func (is *Issuer) UpdateAdmins(ctx context.Context, ids []string) (bool, error) {
	p, _ := auth.PeerFromContext(ctx)
	err := is.run(ctx, OpUpdateAdmins, p.CommonName, func(ctx context.Context, ev *audit.Event) error {
		if p.CommonName == "" {
			return sserr.New(sserr.CodePeerNotTrusted, "issuer: peer identity unavailable")
		}
		if !registration.EzSecurity.Is(p.CommonName) {
			return sserr.Newf(sserr.CodePeerNotTrusted, "issuer: peer %q may not update admins", p.CommonName)
		}
		is.admins.Replace(ids)
		is.logger.InfoContext(ctx, "issuer: admins updated by peer", "peer", p.Addr, "admins", is.admins.Len())
		return nil
	})
	return err == nil, err
}

// RequestUserInfo issues a user token for the front-end. The request must
// be signed by the front-end and carry a raw principal.
func (is *Issuer) RequestUserInfo(ctx context.Context, req *token.TokenRequest, signature []byte) (*token.Token, error) {
	if req == nil {
		return nil, sserr.New(sserr.CodeValidation, "issuer: token request is required")
	}
	if !registration.EFE.Is(req.SignerID()) {
		return nil, sserr.Newf(sserr.CodeForbidden, "issuer: user info is only issued to the front-end, not %q", req.SignerID())
	}
	if _, ok := req.Proof.(token.RawPrincipal); !ok {
		return nil, sserr.New(sserr.CodeNoPrincipal, "issuer: user info requires a raw principal")
	}
	if req.Type != token.TypeUser {
		return nil, sserr.Newf(sserr.CodeValidation, "issuer: user info requires a USER request, got %q", req.Type)
	}
	return is.RequestToken(ctx, req, signature)
}

// RequestUserInfoJWT is [Issuer.RequestUserInfo] rendered as a JWT signed
// with the server key.
func (is *Issuer) RequestUserInfoJWT(ctx context.Context, req *token.TokenRequest, signature []byte) (string, error) {
	tok, err := is.RequestUserInfo(ctx, req, signature)
	if err != nil {
		return "", err
	}
	return is.key.SignJWT(token.NewClaims(tok))
}

func callerOf(t *token.Token) string {
	if t == nil {
		return ""
	}
	return t.Validity.IssuedTo
}
