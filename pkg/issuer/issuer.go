// Package issuer implements the EzSecurity token service: it validates
// signed token requests, resolves the principal they carry, computes the
// authorizations the principal may hold through the request chain, and
// signs the resulting token with the server key.
//
// Operations return detailed [sserr.Error] values so the audit log can
// record exactly which check failed. Transports must reduce them with
// [sserr.Public] before they reach a caller.
package issuer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/ezsecurity/pkg/admins"
	"github.com/StricklySoft/ezsecurity/pkg/audit"
	"github.com/StricklySoft/ezsecurity/pkg/directory"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
	"github.com/StricklySoft/ezsecurity/pkg/groups"
	"github.com/StricklySoft/ezsecurity/pkg/policy"
	"github.com/StricklySoft/ezsecurity/pkg/registration"
	"github.com/StricklySoft/ezsecurity/pkg/signing"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

const tracerName = "github.com/StricklySoft/ezsecurity/pkg/issuer"

// Operation names used for spans, audit events and metrics.
const (
	OpRequestToken      = "request_token"
	OpRefreshToken      = "refresh_token"
	OpGetAuthorizations = "get_authorizations"
	OpRequestProxyToken = "request_proxy_token"
	OpIsUserInvalid     = "is_user_invalid"
	OpInvalidateCache   = "invalidate_cache"
	OpUpdateAdmins      = "update_admins"
)

// Registrations resolves application registrations.
type Registrations interface {
	Fetch(ctx context.Context, id string) (*registration.App, error)
	Invalidate()
}

var _ Registrations = (*registration.Resolver)(nil)

// CacheInvalidator drops a shared cache.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Deps are the collaborators of an Issuer. Policy defaults to
// [policy.Simple]; every other field is required.
type Deps struct {
	// Key is the server signing key. It signs every token, principal and
	// proxy token and verifies them when they come back.
	Key           *signing.Key
	Registrations Registrations
	Directory     directory.Directory
	Groups        groups.Service
	Admins        *admins.Registry
	Policy        policy.Policy
}

// Issuer is the token service. It is safe for concurrent use; the only
// mutable state is the mock flag.
type Issuer struct {
	cfg       Config
	key       *signing.Key
	apps      Registrations
	directory directory.Directory
	groups    groups.Service
	admins    *admins.Registry
	policy    policy.Policy
	cache     CacheInvalidator

	mock     atomic.Bool
	id       string
	now      func() time.Time
	logger   *slog.Logger
	recorder *audit.Recorder
	tracer   trace.Tracer
	meter    metric.Meter
	metrics  *metrics
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock sets the clock used for freshness and validity.
func WithClock(now func() time.Time) Option { return func(is *Issuer) { is.now = now } }

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option { return func(is *Issuer) { is.logger = l } }

// WithRecorder sets the audit recorder.
func WithRecorder(r *audit.Recorder) Option { return func(is *Issuer) { is.recorder = r } }

// WithCache adds a shared cache dropped by [Issuer.InvalidateCache].
func WithCache(c CacheInvalidator) Option { return func(is *Issuer) { is.cache = c } }

// WithMeter sets the meter for operation metrics.
func WithMeter(m metric.Meter) Option { return func(is *Issuer) { is.meter = m } }

// New returns an Issuer for cfg. It fails with
// [sserr.CodeInternalConfiguration] when a required dependency is missing
// or the key cannot sign, and with [sserr.CodeValidation] when cfg is
// invalid. Mock mode from cfg takes effect at once and is logged at warn
// level.
func New(cfg Config, deps Deps, opts ...Option) (*Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Key == nil || !deps.Key.CanSign():
		return nil, sserr.New(sserr.CodeInternalConfiguration, "issuer: a private server key is required")
	case deps.Registrations == nil:
		return nil, sserr.New(sserr.CodeInternalConfiguration, "issuer: registrations are required")
	case deps.Directory == nil:
		return nil, sserr.New(sserr.CodeInternalConfiguration, "issuer: a user directory is required")
	case deps.Groups == nil:
		return nil, sserr.New(sserr.CodeInternalConfiguration, "issuer: a group service is required")
	case deps.Admins == nil:
		return nil, sserr.New(sserr.CodeInternalConfiguration, "issuer: an admin registry is required")
	}
	if deps.Policy == nil {
		deps.Policy = policy.Simple{}
	}
	is := &Issuer{
		cfg:       cfg,
		key:       deps.Key,
		apps:      deps.Registrations,
		directory: deps.Directory,
		groups:    deps.Groups,
		admins:    deps.Admins,
		policy:    deps.Policy,
		id:        registration.EzSecurity.CN,
		now:       time.Now,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		meter:     otel.Meter(tracerName),
	}
	for _, opt := range opts {
		opt(is)
	}
	if is.recorder == nil {
		is.recorder = audit.NewRecorder(is.logger)
	}
	m, err := newMetrics(is.meter)
	if err != nil {
		return nil, err
	}
	is.metrics = m
	is.mock.Store(cfg.Mock)
	if cfg.Mock {
		is.logger.Warn("issuer: mock mode enabled, request signatures are not verified")
	}
	return is, nil
}

// SetMock turns mock mode on or off at runtime. It refuses to turn it on
// in the production environment with [sserr.CodeForbidden], leaving the
// current setting unchanged.
func (is *Issuer) SetMock(on bool) error {
	if on && is.cfg.Environment == Production {
		return sserr.New(sserr.CodeForbidden, "issuer: mock mode is not allowed in production")
	}
	is.mock.Store(on)
	is.logger.Warn("issuer: mock mode changed", "mock", on)
	return nil
}

// Mock reports whether mock mode is on.
func (is *Issuer) Mock() bool { return is.mock.Load() }

// run executes one operation under a span, an audit event and the
// operation metrics.
func (is *Issuer) run(ctx context.Context, op, caller string, fn func(ctx context.Context, ev *audit.Event) error) error {
	ctx, span := is.tracer.Start(ctx, "issuer."+op, trace.WithAttributes(
		attribute.String("ezsecurity.caller", caller),
	))
	defer span.End()
	ctx, ev := is.recorder.Begin(ctx, op, caller)
	span.SetAttributes(attribute.String("ezsecurity.correlation_id", ev.ID))

	start := is.now()
	err := fn(ctx, ev)
	is.recorder.End(ctx, ev, err)
	is.metrics.record(ctx, op, ev.Outcome, sserr.GetCode(err), is.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(sserr.GetCode(err)))
	}
	return err
}

// upstream bounds a collaborator call with the configured timeout.
func (is *Issuer) upstream(ctx context.Context) (context.Context, context.CancelFunc) {
	if is.cfg.UpstreamTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, is.cfg.UpstreamTimeout)
}

// RequestToken issues a token for the principal carried by req. signature
// is the detached signature of req by its signer, which is the requester
// unless req.Caveats names another issuer.
//
// The requester and target must both be registered and the target must
// admit the requester. The request must be fresh and correctly signed;
// mock mode skips only the signature. Any embedded principal is verified
// before use. The issued token carries the formal authorizations narrowed
// through the chain (or the pre-filter), the community authorizations and
// the group ids, and is signed with the server key.
//
// Every call is audited. Errors are detailed; see the package doc.
func (is *Issuer) RequestToken(ctx context.Context, req *token.TokenRequest, signature []byte) (*token.Token, error) {
	if req == nil {
		return nil, sserr.New(sserr.CodeValidation, "issuer: token request is required")
	}
	var tok *token.Token
	err := is.run(ctx, OpRequestToken, req.SecurityID, func(ctx context.Context, ev *audit.Event) (err error) {
		tok, err = is.requestToken(ctx, ev, req, signature)
		return err
	})
	return tok, err
}

func (is *Issuer) requestToken(ctx context.Context, ev *audit.Event, req *token.TokenRequest, signature []byte) (*token.Token, error) {
	if !req.Type.Valid() {
		return nil, sserr.Newf(sserr.CodeValidation, "issuer: unknown token type %q", req.Type)
	}
	issueTo := req.SecurityID
	issueFor := req.TargetSecurityID
	if issueFor == "" {
		issueFor = issueTo
	}
	ev.Target = issueFor

	requester, err := is.fetchApp(ctx, issueTo)
	if err != nil {
		return nil, err
	}
	target, err := is.fetchApp(ctx, issueFor)
	if err != nil {
		return nil, err
	}
	signer := requester
	if req.Caveats != nil && req.Caveats.Issuer != "" && req.Caveats.Issuer != issueTo {
		if signer, err = is.fetchApp(ctx, req.Caveats.Issuer); err != nil {
			return nil, err
		}
	}
	is.recorder.Step(ctx, "received", "requester", requester.ID, "target", target.ID, "signer", signer.ID)

	if err := is.validateRequest(ctx, req, signature, signer); err != nil {
		return nil, err
	}
	is.recorder.Step(ctx, "validated")

	if err := is.checkAppAccess(ctx, requester, target); err != nil {
		return nil, err
	}
	if err := is.verifyProofs(req, signer.ID); err != nil {
		return nil, err
	}
	principal, err := is.resolvePrincipal(req)
	if err != nil {
		return nil, err
	}
	ev.Subject = principal.Subject
	is.recorder.Step(ctx, "principal resolved", "subject", principal.Subject)

	preFilter := req.PreFilter
	original, fromToken := req.Proof.(token.TokenPrincipal)
	if fromToken {
		formal := token.NewTags(original.Token.Authorizations.Formal...)
		if preFilter != nil {
			formal = formal.Intersect(preFilter.Normalize())
		}
		preFilter = formal
	}

	now := is.now()
	tok := &token.Token{
		ID:   uuid.NewString(),
		Type: req.Type,
	}
	var subject, community token.Tags
	switch req.Type {
	case token.TypeApp:
		principal.Name = requester.Name
		principal.ExternalID = requester.DN
		tok.Level = requester.Level
		subject = requester.formal
		community = requester.community()
	case token.TypeUser:
		u, auths, err := is.fetchUser(ctx, principal.Subject)
		if err != nil {
			return nil, err
		}
		if community, err = is.userCommunity(ctx, u); err != nil {
			return nil, err
		}
		principal.Name = u.Name
		principal.ExternalID = u.UID
		subject = auths
		is.policy.PopulateUserToken(tok, u)
		tok.Level = u.Auths.Level
	}

	originalChain := principal.RequestChain
	principal.RequestChain = ExtendChain(principal.RequestChain, issueTo, issueFor)
	if err := is.signPrincipal(&principal, issueTo, now); err != nil {
		return nil, err
	}

	// Narrowing by chain only applies to a request that arrived with a
	// chain; it then runs over the extended chain.
	var hops []*app
	if len(originalChain) > 0 {
		if hops, err = is.chainApps(ctx, principal.RequestChain); err != nil {
			return nil, err
		}
	}
	var targetApp *app
	if req.TargetSecurityID != "" {
		targetApp = target
	}
	formal := filterFormal(subject, requester, targetApp, preFilter, hops)
	community = filterCommunity(community, requester, targetApp, hops)
	if req.Exclude != nil {
		exclude := req.Exclude.Normalize()
		formal = formal.Subtract(exclude)
		community = community.Subtract(exclude)
	}
	tok.Authorizations.Formal = formal
	tok.Authorizations.Community = community
	is.recorder.Step(ctx, "authorizations computed", "formal", len(formal), "community", len(community))

	ids, err := is.groupAuthorizations(ctx, principal.RequestChain, req.Type, principal.Subject, principal.Name)
	if err != nil {
		return nil, err
	}
	tok.Authorizations.Groups = ids
	is.recorder.Step(ctx, "groups resolved", "groups", len(ids))

	tok.Principal = principal
	tok.Validity = token.Validity{
		Issuer:     is.id,
		IssuedTo:   issueTo,
		IssuedFor:  issueFor,
		IssuedTime: now,
		NotAfter:   now.Add(is.cfg.TokenTTL),
	}
	if fromToken {
		// A derived token keeps the first issue time so the refresh window
		// cannot be reset by exchanging tokens.
		tok.Validity.IssuedTime = original.Token.Validity.IssuedTime
		tok.ValidForExternalRequest = original.Token.ValidForExternalRequest
	}
	if err := is.signToken(tok); err != nil {
		return nil, err
	}
	is.recorder.Step(ctx, "signed", "token_id", tok.ID)
	return tok, nil
}

// RefreshToken re-issues the token embedded in req with a new expiry and
// with authorizations narrowed to what the subject currently holds. The
// result keeps the token's id, issue time and group ids and never holds a
// formal authorization the original lacked.
//
// The embedded token's server signature is always verified, mock mode
// included. Refresh is refused with [sserr.CodeRefreshWindowExceeded]
// once the token's issue time is MaxRefresh in the past, however often
// it was refreshed before.
func (is *Issuer) RefreshToken(ctx context.Context, req *token.TokenRequest, signature []byte) (*token.Token, error) {
	if req == nil {
		return nil, sserr.New(sserr.CodeValidation, "issuer: token request is required")
	}
	var tok *token.Token
	err := is.run(ctx, OpRefreshToken, req.SecurityID, func(ctx context.Context, ev *audit.Event) (err error) {
		tok, err = is.refreshToken(ctx, ev, req, signature)
		return err
	})
	return tok, err
}

func (is *Issuer) refreshToken(ctx context.Context, ev *audit.Event, req *token.TokenRequest, signature []byte) (*token.Token, error) {
	signer, err := is.fetchApp(ctx, req.SignerID())
	if err != nil {
		return nil, err
	}
	if err := is.validateRequest(ctx, req, signature, signer); err != nil {
		return nil, err
	}
	proof, ok := req.Proof.(token.TokenPrincipal)
	if !ok || proof.Token == nil {
		return nil, sserr.New(sserr.CodeNoPrincipal, "issuer: refresh requires a token principal")
	}
	if err := is.verifyToken(proof.Token); err != nil {
		return nil, err
	}
	tok := proof.Token.Clone()
	ev.Subject = tok.Principal.Subject
	ev.Target = tok.Validity.IssuedFor

	now := is.now()
	if !now.Before(tok.Validity.IssuedTime.Add(is.cfg.MaxRefresh)) {
		return nil, sserr.Newf(sserr.CodeRefreshWindowExceeded,
			"issuer: token %s issued at %s is past the refresh window", tok.ID, tok.Validity.IssuedTime.Format(time.RFC3339))
	}

	var formal, community token.Tags
	switch tok.Type {
	case token.TypeApp:
		a, err := is.fetchApp(ctx, tok.Principal.Subject)
		if err != nil {
			return nil, err
		}
		tok.Level = a.Level
		formal = a.formal
		community = a.community()
	case token.TypeUser:
		u, auths, err := is.fetchUser(ctx, tok.Principal.Subject)
		if err != nil {
			return nil, err
		}
		if community, err = is.userCommunity(ctx, u); err != nil {
			return nil, err
		}
		tok.Level = u.Auths.Level
		formal = auths
	default:
		return nil, sserr.Newf(sserr.CodeValidation, "issuer: unknown token type %q", tok.Type)
	}
	tok.Authorizations.Formal = token.NewTags(tok.Authorizations.Formal...).Intersect(formal)
	tok.Authorizations.Community = token.NewTags(tok.Authorizations.Community...).Intersect(community)
	is.recorder.Step(ctx, "authorizations narrowed")

	ids, err := is.groupAuthorizations(ctx, tok.Principal.RequestChain, tok.Type, tok.Principal.Subject, tok.Principal.Name)
	if err != nil {
		return nil, err
	}
	tok.Authorizations.Groups = ids

	tok.Validity.NotAfter = now.Add(is.cfg.TokenTTL)
	if err := is.signPrincipal(&tok.Principal, tok.Validity.IssuedTo, now); err != nil {
		return nil, err
	}
	if err := is.signToken(tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// fetchUser loads dn and computes its formal authorizations. An
// administrator is granted the internal admin project on the returned
// record unless the directory already lists it.
func (is *Issuer) fetchUser(ctx context.Context, dn string) (*directory.User, token.Tags, error) {
	cctx, cancel := is.upstream(ctx)
	defer cancel()
	u, err := is.directory.User(cctx, dn)
	if err != nil {
		return nil, nil, sserr.Upstream(err, "user directory")
	}
	auths, err := is.policy.UserAuthorizations(cctx, u)
	if err != nil {
		return nil, nil, sserr.Upstream(err, "authorization policy")
	}
	if is.admins.IsAdmin(dn) {
		if u.Projects == nil {
			u.Projects = map[string][]string{}
		}
		if _, ok := u.Projects[registration.AdminProject]; !ok {
			u.Projects[registration.AdminProject] = []string{registration.AdminGroup}
			is.recorder.Step(ctx, "administrator project granted", "user", dn)
		}
	}
	return u, auths.Normalize(), nil
}

func (is *Issuer) userCommunity(ctx context.Context, u *directory.User) (token.Tags, error) {
	cctx, cancel := is.upstream(ctx)
	defer cancel()
	tags, err := is.policy.UserCommunityAuthorizations(cctx, u)
	if err != nil {
		return nil, sserr.Upstream(err, "authorization policy")
	}
	return tags.Normalize(), nil
}

func (is *Issuer) groupAuthorizations(ctx context.Context, chain []string, typ token.Type, subject, name string) ([]int64, error) {
	cctx, cancel := is.upstream(ctx)
	defer cancel()
	ids, err := is.groups.Authorizations(cctx, chain, typ, subject, name)
	if err != nil {
		return nil, sserr.Upstream(err, "group service")
	}
	return ids, nil
}

// checkAppAccess rejects a requester outside the target's access mask.
// An empty mask admits everyone.
func (is *Issuer) checkAppAccess(ctx context.Context, requester, target *app) error {
	cctx, cancel := is.upstream(ctx)
	defer cancel()
	mask, err := is.groups.AppAccessMask(cctx, target.ID)
	if err != nil {
		return sserr.Upstream(err, "group service")
	}
	if len(mask) == 0 {
		return nil
	}
	held, err := is.groups.Authorizations(cctx, nil, token.TypeApp, requester.ID, requester.Name)
	if err != nil {
		return sserr.Upstream(err, "group service")
	}
	if !groups.Intersects(held, mask) {
		return sserr.Newf(sserr.CodeAppAccessDenied, "issuer: %s may not request tokens for %s", requester.ID, target.ID).
			WithDetail("target", target.ID)
	}
	return nil
}

// signPrincipal stamps p with a fresh validity issued by EzSecurity and
// signs it with the server key.
func (is *Issuer) signPrincipal(p *token.Principal, issuedTo string, now time.Time) error {
	p.Validity = &token.Validity{
		Issuer:     is.id,
		IssuedTo:   issuedTo,
		IssuedTime: now,
		NotAfter:   now.Add(is.cfg.ProxyTokenTTL),
	}
	b, err := p.SigningBytes()
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternalSigning, "issuer: encode principal")
	}
	sig, err := is.key.Sign(b)
	if err != nil {
		return err
	}
	p.Validity.Signature = sig
	return nil
}

func (is *Issuer) signToken(t *token.Token) error {
	t.Validity.Signature = nil
	b, err := t.SigningBytes()
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternalSigning, "issuer: encode token")
	}
	sig, err := is.key.Sign(b)
	if err != nil {
		return err
	}
	t.Validity.Signature = sig
	return nil
}
