package registration

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
	"github.com/StricklySoft/ezsecurity/pkg/signing"
)

const tracerName = "github.com/StricklySoft/ezsecurity/pkg/registration"

// DefaultTTL is how long a resolved registration is served from cache.
const DefaultTTL = 10 * time.Minute

// App is a resolved, active registration with its parsed public key. Key
// is nil when the registration carries no usable key; such an application
// can never pass signature verification.
type App struct {
	Registration
	Key *signing.Key
}

// Verifier returns the application's key as a [signing.Verifier], or an
// error when it has none.
func (a *App) Verifier() (signing.Verifier, error) {
	if a.Key == nil {
		return nil, sserr.Newf(sserr.CodeSignatureInvalid, "registration: %s has no usable public key", a.ID)
	}
	return a.Key, nil
}

type entry struct {
	app     *App
	expires time.Time
}

// Resolver fronts a [Store] with reserved-id mapping, an expire-after-write
// cache and per-call timeouts. Concurrent lookups of the same id share one
// store call. Resolver is safe for concurrent use.
type Resolver struct {
	store   Store
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
	tracer  trace.Tracer

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// Option configures a [Resolver].
type Option func(*Resolver)

// WithTTL sets the cache lifetime. Zero disables caching.
func WithTTL(d time.Duration) Option { return func(r *Resolver) { r.ttl = d } }

// WithTimeout bounds each store call.
func WithTimeout(d time.Duration) Option { return func(r *Resolver) { r.timeout = d } }

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// NewResolver returns a resolver over store.
func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:   store,
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch resolves id to an active application. Reserved ids are looked up
// by their canonical CN first and by their legacy id when the CN has no
// record.
func (r *Resolver) Fetch(ctx context.Context, id string) (*App, error) {
	if id == "" {
		return nil, sserr.New(sserr.CodeAppNotRegistered, "registration: empty security id")
	}
	ctx, span := r.tracer.Start(ctx, "registration.fetch", trace.WithAttributes(
		attribute.String("ezsecurity.security_id", id),
	))
	app, err := r.fetch(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	return app, err
}

func (r *Resolver) fetch(ctx context.Context, id string) (*App, error) {
	reserved, isReserved := LookupReserved(id)
	if !isReserved {
		return r.cached(ctx, id)
	}
	app, err := r.cached(ctx, reserved.CN)
	if err == nil || !sserr.HasCode(err, sserr.CodeAppNotRegistered) {
		return app, err
	}
	r.logger.InfoContext(ctx, "registration: reserved app not found by CN, trying legacy id",
		"cn", reserved.CN, "legacy_id", reserved.LegacyID)
	return r.cached(ctx, reserved.LegacyID)
}

func (r *Resolver) cached(ctx context.Context, id string) (*App, error) {
	if r.ttl > 0 {
		r.mu.RLock()
		e, ok := r.entries[id]
		r.mu.RUnlock()
		if ok && r.now().Before(e.expires) {
			return e.app, nil
		}
	}
	v, err, _ := r.group.Do(id, func() (any, error) {
		return r.load(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*App), nil
}

func (r *Resolver) load(ctx context.Context, id string) (*App, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	reg, err := r.store.Lookup(ctx, id)
	if err != nil {
		return nil, sserr.Upstream(err, "registration store")
	}
	if !reg.Active() {
		return nil, sserr.Newf(sserr.CodeAppNotRegistered, "registration: %s is %s", id, reg.Status).
			WithDetail("security_id", id)
	}
	reg.normalize()
	app := &App{Registration: *reg}
	if reg.PublicKey != "" {
		key, err := signing.ParsePublicKeyPEM([]byte(reg.PublicKey))
		if err != nil {
			r.logger.WarnContext(ctx, "registration: unusable public key", "security_id", id, "error", err)
		} else {
			app.Key = key
		}
	}
	r.logger.DebugContext(ctx, "registration: loaded", "security_id", id)
	if r.ttl > 0 {
		r.mu.Lock()
		r.entries[id] = entry{app: app, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
	}
	return app, nil
}

// Invalidate drops every cached registration.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	clear(r.entries)
	r.mu.Unlock()
}
