package issuer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/StricklySoft/ezsecurity/internal/testutil/fixtures"
	"github.com/StricklySoft/ezsecurity/pkg/admins"
	"github.com/StricklySoft/ezsecurity/pkg/audit"
	"github.com/StricklySoft/ezsecurity/pkg/directory"
	"github.com/StricklySoft/ezsecurity/pkg/groups"
	"github.com/StricklySoft/ezsecurity/pkg/registration"
	"github.com/StricklySoft/ezsecurity/pkg/signing"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

// Jim Bob and App1 share groups 10 and 11; App2 only 10. Group 13 gates
// tokens for App2 to App1 and App2 themselves.
const testGroupsYAML = `
users:
  "CN=Jim Bob, OU=People, O=EzBake, C=US": {index: 1}
  "CN=Ada Admin, OU=People, O=EzBake, C=US": {index: 2}
apps:
  App1: {index: 100}
  App2: {index: 101}
  _Ez_EFE: {index: 102}
groups:
  - id: 10
    name: analysts
    users: ["CN=Jim Bob, OU=People, O=EzBake, C=US"]
    apps: [App1, App2, _Ez_EFE]
  - id: 11
    name: app1-projects
    users: ["CN=Jim Bob, OU=People, O=EzBake, C=US"]
    apps: [App1]
  - id: 13
    name: app_access.App2
    apps: [App1, App2]
`

// ===========================================================================
// Collaborator fakes
// ===========================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingRegistrations struct {
	*registration.Resolver
	mu          sync.Mutex
	invalidated int
}

func (r *countingRegistrations) Invalidate() {
	r.mu.Lock()
	r.invalidated++
	r.mu.Unlock()
	r.Resolver.Invalidate()
}

func (r *countingRegistrations) Invalidations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.invalidated
}

type fakeCache struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *fakeCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

// failingGroups fails every call with err.
type failingGroups struct{ err error }

func (f failingGroups) Authorizations(context.Context, []string, token.Type, string, string) ([]int64, error) {
	return nil, f.err
}

func (f failingGroups) AppAccessMask(context.Context, string) ([]int64, error) { return nil, f.err }

var errGraphDown = errors.New("dial tcp 10.0.0.9:7687: connection refused")

// ===========================================================================
// Harness
// ===========================================================================

type harness struct {
	t      *testing.T
	keys   fixtures.Keys
	clock  *testClock
	dir    *directory.FileDirectory
	admins *admins.Registry
	regs   *countingRegistrations
	cache  *fakeCache
	logs   *bytes.Buffer
	reader *sdkmetric.ManualReader
	is     *Issuer
}

type harnessOption func(*Config, *Deps)

func withConfig(mutate func(*Config)) harnessOption {
	return func(c *Config, _ *Deps) { mutate(c) }
}

func withGroups(g groups.Service) harnessOption {
	return func(_ *Config, d *Deps) { d.Groups = g }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		keys:   fixtures.NewKeys(t),
		clock:  &testClock{now: testNow},
		dir:    fixtures.Directory(),
		admins: admins.New(fixtures.AdminDN),
		cache:  &fakeCache{},
		logs:   &bytes.Buffer{},
		reader: sdkmetric.NewManualReader(),
	}
	store := registration.NewStaticStore(fixtures.Registrations(t, h.keys)...)
	h.regs = &countingRegistrations{Resolver: registration.NewResolver(store, registration.WithClock(h.clock.Now))}
	g, err := groups.ParseStatic([]byte(testGroupsYAML))
	require.NoError(t, err)

	cfg := DefaultConfig()
	deps := Deps{
		Key:           h.keys.Server,
		Registrations: h.regs,
		Directory:     h.dir,
		Groups:        g,
		Admins:        h.admins,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	logger := slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(h.reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	h.is, err = New(cfg, deps,
		WithClock(h.clock.Now),
		WithLogger(logger),
		WithRecorder(audit.NewRecorder(logger)),
		WithCache(h.cache),
		WithMeter(provider.Meter("issuer-test")),
	)
	require.NoError(t, err)
	return h
}

// sign returns key's detached signature over req.
func (h *harness) sign(key *signing.Key, req *token.TokenRequest) []byte {
	h.t.Helper()
	b, err := req.SigningBytes()
	require.NoError(h.t, err)
	sig, err := key.Sign(b)
	require.NoError(h.t, err)
	return sig
}

// serverPrincipal returns a raw principal for subject signed by the server
// key, as a front-end would forward it.
func (h *harness) serverPrincipal(subject, issuedTo string) token.RawPrincipal {
	h.t.Helper()
	p := token.Principal{
		Subject: subject,
		Validity: &token.Validity{
			Issuer:     registration.EzSecurity.CN,
			IssuedTo:   issuedTo,
			IssuedTime: h.clock.Now(),
			NotAfter:   h.clock.Now().Add(time.Hour),
		},
	}
	b, err := p.SigningBytes()
	require.NoError(h.t, err)
	p.Validity.Signature, err = h.keys.Server.Sign(b)
	require.NoError(h.t, err)
	return token.RawPrincipal{Principal: p}
}

// userRequest builds a USER request from requester for subject.
func (h *harness) userRequest(requester, target, subject string) *token.TokenRequest {
	return &token.TokenRequest{
		SecurityID:       requester,
		TargetSecurityID: target,
		Timestamp:        h.clock.Now(),
		Type:             token.TypeUser,
		Proof:            h.serverPrincipal(subject, requester),
	}
}

// userToken issues a token for subject through requester and target.
func (h *harness) userToken(requester, target, subject string) *token.Token {
	h.t.Helper()
	req := h.userRequest(requester, target, subject)
	tok, err := h.is.RequestToken(context.Background(), req, h.sign(h.appKey(requester), req))
	require.NoError(h.t, err)
	return tok
}

func (h *harness) appKey(id string) *signing.Key {
	switch id {
	case fixtures.App1:
		return h.keys.App1
	case fixtures.App2:
		return h.keys.App2
	case registration.EFE.CN:
		return h.keys.EFE
	}
	return h.keys.Server
}

// verifyToken checks the server signatures of tok and its principal.
func (h *harness) verifyToken(tok *token.Token) {
	h.t.Helper()
	b, err := tok.SigningBytes()
	require.NoError(h.t, err)
	require.NoError(h.t, h.keys.Server.Verify(b, tok.Validity.Signature), "token signature")
	require.NotNil(h.t, tok.Principal.Validity)
	b, err = tok.Principal.SigningBytes()
	require.NoError(h.t, err)
	require.NoError(h.t, h.keys.Server.Verify(b, tok.Principal.Validity.Signature), "principal signature")
}

// auditLines returns the decoded audit lines logged for operation.
func (h *harness) auditLines(operation string) []map[string]any {
	h.t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(h.logs.Bytes()))
	for sc.Scan() {
		var m map[string]any
		require.NoError(h.t, json.Unmarshal(sc.Bytes(), &m))
		if m["msg"] == "audit: "+operation {
			lines = append(lines, m)
		}
	}
	return lines
}
