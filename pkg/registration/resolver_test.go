package registration

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/ezsecurity/internal/testutil"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
	"github.com/StricklySoft/ezsecurity/pkg/signing"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

func publicKeyPEM(t *testing.T) (string, *signing.Key) {
	t.Helper()
	pk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	k, err := signing.New(pk)
	require.NoError(t, err)
	pemStr, err := signing.EncodePublicKeyPEM(&pk.PublicKey)
	require.NoError(t, err)
	return pemStr, k
}

// countingStore wraps a store and counts lookups.
type countingStore struct {
	Store
	calls atomic.Int32
	delay time.Duration
}

func (s *countingStore) Lookup(ctx context.Context, id string) (*Registration, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.Store.Lookup(ctx, id)
}

// ===========================================================================
// Fetch
// ===========================================================================

func TestResolver_Fetch_ParsesKeyAndNormalizesTags(t *testing.T) {
	pemStr, signer := publicKeyPEM(t)
	r := NewResolver(NewStaticStore(Registration{
		ID: "App1", PublicKey: pemStr, Formal: token.Tags{"b", "a", "a"},
	}))

	app, err := r.Fetch(context.Background(), "App1")
	require.NoError(t, err)
	assert.Equal(t, token.Tags{"a", "b"}, app.Formal)
	require.NotNil(t, app.Key)

	sig, err := signer.Sign([]byte("x"))
	require.NoError(t, err)
	v, err := app.Verifier()
	require.NoError(t, err)
	assert.NoError(t, v.Verify([]byte("x"), sig))
}

func TestResolver_Fetch_NotRegistered(t *testing.T) {
	r := NewResolver(NewStaticStore())
	_, err := r.Fetch(context.Background(), "Unknown")
	testutil.RequireErrorCode(t, err, sserr.CodeAppNotRegistered)

	_, err = r.Fetch(context.Background(), "")
	testutil.RequireErrorCode(t, err, sserr.CodeAppNotRegistered)
}

func TestResolver_Fetch_InactiveIsNotRegistered(t *testing.T) {
	r := NewResolver(NewStaticStore(Registration{ID: "App1", Status: StatusPending}))
	_, err := r.Fetch(context.Background(), "App1")
	testutil.RequireErrorCode(t, err, sserr.CodeAppNotRegistered)
}

func TestResolver_Fetch_BadKeyLeavesKeyNil(t *testing.T) {
	r := NewResolver(NewStaticStore(Registration{ID: "App1", PublicKey: "garbage"}))
	app, err := r.Fetch(context.Background(), "App1")
	require.NoError(t, err)
	assert.Nil(t, app.Key)
	_, err = app.Verifier()
	testutil.RequireErrorCode(t, err, sserr.CodeSignatureInvalid)
}

// ===========================================================================
// Reserved ids
// ===========================================================================

func TestResolver_Fetch_ReservedByLegacyID(t *testing.T) {
	r := NewResolver(NewStaticStore(Registration{ID: EFE.LegacyID, Name: "front end"}))

	app, err := r.Fetch(context.Background(), EFE.CN)
	require.NoError(t, err)
	assert.Equal(t, "front end", app.Name)
}

func TestResolver_Fetch_ReservedPrefersCN(t *testing.T) {
	r := NewResolver(NewStaticStore(
		Registration{ID: EzSecurity.CN, Name: "canonical"},
		Registration{ID: EzSecurity.LegacyID, Name: "legacy"},
	))

	app, err := r.Fetch(context.Background(), EzSecurity.LegacyID)
	require.NoError(t, err)
	assert.Equal(t, "canonical", app.Name)
}

func TestLookupReserved(t *testing.T) {
	res, ok := LookupReserved("10000001")
	require.True(t, ok)
	assert.Equal(t, EFE, res)
	assert.True(t, EFE.Is("_Ez_EFE"))
	assert.False(t, EFE.Is(""))

	_, ok = LookupReserved("App1")
	assert.False(t, ok)
	assert.True(t, IsInfrastructure("_Ez_Deployer"))
	assert.False(t, IsInfrastructure("App1"))
}

// ===========================================================================
// Caching
// ===========================================================================

func TestResolver_CachesUntilTTL(t *testing.T) {
	store := &countingStore{Store: NewStaticStore(Registration{ID: "App1"})}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewResolver(store, WithTTL(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for range 3 {
		_, err := r.Fetch(ctx, "App1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), store.calls.Load())

	now = now.Add(2 * time.Minute)
	_, err := r.Fetch(ctx, "App1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.calls.Load())
}

func TestResolver_Invalidate(t *testing.T) {
	store := &countingStore{Store: NewStaticStore(Registration{ID: "App1"})}
	r := NewResolver(store)
	ctx := context.Background()

	_, err := r.Fetch(ctx, "App1")
	require.NoError(t, err)
	r.Invalidate()
	_, err = r.Fetch(ctx, "App1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.calls.Load())
}

func TestResolver_NotFoundIsNotCached(t *testing.T) {
	store := &countingStore{Store: NewStaticStore()}
	r := NewResolver(store)
	for range 2 {
		_, err := r.Fetch(context.Background(), "App1")
		require.Error(t, err)
	}
	assert.Equal(t, int32(2), store.calls.Load())
}

func TestResolver_ConcurrentFetchSharesLookup(t *testing.T) {
	store := &countingStore{Store: NewStaticStore(Registration{ID: "App1"}), delay: 50 * time.Millisecond}
	r := NewResolver(store)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Fetch(context.Background(), "App1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, store.calls.Load(), int32(2))
}

// ===========================================================================
// Upstream failures
// ===========================================================================

type failingStore struct{ err error }

func (s failingStore) Lookup(context.Context, string) (*Registration, error) { return nil, s.err }

func TestResolver_TimeoutIsRetryable(t *testing.T) {
	store := &countingStore{Store: NewStaticStore(Registration{ID: "App1"}), delay: time.Second}
	r := NewResolver(store, WithTimeout(10*time.Millisecond))

	_, err := r.Fetch(context.Background(), "App1")
	testutil.RequireErrorCode(t, err, sserr.CodeUpstreamTimeout)
	assert.True(t, sserr.IsRetryable(err))
}

func TestResolver_StoreFailureIsUnavailable(t *testing.T) {
	r := NewResolver(failingStore{err: errors.New("connection refused")})
	_, err := r.Fetch(context.Background(), "App1")
	testutil.RequireErrorCode(t, err, sserr.CodeUpstreamUnavailable)
}
