package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/ezsecurity/internal/testutil"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// syncBuffer is a log sink safe for the concurrent writes made by Run.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newBuilder(logs *syncBuffer) *Builder {
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewBuilder("ezsecurity", "1.0.0").WithLogger(logger)
}

func mustBuild(t *testing.T, b *Builder) *Service {
	t.Helper()
	svc, err := b.Build()
	require.NoError(t, err)
	return svc
}

// waitFor polls until the service reaches want.
func waitFor(t *testing.T, svc *Service, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return svc.State() == want }, 2*time.Second, 5*time.Millisecond)
}

// ===========================================================================
// SetState
// ===========================================================================

func TestService_SetState(t *testing.T) {
	var got [][2]State
	svc := mustBuild(t, newBuilder(&syncBuffer{}).OnStateChange(func(old, new State) {
		got = append(got, [2]State{old, new})
	}))

	require.NoError(t, svc.SetState(StateStarting))
	err := svc.SetState(StateStopped)
	testutil.RequireErrorCode(t, err, sserr.CodeConflict)
	assert.Equal(t, StateStarting, svc.State())
	assert.Equal(t, [][2]State{{StateCreated, StateStarting}}, got)
}

func TestService_SetState_HandlerPanic(t *testing.T) {
	logs := &syncBuffer{}
	var after bool
	svc := mustBuild(t, newBuilder(logs).
		OnStateChange(func(State, State) { panic("boom") }).
		OnStateChange(func(State, State) { after = true }))

	require.NoError(t, svc.SetState(StateStarting))
	assert.True(t, after, "handlers after a panicking one still run")
	assert.Contains(t, logs.String(), "state change handler panicked")
}

// ===========================================================================
// Start / Stop
// ===========================================================================

func TestService_StartStop(t *testing.T) {
	var calls []string
	svc := mustBuild(t, newBuilder(&syncBuffer{}).
		WithOnStart(func(context.Context) error { calls = append(calls, "start"); return nil }).
		WithOnStop(func(context.Context) error { calls = append(calls, "stop"); return nil }))

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StateRunning, svc.State())
	info := svc.Info()
	require.NotNil(t, info.StartedAt)

	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, StateStopped, svc.State())
	assert.Nil(t, svc.Info().StartedAt)
	assert.Equal(t, []string{"start", "stop"}, calls)

	require.NoError(t, svc.Stop(context.Background()), "stopping a stopped service is a no-op")
	assert.Equal(t, []string{"start", "stop"}, calls)

	require.NoError(t, svc.Start(context.Background()), "a stopped service restarts")
	assert.Equal(t, StateRunning, svc.State())
}

func TestService_Start_HookFailure(t *testing.T) {
	svc := mustBuild(t, newBuilder(&syncBuffer{}).
		WithOnStart(func(context.Context) error { return errors.New("postgres: connection refused") }))

	err := svc.Start(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeInternal)
	assert.Equal(t, StateFailed, svc.State())
}

func TestService_Start_Canceled(t *testing.T) {
	svc := mustBuild(t, newBuilder(&syncBuffer{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	testutil.RequireErrorCode(t, svc.Start(ctx), sserr.CodeTimeout)
	assert.Equal(t, StateCreated, svc.State())
}

func TestService_Start_Twice(t *testing.T) {
	svc := mustBuild(t, newBuilder(&syncBuffer{}))
	require.NoError(t, svc.Start(context.Background()))
	testutil.RequireErrorCode(t, svc.Start(context.Background()), sserr.CodeConflict)
}

func TestService_Stop_HookFailure(t *testing.T) {
	svc := mustBuild(t, newBuilder(&syncBuffer{}).
		WithOnStop(func(context.Context) error { return errors.New("flush failed") }))
	require.NoError(t, svc.Start(context.Background()))

	testutil.RequireErrorCode(t, svc.Stop(context.Background()), sserr.CodeInternal)
	assert.Equal(t, StateFailed, svc.State())
}

func TestService_Stop_BeforeStart(t *testing.T) {
	svc := mustBuild(t, newBuilder(&syncBuffer{}))
	testutil.RequireErrorCode(t, svc.Stop(context.Background()), sserr.CodeConflict)
}

// ===========================================================================
// Health
// ===========================================================================

func TestService_Health(t *testing.T) {
	var redisDown atomic.Bool
	svc := mustBuild(t, newBuilder(&syncBuffer{}).
		WithCheck(Check{Name: "postgres", Probe: noop}).
		WithCheck(Check{Name: "redis", Probe: func(context.Context) error {
			if redisDown.Load() {
				return errors.New("dial tcp 10.0.0.7:6379: connection refused")
			}
			return nil
		}}))

	testutil.RequireErrorCode(t, svc.Health(context.Background()), sserr.CodeUnavailable)

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Health(context.Background()))

	redisDown.Store(true)
	err := svc.Health(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeUnavailable)
	assert.Contains(t, err.Error(), "redis")
}

func TestService_Health_CheckTimeout(t *testing.T) {
	svc := mustBuild(t, newBuilder(&syncBuffer{}).
		WithCheck(Check{Name: "neo4j", Timeout: 10 * time.Millisecond, Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}))
	require.NoError(t, svc.Start(context.Background()))

	start := time.Now()
	testutil.RequireErrorCode(t, svc.Health(context.Background()), sserr.CodeUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestService_Report(t *testing.T) {
	logs := &syncBuffer{}
	svc := mustBuild(t, newBuilder(logs).
		WithCheck(Check{Name: "postgres", Probe: noop}).
		WithCheck(Check{Name: "minio", Probe: func(context.Context) error {
			return errors.New("secret-bucket: access denied for key AKIA123")
		}}))
	require.NoError(t, svc.Start(context.Background()))

	rep := svc.Report(context.Background())
	assert.False(t, rep.Healthy)
	assert.Equal(t, StateRunning, rep.State)
	require.Len(t, rep.Checks, 2)
	assert.Equal(t, "postgres", rep.Checks[0].Name)
	assert.True(t, rep.Checks[0].Healthy)
	assert.Equal(t, "minio", rep.Checks[1].Name)
	assert.False(t, rep.Checks[1].Healthy)
	assert.NotContains(t, rep.Checks[1].Error, "AKIA123", "probe errors are reduced before reporting")
	assert.Contains(t, logs.String(), "health check failed")
}

func TestService_HealthHandler(t *testing.T) {
	svc := mustBuild(t, newBuilder(&syncBuffer{}).WithCheck(Check{Name: "postgres", Probe: noop}))

	serve := func() (*httptest.ResponseRecorder, Report) {
		rec := httptest.NewRecorder()
		svc.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		var rep Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
		return rec, rep
	}

	rec, rep := serve()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, StateCreated, rep.State)

	require.NoError(t, svc.Start(context.Background()))
	rec, rep = serve()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.True(t, rep.Healthy)
	assert.Equal(t, "ezsecurity", rep.Name)
}

// ===========================================================================
// Run
// ===========================================================================

func TestService_Run_StopsOnCancel(t *testing.T) {
	var stopped atomic.Bool
	var taskDone atomic.Bool
	svc := mustBuild(t, newBuilder(&syncBuffer{}).
		WithTask("grpc", func(ctx context.Context) error {
			<-ctx.Done()
			taskDone.Store(true)
			return ctx.Err()
		}).
		WithTask("one-shot", noop).
		WithOnStop(func(ctx context.Context) error {
			assert.NoError(t, ctx.Err(), "the stop hook gets a live context")
			stopped.Store(true)
			return nil
		}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitFor(t, svc, StateRunning)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateStopped, svc.State())
	assert.True(t, taskDone.Load())
	assert.True(t, stopped.Load())
}

func TestService_Run_NoTasks(t *testing.T) {
	svc := mustBuild(t, newBuilder(&syncBuffer{}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitFor(t, svc, StateRunning)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateStopped, svc.State())
}

func TestService_Run_TaskFailure(t *testing.T) {
	logs := &syncBuffer{}
	var siblingCanceled, stopped atomic.Bool
	svc := mustBuild(t, newBuilder(logs).
		WithTask("watch", func(ctx context.Context) error {
			<-ctx.Done()
			siblingCanceled.Store(true)
			return nil
		}).
		WithTask("grpc", func(context.Context) error {
			return errors.New("listen tcp :8443: address already in use")
		}).
		WithOnStop(func(context.Context) error { stopped.Store(true); return nil }))

	err := svc.Run(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeInternal)
	assert.Contains(t, err.Error(), `"grpc"`)
	assert.Equal(t, StateFailed, svc.State())
	assert.True(t, siblingCanceled.Load())
	assert.True(t, stopped.Load(), "cleanup runs after a task failure")
	assert.Contains(t, logs.String(), "task failed, shutting down")
}

func TestService_Run_StartFailure(t *testing.T) {
	var ran atomic.Bool
	svc := mustBuild(t, newBuilder(&syncBuffer{}).
		WithOnStart(func(context.Context) error { return errors.New("no signing key") }).
		WithTask("grpc", func(context.Context) error { ran.Store(true); return nil }))

	testutil.RequireErrorCode(t, svc.Run(context.Background()), sserr.CodeInternal)
	assert.Equal(t, StateFailed, svc.State())
	assert.False(t, ran.Load())
}
