package lifecycle

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/ezsecurity/pkg/lifecycle"

// DefaultStopTimeout bounds the OnStop hook when [Service.Run] shuts down.
const DefaultStopTimeout = 15 * time.Second

// Hook is a start or stop callback.
type Hook func(ctx context.Context) error

// StateChangeHandler observes every state transition. Handlers run
// synchronously under the state lock and must not call back into the
// service.
type StateChangeHandler func(old, new State)

// TaskFunc is a long-running piece of the service, such as the gRPC server
// or a file watcher. It must return once ctx is done.
type TaskFunc func(ctx context.Context) error

type task struct {
	name string
	run  TaskFunc
}

// Info is a point-in-time snapshot of a service.
type Info struct {
	Name      string        `json:"name"`
	Version   string        `json:"version"`
	State     State         `json:"state"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime_ns,omitempty"`
	Tasks     []string      `json:"tasks,omitempty"`
	Checks    []string      `json:"checks,omitempty"`
}

// Service owns the process lifecycle. Build one with [NewBuilder].
type Service struct {
	name        string
	version     string
	tasks       []task
	checks      []Check
	stopTimeout time.Duration
	onStart     Hook
	onStop      Hook
	tracer      trace.Tracer
	logger      *slog.Logger

	mu            sync.RWMutex
	state         State
	startedAt     *time.Time
	stateHandlers []StateChangeHandler
}

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// Version returns the service version.
func (s *Service) Version() string { return s.version }

// State returns the current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a snapshot of the service.
func (s *Service) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{Name: s.name, Version: s.version, State: s.state}
	for _, t := range s.tasks {
		info.Tasks = append(info.Tasks, t.name)
	}
	for _, c := range s.checks {
		info.Checks = append(info.Checks, c.Name)
	}
	if s.startedAt != nil && s.state == StateRunning {
		t := *s.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}
	return info
}

// Health returns nil when the service is running and every check passes.
// Otherwise it returns a CodeUnavailable error naming the first failure.
func (s *Service) Health(ctx context.Context) error {
	if state := s.State(); state != StateRunning {
		return sserr.Newf(sserr.CodeUnavailable,
			"lifecycle: service is not running, current state is %q", state)
	}
	for _, c := range s.checks {
		if res := c.run(ctx); !res.Healthy {
			return sserr.Newf(sserr.CodeUnavailable, "lifecycle: check %q failed", c.Name)
		}
	}
	return nil
}

// Report probes every check concurrently and returns the combined result.
// Checks are probed in every state so operators can see which dependency
// keeps a failed service down.
func (s *Service) Report(ctx context.Context) Report {
	state := s.State()
	results := make([]CheckResult, len(s.checks))

	var g errgroup.Group
	for i, c := range s.checks {
		g.Go(func() error {
			results[i] = c.run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	healthy := state == StateRunning
	for _, r := range results {
		if !r.Healthy {
			healthy = false
			s.logger.WarnContext(ctx, "lifecycle: health check failed",
				"service", s.name,
				"check", r.Name,
				"latency", r.Latency,
			)
		}
	}
	return Report{Name: s.name, Version: s.version, State: state, Healthy: healthy, Checks: results}
}

// HealthHandler serves [Service.Report] as JSON, with status 200 when
// healthy and 503 otherwise.
func (s *Service) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rep := s.Report(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if rep.Healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(rep); err != nil {
			s.logger.DebugContext(r.Context(), "lifecycle: write health report", "error", err)
		}
	})
}

// SetState moves the service to new after validating the transition.
// Returns a CodeConflict error when the transition is not allowed.
func (s *Service) SetState(new State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state
	if !ValidTransition(old, new) {
		return sserr.Newf(sserr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", old, new)
	}
	s.state = new

	for _, h := range s.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"service", s.name,
						"old_state", string(old),
						"new_state", string(new),
					)
				}
			}()
			h(old, new)
		}()
	}
	return nil
}

func (s *Service) span(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.name", s.name),
			attribute.String("service.version", s.version),
		),
	)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Start moves the service through Starting to Running, running the OnStart
// hook in between. A hook error leaves the service Failed.
func (s *Service) Start(ctx context.Context) error {
	ctx, span := s.span(ctx, "lifecycle.Start")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return fail(span, sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: start canceled before execution"))
	}
	if err := s.SetState(StateStarting); err != nil {
		return fail(span, err)
	}
	s.logger.InfoContext(ctx, "lifecycle: starting service",
		"service", s.name,
		"version", s.version,
	)

	if s.onStart != nil {
		if err := s.onStart(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: start hook failed", "service", s.name, "error", err)
			_ = s.SetState(StateFailed)
			return fail(span, sserr.Wrap(err, sserr.CodeInternal, "lifecycle: start hook failed"))
		}
	}

	if err := s.SetState(StateRunning); err != nil {
		return fail(span, err)
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.startedAt = &now
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service started", "service", s.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

// Stop moves a running service through Stopping to Stopped, running the
// OnStop hook in between. Stop on a terminal service is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	ctx, span := s.span(ctx, "lifecycle.Stop")
	defer span.End()

	if s.State().IsTerminal() {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fail(span, sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: stop canceled before execution"))
	}
	if err := s.SetState(StateStopping); err != nil {
		return fail(span, err)
	}
	s.logger.InfoContext(ctx, "lifecycle: stopping service", "service", s.name)

	if err := s.runStopHook(ctx); err != nil {
		_ = s.SetState(StateFailed)
		return fail(span, err)
	}
	if err := s.SetState(StateStopped); err != nil {
		return fail(span, err)
	}

	s.logger.InfoContext(ctx, "lifecycle: service stopped", "service", s.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *Service) runStopHook(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = nil
	s.mu.Unlock()

	if s.onStop == nil {
		return nil
	}
	if err := s.onStop(ctx); err != nil {
		s.logger.ErrorContext(ctx, "lifecycle: stop hook failed", "service", s.name, "error", err)
		return sserr.Wrap(err, sserr.CodeInternal, "lifecycle: stop hook failed")
	}
	return nil
}

// Run starts the service, runs every task until ctx is done, then stops
// the service. If a task fails, the remaining tasks are canceled, the
// OnStop hook still runs, the service ends Failed, and the task error is
// returned. Tasks that return nil early do not end the service.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		g.Go(func() error {
			s.logger.DebugContext(gctx, "lifecycle: task started", "service", s.name, "task", t.name)
			err := t.run(gctx)
			if err != nil && gctx.Err() == nil {
				return sserr.Wrapf(err, sserr.CodeInternal, "lifecycle: task %q failed", t.name)
			}
			return nil
		})
	}
	taskErr := g.Wait()
	if taskErr == nil {
		<-ctx.Done()
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.stopTimeout)
	defer cancel()

	if taskErr != nil {
		s.logger.ErrorContext(ctx, "lifecycle: task failed, shutting down", "service", s.name, "error", taskErr)
		_ = s.SetState(StateFailed)
		_ = s.runStopHook(stopCtx)
		return taskErr
	}
	return s.Stop(stopCtx)
}
