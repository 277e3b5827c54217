package lifecycle

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// Builder constructs a [Service]. All methods return the builder for
// chaining; [Builder.Build] validates the result.
//
// Example:
//
//	svc, err := lifecycle.NewBuilder("ezsecurity", version).
//	    WithLogger(logger).
//	    WithTask("grpc", serveGRPC).
//	    WithTask("admins-watch", admins.Watch).
//	    WithCheck(lifecycle.Check{Name: "postgres", Probe: db.Health}).
//	    WithOnStop(func(ctx context.Context) error { return db.Close() }).
//	    Build()
type Builder struct {
	name          string
	version       string
	tasks         []task
	checks        []Check
	stopTimeout   time.Duration
	logger        *slog.Logger
	onStart       Hook
	onStop        Hook
	stateHandlers []StateChangeHandler
}

// NewBuilder starts a builder for the named service.
func NewBuilder(name, version string) *Builder {
	return &Builder{name: name, version: version}
}

// WithLogger sets the logger. [slog.Default] is used otherwise.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithOnStart sets the hook run between Starting and Running.
func (b *Builder) WithOnStart(hook Hook) *Builder {
	b.onStart = hook
	return b
}

// WithOnStop sets the hook run between Stopping and Stopped, and after a
// task failure.
func (b *Builder) WithOnStop(hook Hook) *Builder {
	b.onStop = hook
	return b
}

// WithTask adds a long-running task started by [Service.Run]. Task names
// must be unique.
func (b *Builder) WithTask(name string, fn TaskFunc) *Builder {
	b.tasks = append(b.tasks, task{name: name, run: fn})
	return b
}

// WithCheck adds a dependency health check. Check names must be unique.
func (b *Builder) WithCheck(c Check) *Builder {
	b.checks = append(b.checks, c)
	return b
}

// WithStopTimeout bounds the shutdown performed by [Service.Run]. Zero
// means [DefaultStopTimeout].
func (b *Builder) WithStopTimeout(d time.Duration) *Builder {
	b.stopTimeout = d
	return b
}

// OnStateChange registers a handler called on every transition, in
// registration order.
func (b *Builder) OnStateChange(handler StateChangeHandler) *Builder {
	b.stateHandlers = append(b.stateHandlers, handler)
	return b
}

// Build validates the configuration and returns a service in
// [StateCreated]. Returns a CodeValidation error for an empty name or
// version, a nil or duplicate task, or an invalid or duplicate check.
func (b *Builder) Build() (*Service, error) {
	if b.name == "" {
		return nil, sserr.New(sserr.CodeValidation, "lifecycle: service name must not be empty")
	}
	if b.version == "" {
		return nil, sserr.New(sserr.CodeValidation, "lifecycle: service version must not be empty")
	}
	if b.stopTimeout < 0 {
		return nil, sserr.New(sserr.CodeValidation, "lifecycle: stop timeout must not be negative")
	}

	seen := make(map[string]bool, len(b.tasks))
	for _, t := range b.tasks {
		switch {
		case t.name == "":
			return nil, sserr.New(sserr.CodeValidation, "lifecycle: task name must not be empty")
		case t.run == nil:
			return nil, sserr.Newf(sserr.CodeValidation, "lifecycle: task %q has no function", t.name)
		case seen[t.name]:
			return nil, sserr.Newf(sserr.CodeValidation, "lifecycle: duplicate task %q", t.name)
		}
		seen[t.name] = true
	}

	clear(seen)
	for _, c := range b.checks {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if seen[c.Name] {
			return nil, sserr.Newf(sserr.CodeValidation, "lifecycle: duplicate check %q", c.Name)
		}
		seen[c.Name] = true
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	stopTimeout := b.stopTimeout
	if stopTimeout == 0 {
		stopTimeout = DefaultStopTimeout
	}

	return &Service{
		name:          b.name,
		version:       b.version,
		tasks:         append([]task(nil), b.tasks...),
		checks:        append([]Check(nil), b.checks...),
		stopTimeout:   stopTimeout,
		onStart:       b.onStart,
		onStop:        b.onStop,
		tracer:        otel.Tracer(tracerName),
		logger:        logger,
		state:         StateCreated,
		stateHandlers: append([]StateChangeHandler(nil), b.stateHandlers...),
	}, nil
}
