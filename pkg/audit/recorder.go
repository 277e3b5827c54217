package audit

import (
	"context"
	"log/slog"
	"time"
)

// Sink persists finished events.
type Sink interface {
	Write(ctx context.Context, e *Event) error
}

// Recorder writes audit lines to a dedicated logger and hands finished
// events to its sinks. Audit lines carry audit=true so they can be routed
// apart from operational logs.
type Recorder struct {
	logger *slog.Logger
	sinks  []Sink
	now    func() time.Time
}

// NewRecorder returns a recorder logging through logger.
func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger.With("audit", true), sinks: sinks, now: time.Now}
}

// Begin starts an event for operation and attaches it to the returned
// context. Operation must not be empty.
func (r *Recorder) Begin(ctx context.Context, operation, caller string) (context.Context, *Event) {
	e, err := NewEvent(operation, caller)
	if err != nil {
		panic(err)
	}
	e.StartTime = r.now().UTC()
	return ContextWithEvent(ctx, e), e
}

// Step logs an intermediate step under the correlation id carried by ctx.
func (r *Recorder) Step(ctx context.Context, step string, attrs ...any) {
	args := append([]any{"correlation_id", CorrelationID(ctx), "step", step}, attrs...)
	r.logger.DebugContext(ctx, "audit: step", args...)
}

// End finishes e with the operation's error and records it.
func (r *Recorder) End(ctx context.Context, e *Event, err error) {
	e.Finish(err, r.now())
	attrs := []any{
		"correlation_id", e.ID,
		"operation", e.Operation,
		"caller", e.Caller,
		"subject", e.Subject,
		"target", e.Target,
		"outcome", e.Outcome.String(),
		"duration", e.Duration(),
	}
	if err != nil {
		attrs = append(attrs, "code", e.Code.String(), "reason", e.Reason)
	}
	level := slog.LevelInfo
	if e.Outcome != OutcomeSucceeded {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "audit: "+e.Operation, attrs...)

	for _, s := range r.sinks {
		if werr := s.Write(ctx, e); werr != nil {
			r.logger.ErrorContext(ctx, "audit: sink write failed", "correlation_id", e.ID, "error", werr)
		}
	}
}
