// Package audit records every security-relevant operation under one
// correlation id. The detail that the caller never sees (which check
// rejected a request, which collaborator failed) lives here.
//
// An [Event] moves through a short lifecycle:
//
//	pending → succeeded
//	        → rejected
//	        → failed
//
// Rejections are failed checks on the caller's request. Failures are
// collaborator or internal errors the caller may retry.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// Outcome is the lifecycle state of an Event.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// String returns the outcome name.
func (o Outcome) String() string { return string(o) }

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePending, OutcomeSucceeded, OutcomeRejected, OutcomeFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether o is final.
func (o Outcome) IsTerminal() bool {
	return o.Valid() && o != OutcomePending
}

// OutcomeOf classifies the error an operation returned.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case sserr.IsClientError(err):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}

// Event is one audited operation.
type Event struct {
	// ID is the correlation id (UUID v4) shared by every audit line of
	// the operation.
	ID        string `json:"id" db:"id"`
	Operation string `json:"operation" db:"operation"`
	// Caller is the asserted security id of the requesting application.
	Caller string `json:"caller" db:"caller"`
	// Subject is the user DN or application id the token is for.
	Subject string  `json:"subject,omitempty" db:"subject"`
	Target  string  `json:"target,omitempty" db:"target"`
	Outcome Outcome `json:"outcome" db:"outcome"`
	// Code and Reason hold the internal failure detail.
	Code      sserr.Code     `json:"code,omitempty" db:"code"`
	Reason    string         `json:"reason,omitempty" db:"reason"`
	StartTime time.Time      `json:"start_time" db:"start_time"`
	EndTime   *time.Time     `json:"end_time,omitempty" db:"end_time"`
	Metadata  map[string]any `json:"metadata" db:"metadata"`
}

// NewEvent starts a pending event with a fresh correlation id.
func NewEvent(operation, caller string) (*Event, error) {
	if operation == "" {
		return nil, errors.New("audit: event operation must not be empty")
	}
	return &Event{
		ID:        uuid.New().String(),
		Operation: operation,
		Caller:    caller,
		Outcome:   OutcomePending,
		StartTime: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}, nil
}

// Finish moves the event to the terminal outcome matching err.
func (e *Event) Finish(err error, now time.Time) {
	end := now.UTC()
	e.EndTime = &end
	e.Outcome = OutcomeOf(err)
	if err != nil {
		e.Code = sserr.GetCode(err)
		e.Reason = err.Error()
	}
}

// Validate checks the fields every stored event must carry.
func (e *Event) Validate() error {
	if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("audit: event id %q is not a UUID", e.ID)
	}
	if e.Operation == "" {
		return errors.New("audit: event operation is required")
	}
	if !e.Outcome.Valid() {
		return fmt.Errorf("audit: invalid outcome %q", e.Outcome)
	}
	if e.StartTime.IsZero() {
		return errors.New("audit: event start time is required")
	}
	if e.Outcome.IsTerminal() && e.EndTime == nil {
		return errors.New("audit: finished event has no end time")
	}
	return nil
}

// Duration returns how long the operation took, or how long it has been
// running while pending.
func (e *Event) Duration() time.Duration {
	if e.StartTime.IsZero() {
		return 0
	}
	if e.EndTime != nil {
		return e.EndTime.Sub(e.StartTime)
	}
	return time.Since(e.StartTime)
}

type contextKey int

const eventKey contextKey = iota

// ContextWithEvent attaches e so collaborators can log under its
// correlation id.
func ContextWithEvent(ctx context.Context, e *Event) context.Context {
	return context.WithValue(ctx, eventKey, e)
}

// EventFromContext returns the event attached by [ContextWithEvent].
func EventFromContext(ctx context.Context) (*Event, bool) {
	e, ok := ctx.Value(eventKey).(*Event)
	return e, ok
}

// CorrelationID returns the correlation id carried by ctx, or "".
func CorrelationID(ctx context.Context) string {
	if e, ok := EventFromContext(ctx); ok {
		return e.ID
	}
	return ""
}
