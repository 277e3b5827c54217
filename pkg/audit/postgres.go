package audit

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/StricklySoft/ezsecurity/pkg/clients/postgres"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// Executor is the subset of [postgres.Client] the sink uses.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ Executor = (*postgres.Client)(nil)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS audit_events (
	id          UUID PRIMARY KEY,
	operation   TEXT NOT NULL,
	caller      TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	target      TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	code        TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	start_time  TIMESTAMPTZ NOT NULL,
	end_time    TIMESTAMPTZ,
	metadata    JSONB NOT NULL DEFAULT '{}'
)`

	insertSQL = `INSERT INTO audit_events
	(id, operation, caller, subject, target, outcome, code, reason, start_time, end_time, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
)

// PostgresSink stores events in the audit_events table.
type PostgresSink struct {
	db Executor
}

var _ Sink = (*PostgresSink)(nil)

// NewPostgresSink returns a sink over db.
func NewPostgresSink(db Executor) *PostgresSink {
	return &PostgresSink{db: db}
}

// EnsureSchema creates the audit table when it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return sserr.Upstream(err, "audit store")
	}
	return nil
}

// Write implements [Sink]. Invalid events are refused before touching the
// database.
func (s *PostgresSink) Write(ctx context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return sserr.Wrap(err, sserr.CodeValidation, "audit: refusing invalid event")
	}
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := s.db.Exec(ctx, insertSQL,
		e.ID, e.Operation, e.Caller, e.Subject, e.Target, string(e.Outcome),
		string(e.Code), e.Reason, e.StartTime, e.EndTime, metadata)
	if err != nil {
		return sserr.Upstream(err, "audit store")
	}
	return nil
}
