// Package postgres wraps a pgx connection pool with tracing and error
// classification. EzSecurity uses it for the registration table and the
// audit event sink.
//
// Use [NewClient] in production and [NewFromPool] with pgxmock in tests:
//
//	mock, _ := pgxmock.NewPool()
//	client := postgres.NewFromPool(mock, &postgres.Config{Database: "ezsecurity"})
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/ezsecurity/internal/tracing"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

const tracerName = "github.com/StricklySoft/ezsecurity/pkg/clients/postgres"

// Pool is the subset of [*pgxpool.Pool] the client needs.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow defers errors until the returned row is scanned.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

var _ Pool = (*pgxpool.Pool)(nil)

// Client is safe for concurrent use.
type Client struct {
	pool         Pool
	config       *Config
	tracer       trace.Tracer
	databaseName string
}

// NewClient validates cfg, opens a pool and pings the server.
//
// Connection failures are reported with [sserr.CodeUpstreamUnavailable]
// so callers can treat a missing database like any other collaborator
// outage.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat,
			"postgres: failed to parse connection string")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, sserr.Upstream(err, "postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, sserr.Upstream(err, "postgres")
	}

	return NewFromPool(pool, &cfg), nil
}

// NewFromPool builds a Client around an existing pool. A nil cfg is
// treated as the zero Config.
func NewFromPool(pool Pool, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		pool:         pool,
		config:       cfg,
		tracer:       otel.Tracer(tracerName),
		databaseName: cfg.databaseName(),
	}
}

// Query runs a statement that returns rows. The caller must close them.
func (c *Client) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	ctx, span := c.startSpan(ctx, "query", sql)
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		wrapped := wrapError(err, "postgres: query failed")
		tracing.End(span, wrapped)
		return nil, wrapped
	}
	tracing.End(span, nil)
	return rows, nil
}

// QueryRow runs a statement that returns at most one row. Use [ScanError]
// to classify the error returned by Scan.
func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	ctx, span := c.startSpan(ctx, "query_row", sql)
	defer tracing.End(span, nil)
	return c.pool.QueryRow(ctx, sql, args...)
}

// Exec runs a statement that does not return rows.
func (c *Client) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	ctx, span := c.startSpan(ctx, "exec", sql)
	tag, err := c.pool.Exec(ctx, sql, args...)
	if err != nil {
		wrapped := wrapError(err, "postgres: exec failed")
		tracing.End(span, wrapped)
		return tag, wrapped
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	tracing.End(span, nil)
	return tag, nil
}

// Health pings the database.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "ping", "")
	err := c.pool.Ping(ctx)
	if err != nil {
		wrapped := sserr.Upstream(err, "postgres")
		tracing.End(span, wrapped)
		return wrapped
	}
	tracing.End(span, nil)
	return nil
}

// Close releases the pool.
func (c *Client) Close() {
	c.pool.Close()
}

// ScanError classifies an error returned by pgx.Row.Scan. It reports
// ok=false for [pgx.ErrNoRows] so callers can map absence to their own
// not-found error.
func ScanError(err error, message string) (wrapped error, ok bool) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false
	}
	return wrapError(err, message), true
}

func (c *Client) startSpan(ctx context.Context, operation, sql string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "postgres."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.name", c.databaseName),
	)
	if sql != "" {
		span.SetAttributes(attribute.String("db.statement", truncateSQL(sql)))
	}
	return ctx, span
}

// wrapError distinguishes deadline errors from other database failures so
// [sserr.IsRetryable] gives a useful answer.
func wrapError(err error, message string) *sserr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return sserr.Wrap(err, sserr.CodeUpstreamTimeout, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
