// Package neo4j wraps the Neo4j driver for read-only Cypher queries with
// tracing and error classification. EzSecurity resolves group ids from a
// graph of users, applications and groups through it.
package neo4j

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/ezsecurity/internal/tracing"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

const tracerName = "github.com/StricklySoft/ezsecurity/pkg/clients/neo4j"

// Driver is the subset of [neo4j.DriverWithContext] the client needs.
type Driver interface {
	NewSession(ctx context.Context, config neo4j.SessionConfig) neo4j.SessionWithContext
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

// Client is safe for concurrent use; each call opens its own session.
type Client struct {
	driver       Driver
	config       *Config
	tracer       trace.Tracer
	databaseName string
}

// NewClient validates cfg, creates a driver and verifies connectivity.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	auth := neo4j.BasicAuth(cfg.Username, cfg.Password.Value(), "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *config.Config) {
		if cfg.MaxConnectionPoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
		}
		if cfg.ConnectionAcquisitionTimeout > 0 {
			c.ConnectionAcquisitionTimeout = cfg.ConnectionAcquisitionTimeout
		}
		if cfg.ConnectTimeout > 0 {
			c.SocketConnectTimeout = cfg.ConnectTimeout
		}
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "neo4j: failed to create driver")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, sserr.Upstream(err, "neo4j")
	}
	return NewFromDriver(driver, &cfg), nil
}

// NewFromDriver wraps an existing driver. A nil cfg is treated as the
// zero Config.
func NewFromDriver(driver Driver, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		driver:       driver,
		config:       cfg,
		tracer:       otel.Tracer(tracerName),
		databaseName: cfg.Database,
	}
}

// ExecuteRead runs cypher in a managed read transaction and collects all
// records.
func (c *Client) ExecuteRead(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	ctx, span := c.startSpan(ctx, "execute_read", cypher)

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.databaseName,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		wrapped := wrapError(err, "neo4j: read transaction failed")
		tracing.End(span, wrapped)
		return nil, wrapped
	}
	records, ok := result.([]*neo4j.Record)
	if !ok {
		wrapped := sserr.Wrap(fmt.Errorf("unexpected result type %T", result),
			sserr.CodeInternalDatabase, "neo4j: read transaction returned unexpected type")
		tracing.End(span, wrapped)
		return nil, wrapped
	}
	span.SetAttributes(attribute.Int("db.neo4j.records", len(records)))
	tracing.End(span, nil)
	return records, nil
}

// Health verifies connectivity, bounded by [DefaultHealthTimeout] when
// ctx has no deadline.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "health", "")
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		wrapped := sserr.Upstream(err, "neo4j")
		tracing.End(span, wrapped)
		return wrapped
	}
	tracing.End(span, nil)
	return nil
}

// Close releases the driver.
func (c *Client) Close(ctx context.Context) error {
	if err := c.driver.Close(ctx); err != nil {
		return sserr.Wrap(err, sserr.CodeInternalDatabase, "neo4j: failed to close driver")
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, operation, cypher string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "neo4j."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "neo4j"),
		attribute.String("db.name", c.databaseName),
	)
	if cypher != "" {
		span.SetAttributes(attribute.String("db.statement", truncateStatement(cypher)))
	}
	return ctx, span
}

func wrapError(err error, message string) *sserr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeUpstreamTimeout, message)
	}
	if neo4j.IsConnectivityError(err) {
		return sserr.Wrap(err, sserr.CodeUpstreamUnavailable, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
