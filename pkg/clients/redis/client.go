// Package redis wraps a go-redis client with tracing and error
// classification. EzSecurity stores encrypted user-directory entries in
// it; the package itself only moves opaque byte values.
//
// Tests inject a [Cmdable] mock through [NewFromClient].
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/ezsecurity/internal/tracing"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

const tracerName = "github.com/StricklySoft/ezsecurity/pkg/clients/redis"

// Cmdable is the subset of [*redis.Client] the cache needs.
type Cmdable interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ Cmdable = (*redis.Client)(nil)

// Client is safe for concurrent use.
type Client struct {
	cmdable Cmdable
	config  *Config
	tracer  trace.Tracer
}

// NewClient validates cfg, dials Redis and pings it.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts *redis.Options
	if cfg.URI != "" {
		var err error
		opts, err = redis.ParseURL(cfg.URI)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "redis: failed to parse URI")
		}
	} else {
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password.Value(),
			DB:       cfg.DB,
		}
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, sserr.Upstream(err, "redis")
	}
	return NewFromClient(rdb, &cfg), nil
}

// NewFromClient wraps an existing Cmdable. A nil cfg is treated as the
// zero Config.
func NewFromClient(cmdable Cmdable, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		cmdable: cmdable,
		config:  cfg,
		tracer:  otel.Tracer(tracerName),
	}
}

// Set stores value under key. A zero ttl keeps the key forever.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := c.startSpan(ctx, "set", key)
	err := c.cmdable.Set(ctx, key, value, ttl).Err()
	wrapped := wrapError(err, "redis: set failed")
	tracing.End(span, wrapped)
	if wrapped != nil {
		return wrapped
	}
	return nil
}

// Get returns the value stored under key. A missing key reports
// found=false with a nil error.
func (c *Client) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	ctx, span := c.startSpan(ctx, "get", key)
	value, err = c.cmdable.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		tracing.End(span, nil)
		return nil, false, nil
	}
	if wrapped := wrapError(err, "redis: get failed"); wrapped != nil {
		tracing.End(span, wrapped)
		return nil, false, wrapped
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	tracing.End(span, nil)
	return value, true, nil
}

// Del removes keys and reports how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	var first string
	if len(keys) > 0 {
		first = keys[0]
	}
	ctx, span := c.startSpan(ctx, "del", first)
	n, err := c.cmdable.Del(ctx, keys...).Result()
	if wrapped := wrapError(err, "redis: del failed"); wrapped != nil {
		tracing.End(span, wrapped)
		return 0, wrapped
	}
	tracing.End(span, nil)
	return n, nil
}

// Incr increments the integer stored at key. A missing key counts as 0.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	ctx, span := c.startSpan(ctx, "incr", key)
	n, err := c.cmdable.Incr(ctx, key).Result()
	if wrapped := wrapError(err, "redis: incr failed"); wrapped != nil {
		tracing.End(span, wrapped)
		return 0, wrapped
	}
	tracing.End(span, nil)
	return n, nil
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "ping", "")
	if err := c.cmdable.Ping(ctx).Err(); err != nil {
		wrapped := sserr.Upstream(err, "redis")
		tracing.End(span, wrapped)
		return wrapped
	}
	tracing.End(span, nil)
	return nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if err := c.cmdable.Close(); err != nil {
		return sserr.Wrap(err, sserr.CodeInternalDatabase, "redis: close failed")
	}
	return nil
}

// startSpan never records key contents; keys are digests but still
// correlate to users.
func (c *Client) startSpan(ctx context.Context, operation, key string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "redis."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", operation),
		attribute.Int("db.redis.database_index", c.config.DB),
		attribute.Bool("db.redis.has_key", key != ""),
	)
	return ctx, span
}

func wrapError(err error, message string) *sserr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeUpstreamTimeout, message)
	}
	return sserr.Wrap(err, sserr.CodeUpstreamUnavailable, message)
}
