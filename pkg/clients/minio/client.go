// Package minio wraps an S3 compatible object store with tracing and
// error classification. EzSecurity keeps one object per application
// registration in a single bucket; the client is bound to that bucket.
package minio

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/ezsecurity/internal/tracing"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

const tracerName = "github.com/StricklySoft/ezsecurity/pkg/clients/minio"

// ObjectStore is the subset of [*minio.Client] the client needs.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

var _ ObjectStore = (*minio.Client)(nil)

// Client is safe for concurrent use.
type Client struct {
	store  ObjectStore
	bucket string
	tracer trace.Tracer
}

// NewClient validates cfg, connects and makes sure the bucket exists.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "minio: failed to create client")
	}
	c := NewFromStore(mc, &cfg)
	if err := c.EnsureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return c, nil
}

// NewFromStore wraps an existing store. A nil cfg binds the client to an
// empty bucket name, which is only useful in tests.
func NewFromStore(store ObjectStore, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		store:  store,
		bucket: cfg.Bucket,
		tracer: otel.Tracer(tracerName),
	}
}

// Bucket returns the bucket the client is bound to.
func (c *Client) Bucket() string { return c.bucket }

// EnsureBucket creates the bucket when it does not exist.
func (c *Client) EnsureBucket(ctx context.Context, region string) error {
	ctx, span := c.startSpan(ctx, "ensure_bucket", "")
	exists, err := c.store.BucketExists(ctx, c.bucket)
	if err != nil {
		wrapped := sserr.Upstream(err, "minio")
		tracing.End(span, wrapped)
		return wrapped
	}
	if !exists {
		if err := c.store.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			wrapped := wrapError(err, "minio: make bucket failed")
			tracing.End(span, wrapped)
			return wrapped
		}
	}
	tracing.End(span, nil)
	return nil
}

// Put writes data under name.
func (c *Client) Put(ctx context.Context, name string, data []byte, contentType string) error {
	ctx, span := c.startSpan(ctx, "put", name)
	_, err := c.store.PutObject(ctx, c.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if wrapped := wrapError(err, "minio: put object failed"); wrapped != nil {
		tracing.End(span, wrapped)
		return wrapped
	}
	tracing.End(span, nil)
	return nil
}

// Get reads the object stored under name. A missing object reports
// found=false with a nil error.
func (c *Client) Get(ctx context.Context, name string) (data []byte, found bool, err error) {
	ctx, span := c.startSpan(ctx, "get", name)
	obj, err := c.store.GetObject(ctx, c.bucket, name, minio.GetObjectOptions{})
	if err == nil {
		defer obj.Close()
		data, err = io.ReadAll(obj)
	}
	if isNoSuchKey(err) {
		tracing.End(span, nil)
		return nil, false, nil
	}
	if wrapped := wrapError(err, "minio: get object failed"); wrapped != nil {
		tracing.End(span, wrapped)
		return nil, false, wrapped
	}
	tracing.End(span, nil)
	return data, true, nil
}

// Remove deletes the object stored under name. Removing a missing object
// is not an error.
func (c *Client) Remove(ctx context.Context, name string) error {
	ctx, span := c.startSpan(ctx, "remove", name)
	err := c.store.RemoveObject(ctx, c.bucket, name, minio.RemoveObjectOptions{})
	if isNoSuchKey(err) {
		err = nil
	}
	if wrapped := wrapError(err, "minio: remove object failed"); wrapped != nil {
		tracing.End(span, wrapped)
		return wrapped
	}
	tracing.End(span, nil)
	return nil
}

// List returns the names of all objects under prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, span := c.startSpan(ctx, "list", prefix)
	var names []string
	for info := range c.store.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			wrapped := wrapError(info.Err, "minio: list objects failed")
			tracing.End(span, wrapped)
			return nil, wrapped
		}
		names = append(names, info.Key)
	}
	span.SetAttributes(attribute.Int("minio.objects", len(names)))
	tracing.End(span, nil)
	return names, nil
}

// Health checks that the bucket is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "health", "")
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	if _, err := c.store.BucketExists(ctx, c.bucket); err != nil {
		wrapped := sserr.Upstream(err, "minio")
		tracing.End(span, wrapped)
		return wrapped
	}
	tracing.End(span, nil)
	return nil
}

func (c *Client) startSpan(ctx context.Context, operation, object string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "minio."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", c.bucket),
	)
	if object != "" {
		span.SetAttributes(attribute.String("minio.object", object))
	}
	return ctx, span
}

func isNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
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
