package issuer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/StricklySoft/ezsecurity/pkg/audit"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// metrics holds the per-operation instruments.
type metrics struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	ops, err := meter.Int64Counter("ezsecurity.issuer.operations",
		metric.WithDescription("Issuer operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "issuer: create operations counter")
	}
	dur, err := meter.Float64Histogram("ezsecurity.issuer.duration",
		metric.WithDescription("Issuer operation latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "issuer: create duration histogram")
	}
	return &metrics{operations: ops, duration: dur}, nil
}

func (m *metrics) record(ctx context.Context, op string, outcome audit.Outcome, code sserr.Code, d time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", op),
		attribute.String("outcome", string(outcome)),
	}
	if code != "" {
		attrs = append(attrs, attribute.String("code", string(code)))
	}
	set := metric.WithAttributes(attrs...)
	m.operations.Add(ctx, 1, set)
	m.duration.Record(ctx, d.Seconds(), set)
}
