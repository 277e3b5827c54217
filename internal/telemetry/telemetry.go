// Package telemetry installs the OpenTelemetry meter provider of the
// service binary and exposes its instruments in the Prometheus text
// format.
package telemetry

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// Telemetry owns a meter provider backed by a private Prometheus registry.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry
	name     string
}

// Setup builds a meter provider for the named service. With global set it
// also becomes the process-wide provider returned by otel.Meter.
func Setup(name, version string, global bool) (*Telemetry, error) {
	reg := promclient.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	exp, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "telemetry: create prometheus exporter")
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", name),
		attribute.String("service.version", version),
	))
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "telemetry: build resource")
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exp),
		sdkmetric.WithResource(res),
	)
	if global {
		otel.SetMeterProvider(provider)
	}
	return &Telemetry{provider: provider, registry: reg, name: name}, nil
}

// Meter returns the service meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.provider.Meter(t.name)
}

// Handler serves the registry for scraping.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.provider.Shutdown(ctx); err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "telemetry: shutdown meter provider")
	}
	return nil
}
