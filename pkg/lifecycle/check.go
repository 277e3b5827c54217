package lifecycle

import (
	"context"
	"time"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// DefaultCheckTimeout bounds a probe whose Check has no Timeout.
const DefaultCheckTimeout = 2 * time.Second

// Check probes one backing dependency of the service, such as the
// registration database or the shared cache.
type Check struct {
	// Name identifies the dependency in health reports. Must not be empty.
	Name string

	// Probe returns nil when the dependency is reachable.
	Probe func(ctx context.Context) error

	// Timeout bounds a single probe. Zero means [DefaultCheckTimeout].
	Timeout time.Duration
}

// Validate reports a CodeValidation error for an unnamed check or one
// without a probe.
func (c Check) Validate() error {
	if c.Name == "" {
		return sserr.New(sserr.CodeValidation, "lifecycle: check name must not be empty")
	}
	if c.Probe == nil {
		return sserr.Newf(sserr.CodeValidation, "lifecycle: check %q has no probe", c.Name)
	}
	if c.Timeout < 0 {
		return sserr.Newf(sserr.CodeValidation, "lifecycle: check %q timeout must not be negative", c.Name)
	}
	return nil
}

// run executes the probe under its timeout.
func (c Check) run(ctx context.Context) CheckResult {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := c.Probe(ctx)
	res := CheckResult{Name: c.Name, Healthy: err == nil, Latency: time.Since(start)}
	if err != nil {
		res.Error = sserr.Public(sserr.Upstream(err, c.Name)).Error()
	}
	return res
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Name    string        `json:"name"`
	Healthy bool          `json:"healthy"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

// Report is the health of a service and each of its dependencies.
type Report struct {
	Name    string        `json:"name"`
	Version string        `json:"version"`
	State   State         `json:"state"`
	Healthy bool          `json:"healthy"`
	Checks  []CheckResult `json:"checks,omitempty"`
}
