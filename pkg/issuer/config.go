package issuer

import (
	"time"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// Production is the environment name in which mock mode is refused.
const Production = "production"

// Config holds the issuing parameters. The zero value is not usable; start
// from [DefaultConfig] or load it through pkg/config.
type Config struct {
	TokenTTL          time.Duration `env:"TOKEN_TTL" envDefault:"120s" yaml:"token_ttl" json:"token_ttl" flag:"token-ttl" usage:"Lifetime of issued tokens"`
	ProxyTokenTTL     time.Duration `env:"PROXY_TOKEN_TTL" envDefault:"720s" yaml:"proxy_token_ttl" json:"proxy_token_ttl" flag:"proxy-token-ttl" usage:"Lifetime of proxy tokens and principal validity"`
	RequestExpiration time.Duration `env:"REQUEST_EXPIRATION" envDefault:"60s" yaml:"request_expiration" json:"request_expiration" flag:"request-expiration" usage:"Maximum age of a signed request"`
	ClockSkew         time.Duration `env:"CLOCK_SKEW" envDefault:"5s" yaml:"clock_skew" json:"clock_skew" flag:"clock-skew" usage:"Allowance for request timestamps ahead of the server clock"`
	MaxRefresh        time.Duration `env:"MAX_REFRESH" envDefault:"11h23m" yaml:"max_refresh" json:"max_refresh" flag:"max-refresh" usage:"Window after first issue during which a token may be refreshed"`
	UpstreamTimeout   time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"2s" yaml:"upstream_timeout" json:"upstream_timeout" flag:"upstream-timeout" usage:"Per-call timeout for directory, group and policy calls"`

	Mock        bool   `env:"MOCK" envDefault:"false" yaml:"mock" json:"mock" flag:"mock" usage:"Skip request signature verification (refused in production)"`
	Environment string `env:"ENVIRONMENT" envDefault:"development" yaml:"environment" json:"environment" flag:"environment" usage:"Deployment environment name"`
	MutualTLS   bool   `env:"MUTUAL_TLS" envDefault:"false" yaml:"mutual_tls" json:"mutual_tls" flag:"mutual-tls" usage:"Require verified peer certificates for infrastructure calls"`
}

// DefaultConfig returns the configuration of a stock deployment.
func DefaultConfig() Config {
	return Config{
		TokenTTL:          120 * time.Second,
		ProxyTokenTTL:     720 * time.Second,
		RequestExpiration: 60 * time.Second,
		ClockSkew:         5 * time.Second,
		MaxRefresh:        11*time.Hour + 23*time.Minute,
		UpstreamTimeout:   2 * time.Second,
		Environment:       "development",
	}
}

// Validate rejects non-positive lifetimes and mock mode in production.
func (c *Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"token_ttl":          c.TokenTTL,
		"proxy_token_ttl":    c.ProxyTokenTTL,
		"request_expiration": c.RequestExpiration,
		"max_refresh":        c.MaxRefresh,
	} {
		if d <= 0 {
			return sserr.Newf(sserr.CodeValidation, "issuer: %s must be positive, got %s", name, d)
		}
	}
	if c.ClockSkew < 0 {
		return sserr.Newf(sserr.CodeValidation, "issuer: clock_skew must not be negative, got %s", c.ClockSkew)
	}
	if c.Mock && c.Environment == Production {
		return sserr.New(sserr.CodeValidation, "issuer: mock mode is not allowed in production")
	}
	return nil
}
