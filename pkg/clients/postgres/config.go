package postgres

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// Secret holds a credential that must never appear in logs or formatted
// output. String and GoString return a fixed placeholder.
type Secret string

const redacted = "[REDACTED]"

// String implements fmt.Stringer.
func (s Secret) String() string { return redacted }

// GoString implements fmt.GoStringer so %#v is also redacted.
func (s Secret) GoString() string { return redacted }

// Value returns the underlying credential.
func (s Secret) Value() string { return string(s) }

// MarshalText keeps the secret out of YAML and JSON dumps.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// SSLMode is a libpq sslmode value.
type SSLMode string

const (
	SSLModeDisable    SSLMode = "disable"
	SSLModePrefer     SSLMode = "prefer"
	SSLModeRequire    SSLMode = "require"
	SSLModeVerifyCA   SSLMode = "verify-ca"
	SSLModeVerifyFull SSLMode = "verify-full"
)

func (m SSLMode) valid() bool {
	switch m {
	case SSLModeDisable, SSLModePrefer, SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
		return true
	}
	return false
}

// Config describes a connection to the registration and audit database.
// Either URI or the discrete Host/Database/User fields must be set.
type Config struct {
	URI      string  `env:"URI" yaml:"uri" json:"uri" flag:"uri" usage:"PostgreSQL connection URI"`
	Host     string  `env:"HOST" envDefault:"localhost" yaml:"host" json:"host"`
	Port     int     `env:"PORT" envDefault:"5432" yaml:"port" json:"port"`
	Database string  `env:"DATABASE" envDefault:"ezsecurity" yaml:"database" json:"database"`
	User     string  `env:"USER" yaml:"user" json:"user"`
	Password Secret  `env:"PASSWORD" yaml:"password" json:"password"`
	SSLMode  SSLMode `env:"SSLMODE" envDefault:"prefer" yaml:"sslmode" json:"sslmode"`

	MaxConns          int32         `env:"MAX_CONNS" envDefault:"10" yaml:"max_conns" json:"max_conns"`
	MinConns          int32         `env:"MIN_CONNS" envDefault:"1" yaml:"min_conns" json:"min_conns"`
	MaxConnLifetime   time.Duration `env:"MAX_CONN_LIFETIME" envDefault:"1h" yaml:"max_conn_lifetime" json:"max_conn_lifetime"`
	HealthCheckPeriod time.Duration `env:"HEALTH_CHECK_PERIOD" envDefault:"30s" yaml:"health_check_period" json:"health_check_period"`
	ConnectTimeout    time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s" yaml:"connect_timeout" json:"connect_timeout"`
}

// DefaultConfig returns a Config pointing at a local database.
func DefaultConfig() *Config {
	return &Config{
		Host:              "localhost",
		Port:              5432,
		Database:          "ezsecurity",
		SSLMode:           SSLModePrefer,
		MaxConns:          10,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    5 * time.Second,
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.URI != "" {
		if _, err := url.Parse(c.URI); err != nil {
			return sserr.Wrap(err, sserr.CodeValidationFormat, "postgres: invalid URI")
		}
		return nil
	}
	if c.Host == "" {
		return sserr.New(sserr.CodeValidation, "postgres: host is required")
	}
	if c.Database == "" {
		return sserr.New(sserr.CodeValidation, "postgres: database is required")
	}
	if c.User == "" {
		return sserr.New(sserr.CodeValidation, "postgres: user is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return sserr.Newf(sserr.CodeValidation, "postgres: port %d out of range", c.Port)
	}
	if c.SSLMode != "" && !c.SSLMode.valid() {
		return sserr.Newf(sserr.CodeValidation, "postgres: unknown sslmode %q", c.SSLMode)
	}
	if c.MinConns > c.MaxConns && c.MaxConns > 0 {
		return sserr.New(sserr.CodeValidation, "postgres: min_conns exceeds max_conns")
	}
	return nil
}

// ConnectionString renders the configuration as a PostgreSQL URL.
func (c *Config) ConnectionString() string {
	if c.URI != "" {
		return c.URI
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password.Value())
	} else {
		u.User = url.User(c.User)
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", string(c.SSLMode))
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// databaseName returns the database name for span attributes.
func (c *Config) databaseName() string {
	if c.Database != "" || c.URI == "" {
		return c.Database
	}
	u, err := url.Parse(c.URI)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}

const maxStatementLen = 100

// truncateSQL shortens a statement for use as a span attribute.
func truncateSQL(sql string) string {
	sql = strings.Join(strings.Fields(sql), " ")
	if len(sql) <= maxStatementLen {
		return sql
	}
	return sql[:maxStatementLen] + "..."
}
