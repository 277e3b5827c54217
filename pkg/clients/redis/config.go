package redis

import (
	"fmt"
	"net/url"
	"time"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// Secret holds the Redis password. It formats as a placeholder.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string               { return redacted }
func (s Secret) GoString() string             { return redacted }
func (s Secret) Value() string                { return string(s) }
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config describes the Redis instance backing the encrypted user cache.
// URI, when set, takes precedence over Addr, Password and DB.
type Config struct {
	URI      string `env:"URI" yaml:"uri" json:"uri" flag:"uri" usage:"Redis connection URI (redis:// or rediss://)"`
	Addr     string `env:"ADDR" envDefault:"localhost:6379" yaml:"addr" json:"addr"`
	Password Secret `env:"PASSWORD" yaml:"password" json:"password"`
	DB       int    `env:"DB" yaml:"db" json:"db"`

	PoolSize     int           `env:"POOL_SIZE" envDefault:"10" yaml:"pool_size" json:"pool_size"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s" yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"2s" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"2s" yaml:"write_timeout" json:"write_timeout"`
}

// DefaultConfig returns a Config for a local Redis.
func DefaultConfig() *Config {
	return &Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
}

// Validate checks the URI scheme or the discrete address fields.
func (c *Config) Validate() error {
	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return sserr.Wrap(err, sserr.CodeValidationFormat, "redis: invalid URI")
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return sserr.Newf(sserr.CodeValidationFormat, "redis: URI scheme must be redis or rediss, got %q", u.Scheme)
		}
		return nil
	}
	if c.Addr == "" {
		return sserr.New(sserr.CodeValidation, "redis: addr is required")
	}
	if c.DB < 0 {
		return sserr.Newf(sserr.CodeValidation, "redis: db must not be negative, got %d", c.DB)
	}
	if c.PoolSize < 0 {
		return sserr.Newf(sserr.CodeValidation, "redis: pool_size must not be negative, got %d", c.PoolSize)
	}
	return nil
}

// String describes the target without credentials, for logs.
func (c *Config) String() string {
	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return "redis://invalid"
		}
		u.User = nil
		return u.String()
	}
	return fmt.Sprintf("redis://%s/%d", c.Addr, c.DB)
}
