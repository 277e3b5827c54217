package minio

import (
	"time"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// DefaultHealthTimeout bounds Health when the caller's context has no
// deadline.
const DefaultHealthTimeout = 5 * time.Second

// Secret holds the S3 secret key. It formats as a placeholder.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string               { return redacted }
func (s Secret) GoString() string             { return redacted }
func (s Secret) Value() string                { return string(s) }
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config describes the bucket holding application registration objects.
type Config struct {
	Endpoint  string `env:"ENDPOINT" envDefault:"localhost:9000" yaml:"endpoint" json:"endpoint" flag:"endpoint" usage:"S3 compatible endpoint for registration objects"`
	AccessKey string `env:"ACCESS_KEY" yaml:"access_key" json:"access_key"`
	SecretKey Secret `env:"SECRET_KEY" yaml:"secret_key" json:"secret_key"`
	Region    string `env:"REGION" envDefault:"us-east-1" yaml:"region" json:"region"`
	UseSSL    bool   `env:"USE_SSL" yaml:"use_ssl" json:"use_ssl"`
	Bucket    string `env:"BUCKET" envDefault:"ezsecurity" yaml:"bucket" json:"bucket" flag:"bucket" usage:"Bucket holding registration objects"`
}

// DefaultConfig returns a Config for a local MinIO.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: "localhost:9000",
		Region:   "us-east-1",
		Bucket:   "ezsecurity",
	}
}

// Validate checks the endpoint, credentials and bucket name.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return sserr.New(sserr.CodeValidation, "minio: endpoint is required")
	}
	if c.AccessKey == "" {
		return sserr.New(sserr.CodeValidation, "minio: access_key is required")
	}
	if len(c.Bucket) < 3 || len(c.Bucket) > 63 {
		return sserr.Newf(sserr.CodeValidationFormat, "minio: bucket name %q must be 3-63 characters", c.Bucket)
	}
	return nil
}
