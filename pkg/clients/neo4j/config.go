package neo4j

import (
	"fmt"
	"net/url"
	"time"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// DefaultHealthTimeout bounds Health when the caller's context has no
// deadline.
const DefaultHealthTimeout = 5 * time.Second

// Secret holds the graph password. It formats as a placeholder.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string               { return redacted }
func (s Secret) GoString() string             { return redacted }
func (s Secret) Value() string                { return string(s) }
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config describes the group graph database.
type Config struct {
	URI      string `env:"URI" envDefault:"neo4j://localhost:7687" yaml:"uri" json:"uri" flag:"uri" usage:"Neo4j bolt URI for the group graph"`
	Database string `env:"DATABASE" envDefault:"neo4j" yaml:"database" json:"database"`
	Username string `env:"USERNAME" envDefault:"neo4j" yaml:"username" json:"username"`
	Password Secret `env:"PASSWORD" yaml:"password" json:"password"`

	MaxConnectionPoolSize        int           `env:"MAX_POOL_SIZE" envDefault:"50" yaml:"max_pool_size" json:"max_pool_size"`
	ConnectionAcquisitionTimeout time.Duration `env:"ACQUISITION_TIMEOUT" envDefault:"30s" yaml:"acquisition_timeout" json:"acquisition_timeout"`
	ConnectTimeout               time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s" yaml:"connect_timeout" json:"connect_timeout"`
}

var validSchemes = map[string]bool{
	"neo4j":   true,
	"neo4j+s": true,
	"bolt":    true,
	"bolt+s":  true,
}

// DefaultConfig returns a Config for a local Neo4j.
func DefaultConfig() *Config {
	return &Config{
		URI:                          "neo4j://localhost:7687",
		Database:                     "neo4j",
		Username:                     "neo4j",
		MaxConnectionPoolSize:        50,
		ConnectionAcquisitionTimeout: 30 * time.Second,
		ConnectTimeout:               5 * time.Second,
	}
}

// Validate checks the URI scheme and credentials.
func (c *Config) Validate() error {
	if c.URI == "" {
		return sserr.New(sserr.CodeValidation, "neo4j: uri is required")
	}
	u, err := url.Parse(c.URI)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeValidationFormat, "neo4j: invalid URI")
	}
	if !validSchemes[u.Scheme] {
		return sserr.Newf(sserr.CodeValidationFormat,
			"neo4j: URI scheme must be neo4j, neo4j+s, bolt or bolt+s, got %q", u.Scheme)
	}
	if c.Username == "" {
		return sserr.New(sserr.CodeValidation, "neo4j: username is required")
	}
	if c.MaxConnectionPoolSize < 0 {
		return sserr.Newf(sserr.CodeValidation, "neo4j: max_pool_size must not be negative, got %d", c.MaxConnectionPoolSize)
	}
	return nil
}

const maxStatementLen = 100

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementLen {
		return s
	}
	return fmt.Sprintf("%s...", string(runes[:maxStatementLen]))
}
