package main

import (
	"log/slog"
	"time"

	"github.com/StricklySoft/ezsecurity/pkg/cache"
	"github.com/StricklySoft/ezsecurity/pkg/clients/minio"
	"github.com/StricklySoft/ezsecurity/pkg/clients/neo4j"
	"github.com/StricklySoft/ezsecurity/pkg/clients/postgres"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
	"github.com/StricklySoft/ezsecurity/pkg/issuer"
	"github.com/StricklySoft/ezsecurity/pkg/rpc"
)

// Registration backends.
const (
	backendFile     = "file"
	backendPostgres = "postgres"
	backendMinio    = "minio"
	backendStatic   = "static"
	backendNeo4j    = "neo4j"
)

// Config is the service configuration. Issuer fields sit at the top level
// (EZSECURITY_TOKEN_TTL, --token-ttl); every backend has its own section.
type Config struct {
	ListenAddr    string        `env:"LISTEN_ADDR" envDefault:":8449" yaml:"listen_addr" json:"listen_addr" flag:"listen-addr" usage:"gRPC listen address"`
	HTTPAddr      string        `env:"HTTP_ADDR" envDefault:":9449" yaml:"http_addr" json:"http_addr" flag:"http-addr" usage:"Address serving /metrics and /healthz, empty to disable"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level" json:"log_level" flag:"log-level" usage:"debug, info, warn or error"`
	KeyFile       string        `env:"KEY_FILE" envDefault:"ezsecurity.pem" yaml:"key_file" json:"key_file" flag:"key-file" usage:"PEM private key that signs tokens"`
	WatchInterval time.Duration `env:"WATCH_INTERVAL" envDefault:"10s" yaml:"watch_interval" json:"watch_interval" flag:"watch-interval" usage:"Polling period of watched files"`
	Peers         []string      `env:"PEERS" yaml:"peers" json:"peers" flag:"peers" usage:"Sibling instances that receive administrator updates"`

	Issuer issuer.Config `yaml:"issuer" json:"issuer"`
	TLS    rpc.TLSConfig `env:"TLS" yaml:"tls" json:"tls" flag:"tls"`

	Registration RegistrationConfig `env:"REGISTRATION" yaml:"registration" json:"registration" flag:"registration"`
	Directory    FileConfig         `env:"DIRECTORY" yaml:"directory" json:"directory" flag:"directory"`
	Admins       AdminsConfig       `env:"ADMINS" yaml:"admins" json:"admins" flag:"admins"`
	Groups       GroupsConfig       `env:"GROUPS" yaml:"groups" json:"groups" flag:"groups"`
	Cache        cache.Config       `env:"CACHE" yaml:"cache" json:"cache" flag:"cache"`
	Audit        AuditConfig        `env:"AUDIT" yaml:"audit" json:"audit" flag:"audit"`
	Policy       PolicyConfig       `env:"POLICY" yaml:"policy" json:"policy" flag:"policy"`

	Postgres postgres.Config `env:"POSTGRES" yaml:"postgres" json:"postgres" flag:"postgres"`
	Neo4j    neo4j.Config    `env:"NEO4J" yaml:"neo4j" json:"neo4j" flag:"neo4j"`
	Minio    minio.Config    `env:"MINIO" yaml:"minio" json:"minio" flag:"minio"`
}

// RegistrationConfig selects where application registrations live.
type RegistrationConfig struct {
	Backend  string        `env:"BACKEND" envDefault:"file" yaml:"backend" json:"backend" flag:"backend" usage:"file, postgres or minio"`
	File     string        `env:"FILE" envDefault:"registrations.yaml" yaml:"file" json:"file" flag:"file" usage:"Registration YAML for the file backend"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"10m" yaml:"cache_ttl" json:"cache_ttl" flag:"cache-ttl" usage:"How long a resolved registration is reused"`
}

// FileConfig names a watched YAML file.
type FileConfig struct {
	File string `env:"FILE" envDefault:"users.yaml" yaml:"file" json:"file" flag:"file" usage:"User directory YAML"`
}

// AdminsConfig names the administrator list.
type AdminsConfig struct {
	File string `env:"FILE" envDefault:"admins.yaml" yaml:"file" json:"file" flag:"file" usage:"Administrator list YAML"`
}

// GroupsConfig selects the group membership service.
type GroupsConfig struct {
	Backend string `env:"BACKEND" envDefault:"static" yaml:"backend" json:"backend" flag:"backend" usage:"static or neo4j"`
	File    string `env:"FILE" envDefault:"groups.yaml" yaml:"file" json:"file" flag:"file" usage:"Group YAML for the static backend"`
}

// AuditConfig selects audit persistence.
type AuditConfig struct {
	Postgres bool `env:"POSTGRES" envDefault:"false" yaml:"postgres" json:"postgres" flag:"postgres" usage:"Persist audit events to PostgreSQL"`
}

// PolicyConfig selects the authorization policy.
type PolicyConfig struct {
	RulesFile string `env:"RULES_FILE" yaml:"rules_file" json:"rules_file" flag:"rules-file" usage:"Rego module granting additional authorizations"`
}

// Validate is called by the config loader after all layers are applied.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return sserr.New(sserr.CodeValidation, "config: listen_addr must not be empty")
	}
	if c.KeyFile == "" {
		return sserr.New(sserr.CodeValidation, "config: key_file must not be empty")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if err := c.Issuer.Validate(); err != nil {
		return err
	}
	if err := c.TLS.Validate(); err != nil {
		return err
	}
	if c.Issuer.MutualTLS && (!c.TLS.Enabled() || c.TLS.CAFile == "") {
		return sserr.New(sserr.CodeValidation, "config: mutual_tls requires tls.cert_file and tls.ca_file")
	}
	switch c.Registration.Backend {
	case backendFile, backendPostgres, backendMinio:
	default:
		return sserr.Newf(sserr.CodeValidation, "config: unknown registration backend %q", c.Registration.Backend)
	}
	switch c.Groups.Backend {
	case backendStatic, backendNeo4j:
	default:
		return sserr.Newf(sserr.CodeValidation, "config: unknown groups backend %q", c.Groups.Backend)
	}
	if c.Directory.File == "" || c.Admins.File == "" {
		return sserr.New(sserr.CodeValidation, "config: directory.file and admins.file must not be empty")
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, sserr.Wrapf(err, sserr.CodeValidation, "config: invalid log_level %q", c.LogLevel)
	}
	return l, nil
}

// usesPostgres reports whether any component needs the PostgreSQL client.
func (c *Config) usesPostgres() bool {
	return c.Registration.Backend == backendPostgres || c.Audit.Postgres
}
