// Package config fills a configuration struct from four layers, each
// overriding the one before it:
//
//	envDefault struct tags
//	a YAML or JSON file
//	environment variables
//	command line flags the user actually passed
//
// Fields opt in to each layer with struct tags:
//
//   - `envDefault:"120s"` sets the value used when nothing else does
//   - `yaml:"token_ttl"` (or `json`) names the key in the config file
//   - `env:"TOKEN_TTL"` names the environment variable; a nested struct's
//     env tag is joined to its fields' with "_"
//   - `flag:"token-ttl"` names the flag; nested flag names are joined
//     with "." ("cache.enabled")
//   - `usage:"..."` is the flag help text
//   - `required:"true"` rejects a field that is still zero after loading
//
// Typical startup:
//
//	fs := pflag.NewFlagSet("ezsecurity", pflag.ExitOnError)
//	config.BindFlags(fs, &Config{})
//	_ = fs.Parse(os.Args[1:])
//	cfg := config.MustLoad[Config](
//	    config.New().WithEnvPrefix("EZSECURITY").WithFile("ezsecurity.yaml").WithFlags(fs),
//	)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// Loader resolves configuration layers into a struct. It is configured
// fluently and is not safe for concurrent use.
type Loader struct {
	envPrefix string
	filePath  string
	flags     *pflag.FlagSet
}

// New returns a Loader that reads defaults and unprefixed environment
// variables only.
func New() *Loader {
	return &Loader{}
}

// WithEnvPrefix prefixes every environment variable name, uppercased and
// joined with "_": prefix "ezsecurity" makes `env:"MOCK"` read
// EZSECURITY_MOCK.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile adds a config file layer. The decoder follows the extension:
// .yaml and .yml for YAML, .json for JSON. A file that does not exist is
// skipped. Paths containing ".." are refused.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// WithFlags adds a flag layer. Only flags changed on the command line are
// applied, so an unset flag never masks a file or environment value.
// Register the flags with [BindFlags] before parsing.
func (l *Loader) WithFlags(fs *pflag.FlagSet) *Loader {
	l.flags = fs
	return l
}

// Load fills cfg, which must be a non-nil pointer to a struct, and then
// validates it. Problems reading a layer are reported as
// [sserr.CodeInternalConfiguration]; an invalid result as
// [sserr.CodeValidation].
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: Load needs a non-nil struct pointer, got %T", cfg)
	}
	rv = rv.Elem()

	if err := walk(rv, scope{}, applyDefault); err != nil {
		return err
	}
	if err := l.readFile(cfg); err != nil {
		return err
	}
	if err := walk(rv, scope{env: l.envPrefix}, applyEnv); err != nil {
		return err
	}
	if l.flags != nil {
		if err := walk(rv, scope{}, l.applyFlag); err != nil {
			return err
		}
	}
	return validate(cfg, rv)
}

// MustLoad loads a T or panics. It is meant for main, where a bad
// configuration should stop the process before anything starts.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

func (l *Loader) readFile(cfg any) error {
	if l.filePath == "" {
		return nil
	}
	if strings.Contains(l.filePath, "..") {
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: refusing path %q: contains \"..\"", l.filePath)
	}
	data, err := os.ReadFile(l.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration, "config: read %s", l.filePath)
	}

	var decode func([]byte, any) error
	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		decode = yaml.Unmarshal
	case ".json":
		decode = json.Unmarshal
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: %s: unknown extension %q, want .yaml, .yml or .json", l.filePath, ext)
	}
	if err := decode(data, cfg); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration, "config: decode %s", l.filePath)
	}
	return nil
}

func applyDefault(s setting) error {
	def := s.tag.Get("envDefault")
	if def == "" || !s.value.IsZero() {
		return nil
	}
	if err := parseInto(s.value, def); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: default for %s", s.name)
	}
	return nil
}

func applyEnv(s setting) error {
	if s.env == "" {
		return nil
	}
	raw, ok := os.LookupEnv(s.env)
	if !ok {
		return nil
	}
	if err := parseInto(s.value, raw); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: %s from $%s", s.name, s.env)
	}
	return nil
}

func (l *Loader) applyFlag(s setting) error {
	if s.flag == "" || !l.flags.Changed(s.flag) {
		return nil
	}
	if err := parseInto(s.value, l.flags.Lookup(s.flag).Value.String()); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: %s from --%s", s.name, s.flag)
	}
	return nil
}

// BindFlags registers a string flag for every field of cfg with a flag
// tag, defaulting to its envDefault. Values are parsed by [Loader.Load]
// like environment variables, so durations take "90s" and slices a comma
// separated list. Bool flags may be passed bare ("--mock"). Anything but a
// struct pointer is ignored.
func BindFlags(fs *pflag.FlagSet, cfg any) {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return
	}
	_ = walk(rv.Elem(), scope{}, func(s setting) error {
		if s.flag == "" || fs.Lookup(s.flag) != nil {
			return nil
		}
		fs.String(s.flag, s.tag.Get("envDefault"), s.tag.Get("usage"))
		if s.value.Kind() == reflect.Bool {
			fs.Lookup(s.flag).NoOptDefVal = "true"
		}
		return nil
	})
}
