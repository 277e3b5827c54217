package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeFor[time.Duration]()

// setting is one settable leaf of a configuration struct together with
// every name it can be addressed by.
type setting struct {
	value reflect.Value
	tag   reflect.StructTag
	name  string // Go field name, for error messages
	key   string // dotted YAML key ("postgres.host")
	env   string // environment variable, "" when the field has no env tag
	flag  string // flag name, "" when the field has no flag tag
}

// scope carries the names accumulated from enclosing structs. A nested
// struct's env tag extends the env prefix and its flag tag extends the
// flag prefix; untagged structs pass their parent's prefixes through.
type scope struct {
	key, env, flag string
}

// walk calls fn for every settable non-struct field under rv, depth first
// in declaration order.
func walk(rv reflect.Value, sc scope, fn func(setting) error) error {
	rt := rv.Type()
	for i := range rt.NumField() {
		v, sf := rv.Field(i), rt.Field(i)
		if !v.CanSet() {
			continue
		}
		envTag, flagTag := sf.Tag.Get("env"), sf.Tag.Get("flag")
		inner := scope{
			key:  join(sc.key, yamlKey(sf), "."),
			env:  join(sc.env, envTag, "_"),
			flag: join(sc.flag, flagTag, "."),
		}
		if v.Kind() == reflect.Struct {
			if err := walk(v, inner, fn); err != nil {
				return err
			}
			continue
		}
		s := setting{value: v, tag: sf.Tag, name: sf.Name, key: inner.key}
		if envTag != "" {
			s.env = inner.env
		}
		if flagTag != "" {
			s.flag = inner.flag
		}
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

func join(prefix, name, sep string) string {
	switch {
	case prefix == "":
		return name
	case name == "":
		return prefix
	default:
		return prefix + sep + name
	}
}

// yamlKey names a field the way the config file does, falling back to the
// lowercased env tag and then the Go name for fields without a yaml tag.
func yamlKey(sf reflect.StructField) string {
	if name, _, _ := strings.Cut(sf.Tag.Get("yaml"), ","); name != "" && name != "-" {
		return name
	}
	if env := sf.Tag.Get("env"); env != "" {
		return strings.ToLower(env)
	}
	return sf.Name
}

// parseInto decodes raw into v. Durations use time.ParseDuration and string
// slices are comma separated with surrounding blanks trimmed. Named types
// (a Secret string, a Tags slice) work through their underlying kind.
func parseInto(v reflect.Value, raw string) error {
	if v.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("duration %q: %w", raw, err)
		}
		v.SetInt(int64(d))
		return nil
	}

	switch k := v.Kind(); k {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("bool %q: %w", raw, err)
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("integer %q: %w", raw, err)
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("unsigned integer %q: %w", raw, err)
		}
		v.SetUint(n)
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", v.Type().Elem().Kind())
		}
		parts := strings.Split(raw, ",")
		out := reflect.MakeSlice(v.Type(), len(parts), len(parts))
		for i, p := range parts {
			out.Index(i).SetString(strings.TrimSpace(p))
		}
		v.Set(out)
	default:
		return fmt.Errorf("unsupported kind %s", k)
	}
	return nil
}
