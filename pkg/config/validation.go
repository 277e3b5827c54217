package config

import (
	"reflect"
	"strings"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// Validator is implemented by configuration structs with checks beyond
// `required` tags. Load calls Validate last. A plain error is wrapped as
// [sserr.CodeValidation]; an *sserr.Error is returned unchanged.
type Validator interface {
	Validate() error
}

func validate(cfg any, rv reflect.Value) error {
	var missing []string
	_ = walk(rv, scope{}, func(s setting) error {
		if s.tag.Get("required") == "true" && s.value.IsZero() {
			missing = append(missing, s.key)
		}
		return nil
	})
	if len(missing) > 0 {
		return sserr.Newf(sserr.CodeValidation,
			"config: required setting missing: %s", strings.Join(missing, ", "))
	}

	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}
	err := v.Validate()
	if err == nil {
		return nil
	}
	if _, ok := sserr.AsError(err); ok {
		return err
	}
	return sserr.Wrap(err, sserr.CodeValidation, "config: custom validation failed")
}
