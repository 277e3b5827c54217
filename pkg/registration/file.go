package registration

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// StaticStore serves registrations held in memory, typically loaded from
// a YAML file holding a list of [Registration] records keyed by their yaml
// tags (id, name, level, authorizations, public_key and so on).
type StaticStore struct {
	regs map[string]Registration
}

var _ Store = (*StaticStore)(nil)

// NewStaticStore returns a store holding regs. A later duplicate id
// replaces an earlier one.
func NewStaticStore(regs ...Registration) *StaticStore {
	s := &StaticStore{regs: make(map[string]Registration, len(regs))}
	for _, r := range regs {
		s.regs[r.ID] = r
	}
	return s
}

// ParseYAML decodes a YAML list of registrations.
func ParseYAML(data []byte) (*StaticStore, error) {
	var regs []Registration
	if err := yaml.Unmarshal(data, &regs); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "registration: invalid registrations file")
	}
	for i, r := range regs {
		if r.ID == "" {
			return nil, sserr.Newf(sserr.CodeValidation, "registration: entry %d has no id", i)
		}
	}
	return NewStaticStore(regs...), nil
}

// LoadFile reads a YAML registrations file.
func LoadFile(path string) (*StaticStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "registration: read %s", path)
	}
	return ParseYAML(data)
}

// Lookup implements [Store].
func (s *StaticStore) Lookup(_ context.Context, id string) (*Registration, error) {
	r, ok := s.regs[id]
	if !ok {
		return nil, sserr.AppNotRegistered(id)
	}
	return &r, nil
}

// Len returns the number of registrations held.
func (s *StaticStore) Len() int { return len(s.regs) }
