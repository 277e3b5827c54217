package groups

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

// StaticGroup is a group entry of a static group file.
type StaticGroup struct {
	Group `yaml:",inline"`
	Users []string `yaml:"users"`
	Apps  []string `yaml:"apps"`
}

// StaticMember declares the index of a user or application.
type StaticMember struct {
	Index    int64 `yaml:"index"`
	Inactive bool  `yaml:"inactive"`
}

// StaticConfig is the document read by [LoadStatic].
type StaticConfig struct {
	Users  map[string]StaticMember `yaml:"users"`
	Apps   map[string]StaticMember `yaml:"apps"`
	Groups []StaticGroup           `yaml:"groups"`
}

// Static is an in-memory group graph. It is immutable after construction.
type Static struct {
	users map[string]*Member
	apps  map[string]*Member
	masks map[string][]int64
}

var _ Service = (*Static)(nil)

// NewStatic builds a Static graph from cfg. Members named by a group but
// not declared are rejected.
func NewStatic(cfg StaticConfig) (*Static, error) {
	s := &Static{
		users: make(map[string]*Member, len(cfg.Users)),
		apps:  make(map[string]*Member, len(cfg.Apps)),
		masks: make(map[string][]int64),
	}
	for id, m := range cfg.Users {
		s.users[id] = &Member{Index: m.Index, Active: !m.Inactive}
	}
	for id, m := range cfg.Apps {
		s.apps[id] = &Member{Index: m.Index, Active: !m.Inactive}
	}
	for _, g := range cfg.Groups {
		if g.Name == "" {
			return nil, sserr.Newf(sserr.CodeValidation, "groups: group %d has no name", g.ID)
		}
		s.masks[g.Name] = append(s.masks[g.Name], g.ID)
		for _, id := range g.Users {
			m, ok := s.users[id]
			if !ok {
				return nil, sserr.Newf(sserr.CodeValidation, "groups: group %q names undeclared user %q", g.Name, id)
			}
			m.Groups = append(m.Groups, g.Group)
		}
		for _, id := range g.Apps {
			m, ok := s.apps[id]
			if !ok {
				return nil, sserr.Newf(sserr.CodeValidation, "groups: group %q names undeclared app %q", g.Name, id)
			}
			m.Groups = append(m.Groups, g.Group)
		}
	}
	return s, nil
}

// ParseStatic decodes a YAML group document.
func ParseStatic(data []byte) (*Static, error) {
	var cfg StaticConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "groups: invalid group document")
	}
	return NewStatic(cfg)
}

// LoadStatic reads a YAML group document from path.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "groups: read %s", path)
	}
	return ParseStatic(data)
}

func (s *Static) member(_ context.Context, typ token.Type, id string) (*Member, error) {
	src := s.users
	if typ == token.TypeApp {
		src = s.apps
	}
	return src[id], nil
}

// Authorizations implements [Service].
func (s *Static) Authorizations(ctx context.Context, chain []string, typ token.Type, subject, _ string) ([]int64, error) {
	return authorizations(ctx, s, chain, typ, subject)
}

// AppAccessMask implements [Service].
func (s *Static) AppAccessMask(_ context.Context, app string) ([]int64, error) {
	mask := s.masks[AppAccessPrefix+app]
	if mask == nil {
		return []int64{}, nil
	}
	return append([]int64(nil), mask...), nil
}
