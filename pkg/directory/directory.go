// Package directory looks up user attributes by distinguished name.
//
// [FileDirectory] serves users from a YAML file that is reloaded when it
// changes; [Cached] puts any [Directory] behind a shared cache.
package directory

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/StricklySoft/ezsecurity/pkg/token"
)

// Authorizations are the authorization attributes of a user.
type Authorizations struct {
	Level       string     `json:"level" yaml:"level"`
	Auths       token.Tags `json:"auths,omitempty" yaml:"auths,omitempty"`
	Community   token.Tags `json:"community_auths,omitempty" yaml:"community_auths,omitempty"`
	Citizenship string     `json:"citizenship,omitempty" yaml:"citizenship,omitempty"`
	// Organization is the authorizing organization, which may differ
	// from the user's employer.
	Organization string `json:"organization,omitempty" yaml:"organization,omitempty"`
}

// User is a directory record.
type User struct {
	DN           string              `json:"dn" yaml:"-"`
	Name         string              `json:"name" yaml:"name"`
	FirstName    string              `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	Surname      string              `json:"surname,omitempty" yaml:"surname,omitempty"`
	UID          string              `json:"uid,omitempty" yaml:"uid,omitempty"`
	Company      string              `json:"company,omitempty" yaml:"company,omitempty"`
	Email        string              `json:"email,omitempty" yaml:"email,omitempty"`
	Organization string              `json:"organization,omitempty" yaml:"organization,omitempty"`
	Affiliations []string            `json:"affiliations,omitempty" yaml:"affiliations,omitempty"`
	Auths        Authorizations      `json:"authorizations" yaml:"authorizations"`
	Projects     map[string][]string `json:"projects,omitempty" yaml:"projects,omitempty"`
	Communities  []token.Community   `json:"communities,omitempty" yaml:"communities,omitempty"`
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	c := *u
	c.Affiliations = slices.Clone(u.Affiliations)
	c.Auths.Auths = slices.Clone(u.Auths.Auths)
	c.Auths.Community = slices.Clone(u.Auths.Community)
	if u.Projects != nil {
		c.Projects = make(map[string][]string, len(u.Projects))
		for k, v := range u.Projects {
			c.Projects[k] = slices.Clone(v)
		}
	}
	c.Communities = make([]token.Community, len(u.Communities))
	for i, cm := range u.Communities {
		cm.Groups = slices.Clone(cm.Groups)
		cm.Topics = slices.Clone(cm.Topics)
		cm.Regions = slices.Clone(cm.Regions)
		cm.Flags = slices.Clone(cm.Flags)
		c.Communities[i] = cm
	}
	if u.Communities == nil {
		c.Communities = nil
	}
	return &c
}

// normalize fills derived fields after decoding: the DN key, name parts,
// sorted tag sets and sorted community lists.
func (u *User) normalize(dn string) {
	u.DN = dn
	if u.FirstName == "" && u.Surname == "" {
		if parts := strings.Fields(u.Name); len(parts) == 2 {
			u.FirstName, u.Surname = parts[0], parts[1]
		}
	}
	u.Auths.Auths = u.Auths.Auths.Normalize()
	u.Auths.Community = u.Auths.Community.Normalize()
	for i := range u.Communities {
		slices.Sort(u.Communities[i].Groups)
		slices.Sort(u.Communities[i].Regions)
		slices.Sort(u.Communities[i].Topics)
		slices.Sort(u.Communities[i].Flags)
	}
	if u.Projects == nil {
		u.Projects = map[string][]string{}
	}
}

// ProjectNames returns the user's project names in sorted order.
func (u *User) ProjectNames() []string {
	return slices.Sorted(maps.Keys(u.Projects))
}

// Directory resolves users. User returns an error with
// [sserr.CodeUserNotFound] for an unknown DN.
type Directory interface {
	User(ctx context.Context, dn string) (*User, error)
	// AssertUser reports whether dn exists. Backend failures read as
	// false.
	AssertUser(ctx context.Context, dn string) bool
	// AssertUserStrict reports whether dn exists and surfaces backend
	// failures as errors instead of false.
	AssertUserStrict(ctx context.Context, dn string) (bool, error)
}
