// Package policy computes the authorizations of users and applications
// and fills the user attributes carried on a token.
//
// [Simple] derives authorizations directly from directory and registration
// data. [Rule] wraps another policy and grants additional authorizations
// when Rego rules over the base set hold.
package policy

import (
	"context"
	"maps"
	"slices"

	"github.com/StricklySoft/ezsecurity/pkg/directory"
	"github.com/StricklySoft/ezsecurity/pkg/registration"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

// Policy computes authorization sets.
type Policy interface {
	// UserAuthorizations returns the formal authorizations of u.
	UserAuthorizations(ctx context.Context, u *directory.User) (token.Tags, error)
	// AppAuthorizations returns the formal authorizations an application
	// may pass on.
	AppAuthorizations(ctx context.Context, r *registration.Registration) (token.Tags, error)
	// UserCommunityAuthorizations returns the external community
	// authorizations of u.
	UserCommunityAuthorizations(ctx context.Context, u *directory.User) (token.Tags, error)
	// PopulateUserToken copies the user attributes a token carries.
	PopulateUserToken(t *token.Token, u *directory.User)
}

// Simple is the default policy. A user holds their directory
// authorizations plus their citizenship, level and organization; an
// application holds its registered formal authorizations.
type Simple struct{}

var _ Policy = Simple{}

// UserAuthorizations implements [Policy].
func (Simple) UserAuthorizations(_ context.Context, u *directory.User) (token.Tags, error) {
	tags := slices.Clone([]string(u.Auths.Auths))
	tags = append(tags, u.Auths.Citizenship, u.Auths.Level, u.Auths.Organization)
	return token.NewTags(tags...), nil
}

// AppAuthorizations implements [Policy].
func (Simple) AppAuthorizations(_ context.Context, r *registration.Registration) (token.Tags, error) {
	return r.Formal.Normalize(), nil
}

// UserCommunityAuthorizations implements [Policy].
func (Simple) UserCommunityAuthorizations(_ context.Context, u *directory.User) (token.Tags, error) {
	return u.Auths.Community.Normalize(), nil
}

// PopulateUserToken implements [Policy]. Project groups already on the
// token are kept; the user's projects are merged over them.
func (Simple) PopulateUserToken(t *token.Token, u *directory.User) {
	t.Level = u.Auths.Level
	t.Citizenship = u.Auths.Citizenship
	t.Organization = u.Auths.Organization
	if t.ProjectGroups == nil {
		t.ProjectGroups = make(map[string][]string, len(u.Projects))
	}
	for _, name := range slices.Sorted(maps.Keys(u.Projects)) {
		t.ProjectGroups[name] = slices.Clone(u.Projects[name])
	}
	t.Communities = nil
	for _, c := range u.Communities {
		c.Groups = slices.Clone(c.Groups)
		c.Topics = slices.Clone(c.Topics)
		c.Regions = slices.Clone(c.Regions)
		c.Flags = slices.Clone(c.Flags)
		t.Communities = append(t.Communities, c)
	}
}
