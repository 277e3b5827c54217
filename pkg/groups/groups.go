// Package groups resolves platform object authorizations: the int64 group
// ids a token carries, and the access mask an application requires from
// callers. Membership is computed from a group graph in which both users
// and applications are members.
//
// A group a user belongs to is granted only when every application in the
// request chain also belongs to it, unless the group is marked
// RequireOnlyUser. Groups marked RequireOnlyApp are granted whenever an
// application in the chain belongs to them.
package groups

import (
	"context"
	"slices"

	"github.com/StricklySoft/ezsecurity/pkg/token"
)

// AppAccessPrefix names the group whose members may call an application:
// "app_access.<security id>".
const AppAccessPrefix = "app_access."

// Service is the group membership collaborator of the issuer.
type Service interface {
	// Authorizations returns the group ids for subject as seen through
	// chain. Name is the display name used when the subject is first seen.
	Authorizations(ctx context.Context, chain []string, typ token.Type, subject, name string) ([]int64, error)
	// AppAccessMask returns the groups a caller must belong to in order to
	// obtain a token for app. An empty mask means unrestricted.
	AppAccessMask(ctx context.Context, app string) ([]int64, error)
}

// Group is one node of the group graph.
type Group struct {
	ID              int64  `yaml:"id"`
	Name            string `yaml:"name"`
	RequireOnlyUser bool   `yaml:"require_only_user"`
	RequireOnlyApp  bool   `yaml:"require_only_app"`
}

// Member is a user or application vertex together with the groups it
// belongs to.
type Member struct {
	Index  int64
	Active bool
	Groups []Group
}

// memberSource looks a member up. A missing member is (nil, nil).
type memberSource interface {
	member(ctx context.Context, typ token.Type, id string) (*Member, error)
}

// authorizations computes the group set of subject through chain.
func authorizations(ctx context.Context, src memberSource, chain []string, typ token.Type, subject string) ([]int64, error) {
	m, err := src.member(ctx, typ, subject)
	if err != nil {
		return nil, err
	}
	if m == nil || !m.Active {
		return []int64{}, nil
	}

	out := map[int64]struct{}{m.Index: {}}

	var appFilter map[int64]struct{}
	alwaysInclude := map[int64]struct{}{}
	for _, id := range chain {
		app, err := src.member(ctx, token.TypeApp, id)
		if err != nil {
			return nil, err
		}
		have := map[int64]struct{}{}
		if app != nil && app.Active {
			for _, g := range app.Groups {
				have[g.ID] = struct{}{}
				if g.RequireOnlyApp {
					alwaysInclude[g.ID] = struct{}{}
				}
			}
		}
		if appFilter == nil {
			appFilter = have
			continue
		}
		for g := range appFilter {
			if _, ok := have[g]; !ok {
				delete(appFilter, g)
			}
		}
	}

	for _, g := range m.Groups {
		if typ == token.TypeUser && !g.RequireOnlyUser && appFilter != nil {
			if _, ok := appFilter[g.ID]; !ok {
				continue
			}
		}
		out[g.ID] = struct{}{}
	}
	for g := range alwaysInclude {
		out[g] = struct{}{}
	}
	return sortedIDs(out), nil
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Intersects reports whether a and b share an id.
func Intersects(a, b []int64) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}
