package issuer

import (
	"context"

	"github.com/StricklySoft/ezsecurity/pkg/registration"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

// app is a resolved registration with the formal authorizations the
// policy lets it pass on.
type app struct {
	*registration.App
	formal token.Tags
}

func (a *app) community() token.Tags { return a.Community.Normalize() }

// fetchApp resolves id and computes its formal authorizations.
func (is *Issuer) fetchApp(ctx context.Context, id string) (*app, error) {
	resolved, err := is.apps.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	formal, err := is.policy.AppAuthorizations(ctx, &resolved.Registration)
	if err != nil {
		return nil, err
	}
	return &app{App: resolved, formal: formal.Normalize()}, nil
}

// chainApps resolves every id of chain. An unknown id fails the whole
// lookup with [sserr.CodeAppNotRegistered].
func (is *Issuer) chainApps(ctx context.Context, chain []string) ([]*app, error) {
	apps := make([]*app, 0, len(chain))
	for _, id := range chain {
		a, err := is.fetchApp(ctx, id)
		if err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	return apps, nil
}

// filterFormal narrows the requester's formal authorizations. A non-nil
// preFilter replaces the per-hop narrowing by chain. target is nil when
// the request names no target.
func filterFormal(subject token.Tags, requester, target *app, preFilter token.Tags, chain []*app) token.Tags {
	auths := requester.formal
	if preFilter != nil {
		auths = auths.Intersect(preFilter.Normalize())
	} else {
		for _, hop := range chain {
			auths = auths.Intersect(hop.formal)
		}
	}
	auths = auths.Intersect(subject.Normalize())
	if target != nil {
		auths = auths.Intersect(target.formal)
	}
	return token.NewTags(auths...)
}

// filterCommunity computes the community authorizations. Unlike the
// formal set, chain hops widen the set before the subject narrows it.
func filterCommunity(subject token.Tags, requester, target *app, chain []*app) token.Tags {
	auths := requester.community()
	if target != nil {
		auths = auths.Intersect(target.community())
	}
	for _, hop := range chain {
		auths = auths.Union(hop.community())
	}
	auths = auths.Intersect(subject.Normalize())
	return token.NewTags(auths...)
}
