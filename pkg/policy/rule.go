package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/StricklySoft/ezsecurity/pkg/directory"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
	"github.com/StricklySoft/ezsecurity/pkg/registration"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

// GrantQuery is the Rego query a rule module must answer: the set of
// authorizations to grant for input.authorizations.
//
//	package ezsecurity.authz
//
//	grant contains "FVEY" if {
//		"USA" in input.authorizations
//		"high" in input.authorizations
//	}
const GrantQuery = "data.ezsecurity.authz.grant"

// maxRounds bounds the fixpoint iteration so rules that keep granting new
// tags cannot loop forever.
const maxRounds = 16

// Rule grants authorizations on top of a base policy. Granted tags feed
// back into the input until no rule grants anything new, so rules may
// build on each other in any order. Community authorizations and token
// population are delegated to the base policy unchanged.
type Rule struct {
	base   Policy
	query  rego.PreparedEvalQuery
	logger *slog.Logger
}

var _ Policy = (*Rule)(nil)

// NewRule compiles module and returns a rule policy over base.
func NewRule(ctx context.Context, base Policy, module string, logger *slog.Logger) (*Rule, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pq, err := rego.New(
		rego.Query(GrantQuery),
		rego.Module("authorizations.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "policy: compile authorization rules")
	}
	return &Rule{base: base, query: pq, logger: logger}, nil
}

// LoadRule reads a Rego module from path.
func LoadRule(ctx context.Context, base Policy, path string, logger *slog.Logger) (*Rule, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "policy: read rules %s", path)
	}
	return NewRule(ctx, base, string(src), logger)
}

// UserAuthorizations implements [Policy].
func (r *Rule) UserAuthorizations(ctx context.Context, u *directory.User) (token.Tags, error) {
	base, err := r.base.UserAuthorizations(ctx, u)
	if err != nil {
		return nil, err
	}
	r.logger.DebugContext(ctx, "policy: base user authorizations", "authorizations", base)
	return r.grant(ctx, base)
}

// AppAuthorizations implements [Policy].
func (r *Rule) AppAuthorizations(ctx context.Context, reg *registration.Registration) (token.Tags, error) {
	base, err := r.base.AppAuthorizations(ctx, reg)
	if err != nil {
		return nil, err
	}
	return r.grant(ctx, base)
}

// UserCommunityAuthorizations implements [Policy].
func (r *Rule) UserCommunityAuthorizations(ctx context.Context, u *directory.User) (token.Tags, error) {
	return r.base.UserCommunityAuthorizations(ctx, u)
}

// PopulateUserToken implements [Policy].
func (r *Rule) PopulateUserToken(t *token.Token, u *directory.User) {
	r.base.PopulateUserToken(t, u)
}

func (r *Rule) grant(ctx context.Context, tags token.Tags) (token.Tags, error) {
	for range maxRounds {
		granted, err := r.eval(ctx, tags)
		if err != nil {
			return nil, err
		}
		next := tags.Union(granted)
		if len(next) == len(tags) {
			return tags, nil
		}
		tags = next
	}
	r.logger.WarnContext(ctx, "policy: authorization rules did not settle", "rounds", maxRounds)
	return tags, nil
}

func (r *Rule) eval(ctx context.Context, tags token.Tags) (token.Tags, error) {
	input := map[string]any{"authorizations": []string(tags)}
	rs, err := r.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternal, "policy: evaluate authorization rules")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}
	values, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, sserr.Newf(sserr.CodeInternal, "policy: grant must be a set, got %T", rs[0].Expressions[0].Value)
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, sserr.Newf(sserr.CodeInternal, "policy: granted authorization %v is not a string", v)
		}
		out = append(out, s)
	}
	return token.NewTags(out...), nil
}

// String describes the policy for startup logs.
func (r *Rule) String() string {
	return fmt.Sprintf("rule policy over %T", r.base)
}
