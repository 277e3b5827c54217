package groups

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/ezsecurity/internal/testutil"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

// fakeGraph answers member queries by "type/id" and mask queries by group
// name.
type fakeGraph struct {
	members map[string]*neo4j.Record
	masks   map[string][]int64
	err     error
	queries int
}

func (g *fakeGraph) ExecuteRead(_ context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	g.queries++
	if g.err != nil {
		return nil, g.err
	}
	if cypher == maskCypher {
		var out []*neo4j.Record
		for _, id := range g.masks[params["name"].(string)] {
			out = append(out, &neo4j.Record{Keys: []string{"id"}, Values: []any{id}})
		}
		return out, nil
	}
	rec, ok := g.members[params["type"].(string)+"/"+params["id"].(string)]
	if !ok {
		return nil, nil
	}
	return []*neo4j.Record{rec}, nil
}

func memberRecord(index int64, active bool, groups ...map[string]any) *neo4j.Record {
	list := make([]any, len(groups))
	for i, g := range groups {
		list[i] = g
	}
	return &neo4j.Record{
		Keys:   []string{"index", "active", "groups"},
		Values: []any{index, active, list},
	}
}

func group(id int64, name string, onlyUser, onlyApp bool) map[string]any {
	return map[string]any{"id": id, "name": name, "requireOnlyUser": onlyUser, "requireOnlyApp": onlyApp}
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		members: map[string]*neo4j.Record{
			"USER/CN=Jim Bob": memberRecord(1, true,
				group(10, "analysts", false, false),
				group(11, "secret", false, false),
				group(12, "personal", true, false)),
			"APP/App1": memberRecord(100, true, group(10, "analysts", false, false)),
			"APP/App2": memberRecord(101, true, group(14, "audit", false, true)),
		},
		masks: map[string][]int64{"app_access.App2": {13}},
	}
}

// ===========================================================================
// GraphService
// ===========================================================================

func TestGraphService_Authorizations(t *testing.T) {
	s := NewGraphService(newFakeGraph())

	got, err := s.Authorizations(context.Background(), []string{"App1"}, token.TypeUser, "CN=Jim Bob", "")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 10, 12}, got)

	got, err = s.Authorizations(context.Background(), []string{"App2"}, token.TypeUser, "CN=Jim Bob", "")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 12, 14}, got)
}

func TestGraphService_MissingMember(t *testing.T) {
	got, err := NewGraphService(newFakeGraph()).Authorizations(context.Background(), nil, token.TypeUser, "CN=Nobody", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGraphService_AppAccessMask(t *testing.T) {
	s := NewGraphService(newFakeGraph())
	mask, err := s.AppAccessMask(context.Background(), "App2")
	require.NoError(t, err)
	assert.Equal(t, []int64{13}, mask)

	mask, err = s.AppAccessMask(context.Background(), "App1")
	require.NoError(t, err)
	assert.Empty(t, mask)
}

func TestGraphService_PropagatesErrors(t *testing.T) {
	g := newFakeGraph()
	g.err = sserr.New(sserr.CodeUpstreamUnavailable, "neo4j: down")
	s := NewGraphService(g)

	_, err := s.Authorizations(context.Background(), nil, token.TypeUser, "CN=Jim Bob", "")
	testutil.RequireErrorCode(t, err, sserr.CodeUpstreamUnavailable)
	_, err = s.AppAccessMask(context.Background(), "App2")
	testutil.RequireErrorCode(t, err, sserr.CodeUpstreamUnavailable)
}

func TestGraphService_MalformedRecord(t *testing.T) {
	g := newFakeGraph()
	g.members["USER/CN=Bad"] = &neo4j.Record{Keys: []string{"index"}, Values: []any{"one"}}
	g.members["USER/CN=BadGroup"] = memberRecord(2, true, map[string]any{"id": "x"})
	s := NewGraphService(g)

	_, err := s.Authorizations(context.Background(), nil, token.TypeUser, "CN=Bad", "")
	testutil.RequireErrorCode(t, err, sserr.CodeInternalDatabase)
	_, err = s.Authorizations(context.Background(), nil, token.TypeUser, "CN=BadGroup", "")
	testutil.RequireErrorCode(t, err, sserr.CodeInternalDatabase)
}

// ===========================================================================
// Cached
// ===========================================================================

type memoryCache struct {
	entries map[string][]int64
	fail    error
}

// Fetch reads through like the Redis cache: a failing cache always
// misses and never stores.
func (c *memoryCache) Fetch(ctx context.Context, key string, v any, fill func(context.Context) error) error {
	if ids, ok := c.entries[key]; ok && c.fail == nil {
		*(v.(*[]int64)) = ids
		return nil
	}
	if err := fill(ctx); err != nil {
		return err
	}
	if c.fail == nil {
		c.entries[key] = *(v.(*[]int64))
	}
	return nil
}

func TestCached_ReadsThrough(t *testing.T) {
	g := newFakeGraph()
	c := NewCached(NewGraphService(g), &memoryCache{entries: map[string][]int64{}}, nil)

	first, err := c.Authorizations(context.Background(), []string{"App1"}, token.TypeUser, "CN=Jim Bob", "")
	require.NoError(t, err)
	queries := g.queries

	second, err := c.Authorizations(context.Background(), []string{"App1"}, token.TypeUser, "CN=Jim Bob", "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, queries, g.queries, "second call served from cache")

	_, err = c.Authorizations(context.Background(), []string{"App2"}, token.TypeUser, "CN=Jim Bob", "")
	require.NoError(t, err)
	assert.Greater(t, g.queries, queries, "different chain is a different entry")
}

func TestCached_MaskAndFailures(t *testing.T) {
	g := newFakeGraph()
	mc := &memoryCache{entries: map[string][]int64{}, fail: errors.New("redis down")}
	c := NewCached(NewGraphService(g), mc, nil)

	mask, err := c.AppAccessMask(context.Background(), "App2")
	require.NoError(t, err)
	assert.Equal(t, []int64{13}, mask)

	g.err = sserr.New(sserr.CodeUpstreamUnavailable, "neo4j: down")
	_, err = c.AppAccessMask(context.Background(), "App2")
	testutil.RequireErrorCode(t, err, sserr.CodeUpstreamUnavailable)
}
