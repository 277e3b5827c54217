package groups

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/ezsecurity/internal/tracing"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

const tracerName = "github.com/StricklySoft/ezsecurity/pkg/groups"

// Graph runs read-only Cypher. *neo4j.Client from pkg/clients/neo4j
// satisfies it.
type Graph interface {
	ExecuteRead(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error)
}

// The graph stores users and applications as (:Member {type, id, index,
// active}) nodes joined to (:Group {id, name, active, requireOnlyUser,
// requireOnlyApp}) nodes by MEMBER_OF edges. Membership is transitive
// through CHILD_OF edges between groups.
const (
	memberCypher = `MATCH (m:Member {type: $type, id: $id})
OPTIONAL MATCH (m)-[:MEMBER_OF]->(:Group)-[:CHILD_OF*0..]->(g:Group)
WHERE coalesce(g.active, true)
WITH m, collect(DISTINCT g) AS gs
RETURN m.index AS index, coalesce(m.active, true) AS active,
  [g IN gs | {id: g.id, name: g.name,
    requireOnlyUser: coalesce(g.requireOnlyUser, false),
    requireOnlyApp: coalesce(g.requireOnlyApp, false)}] AS groups`

	maskCypher = `MATCH (g:Group {name: $name})
WHERE coalesce(g.active, true)
RETURN g.id AS id`
)

// GraphService reads group membership from Neo4j.
type GraphService struct {
	graph  Graph
	tracer trace.Tracer
}

var _ Service = (*GraphService)(nil)

// NewGraphService returns a Service backed by graph.
func NewGraphService(graph Graph) *GraphService {
	return &GraphService{graph: graph, tracer: otel.Tracer(tracerName)}
}

// Authorizations implements [Service].
func (s *GraphService) Authorizations(ctx context.Context, chain []string, typ token.Type, subject, _ string) (ids []int64, err error) {
	ctx, span := s.tracer.Start(ctx, "groups.authorizations",
		trace.WithAttributes(
			attribute.String("ezsecurity.subject_type", string(typ)),
			attribute.Int("ezsecurity.chain_length", len(chain)),
		))
	defer func() { tracing.End(span, err) }()
	return authorizations(ctx, s, chain, typ, subject)
}

// AppAccessMask implements [Service].
func (s *GraphService) AppAccessMask(ctx context.Context, app string) (mask []int64, err error) {
	ctx, span := s.tracer.Start(ctx, "groups.app_access_mask",
		trace.WithAttributes(attribute.String("ezsecurity.app", app)))
	defer func() { tracing.End(span, err) }()

	records, err := s.graph.ExecuteRead(ctx, maskCypher, map[string]any{"name": AppAccessPrefix + app})
	if err != nil {
		return nil, err
	}
	mask = make([]int64, 0, len(records))
	for _, rec := range records {
		id, err := recordInt(rec, "id")
		if err != nil {
			return nil, err
		}
		mask = append(mask, id)
	}
	return mask, nil
}

func (s *GraphService) member(ctx context.Context, typ token.Type, id string) (*Member, error) {
	records, err := s.graph.ExecuteRead(ctx, memberCypher, map[string]any{"type": string(typ), "id": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	rec := records[0]
	index, err := recordInt(rec, "index")
	if err != nil {
		return nil, err
	}
	m := &Member{Index: index, Active: true}
	if v, ok := rec.Get("active"); ok {
		if b, ok := v.(bool); ok {
			m.Active = b
		}
	}
	raw, _ := rec.Get("groups")
	list, _ := raw.([]any)
	for _, item := range list {
		g, err := decodeGroup(item)
		if err != nil {
			return nil, err
		}
		m.Groups = append(m.Groups, g)
	}
	return m, nil
}

func decodeGroup(v any) (Group, error) {
	props, ok := v.(map[string]any)
	if !ok {
		return Group{}, sserr.Newf(sserr.CodeInternalDatabase, "groups: unexpected group value %T", v)
	}
	id, ok := props["id"].(int64)
	if !ok {
		return Group{}, sserr.Newf(sserr.CodeInternalDatabase, "groups: group id is %T, want int64", props["id"])
	}
	g := Group{ID: id}
	g.Name, _ = props["name"].(string)
	g.RequireOnlyUser, _ = props["requireOnlyUser"].(bool)
	g.RequireOnlyApp, _ = props["requireOnlyApp"].(bool)
	return g, nil
}

func recordInt(rec *neo4j.Record, key string) (int64, error) {
	v, ok := rec.Get(key)
	if !ok {
		return 0, sserr.Newf(sserr.CodeInternalDatabase, "groups: record has no %q column", key)
	}
	n, ok := v.(int64)
	if !ok {
		return 0, sserr.Newf(sserr.CodeInternalDatabase, "groups: column %q is %T, want int64", key, v)
	}
	return n, nil
}
