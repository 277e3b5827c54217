//go:build integration

// Integration tests for the Neo4j group service. Run with Docker available:
//
//	go test -v -race -tags=integration ./pkg/groups/...
package groups_test

import (
	"context"
	"slices"
	"testing"

	driver "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/StricklySoft/ezsecurity/internal/testutil/containers"
	"github.com/StricklySoft/ezsecurity/pkg/clients/neo4j"
	"github.com/StricklySoft/ezsecurity/pkg/groups"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

const jimBob = "CN=Jim Bob, OU=People, O=EzBake, C=US"

// seedCypher builds two applications, one user and three groups. "secret"
// is reachable by Jim Bob only through App1.
const seedCypher = `
CREATE (jim:Member {type: 'USER', id: $jim, index: 1})
CREATE (app1:Member {type: 'APP', id: 'App1', index: 100})
CREATE (app2:Member {type: 'APP', id: 'App2', index: 101})
CREATE (analysts:Group {id: 10, name: 'analysts'})
CREATE (secret:Group {id: 11, name: 'secret'})
CREATE (team:Group {id: 12, name: 'team'})
CREATE (access:Group {id: 20, name: 'app_access.App1'})
CREATE (jim)-[:MEMBER_OF]->(analysts)
CREATE (jim)-[:MEMBER_OF]->(secret)
CREATE (app1)-[:MEMBER_OF]->(analysts)
CREATE (app1)-[:MEMBER_OF]->(secret)
CREATE (app2)-[:MEMBER_OF]->(analysts)
CREATE (team)-[:CHILD_OF]->(analysts)
CREATE (jim)-[:MEMBER_OF]->(team)
`

func setupGraph(t *testing.T) *groups.GraphService {
	t.Helper()
	ctx := context.Background()

	n, err := containers.StartNeo4j(ctx)
	if err != nil {
		t.Fatalf("start neo4j: %v", err)
	}
	t.Cleanup(func() {
		if err := n.Container.Terminate(ctx); err != nil {
			t.Logf("terminate neo4j: %v", err)
		}
	})

	seed, err := driver.NewDriverWithContext(n.Config.URI,
		driver.BasicAuth(n.Config.Username, n.Config.Password.Value(), ""))
	if err != nil {
		t.Fatalf("seed driver: %v", err)
	}
	defer seed.Close(ctx)
	_, err = driver.ExecuteQuery(ctx, seed, seedCypher, map[string]any{"jim": jimBob},
		driver.EagerResultTransformer, driver.ExecuteQueryWithDatabase(n.Config.Database))
	if err != nil {
		t.Fatalf("seed graph: %v", err)
	}

	client, err := neo4j.NewClient(ctx, n.Config)
	if err != nil {
		t.Fatalf("neo4j client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(ctx) })
	return groups.NewGraphService(client)
}

func TestIntegration_GraphService(t *testing.T) {
	svc := setupGraph(t)
	ctx := context.Background()

	app, err := svc.Authorizations(ctx, nil, token.TypeApp, "App1", "")
	if err != nil {
		t.Fatalf("Authorizations(App1) error: %v", err)
	}
	assertIDs(t, "App1", app, 10, 11, 100)

	user, err := svc.Authorizations(ctx, nil, token.TypeUser, jimBob, "")
	if err != nil {
		t.Fatalf("Authorizations(Jim Bob) error: %v", err)
	}
	assertIDs(t, "Jim Bob", user, 1, 10, 11, 12)

	// App2 is not in "secret", so a chain through it drops group 11.
	viaApp2, err := svc.Authorizations(ctx, []string{"App2"}, token.TypeUser, jimBob, "")
	if err != nil {
		t.Fatalf("Authorizations(Jim Bob via App2) error: %v", err)
	}
	if slices.Contains(viaApp2, 11) {
		t.Errorf("Authorizations via App2 = %v, want group 11 filtered", viaApp2)
	}

	unknown, err := svc.Authorizations(ctx, nil, token.TypeUser, "CN=Nobody", "")
	if err != nil {
		t.Fatalf("Authorizations(unknown) error: %v", err)
	}
	if len(unknown) != 0 {
		t.Errorf("Authorizations(unknown) = %v, want empty", unknown)
	}
}

func TestIntegration_GraphService_AppAccessMask(t *testing.T) {
	svc := setupGraph(t)
	mask, err := svc.AppAccessMask(context.Background(), "App1")
	if err != nil {
		t.Fatalf("AppAccessMask() error: %v", err)
	}
	assertIDs(t, "mask", mask, 20)
}

func assertIDs(t *testing.T, what string, got []int64, want ...int64) {
	t.Helper()
	for _, id := range want {
		if !slices.Contains(got, id) {
			t.Errorf("%s: ids %v missing %d", what, got, id)
		}
	}
}
