//go:build integration

// Integration tests for the encrypted cache against a real Redis. Run with
// Docker available:
//
//	go test -v -race -tags=integration ./pkg/cache/...
package cache_test

import (
	"context"
	"testing"
	"time"

	"filippo.io/age"

	"github.com/StricklySoft/ezsecurity/internal/testutil/containers"
	"github.com/StricklySoft/ezsecurity/pkg/cache"
	"github.com/StricklySoft/ezsecurity/pkg/clients/redis"
)

type user struct {
	DN    string
	Auths []string
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	r, err := containers.StartRedis(ctx)
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() {
		if err := r.Container.Terminate(ctx); err != nil {
			t.Logf("terminate redis: %v", err)
		}
	})

	client, err := redis.NewClient(ctx, r.Config)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// TestIntegration_Cache_SharedIdentity verifies that two instances holding
// the same identity read each other's entries and that invalidation on one
// is seen by the other.
func TestIntegration_Cache_SharedIdentity(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	cfg := cache.Config{TTL: time.Minute, Identity: redis.Secret(id.String())}
	a, err := cache.New(client, cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	b, err := cache.New(client, cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	in := user{DN: "CN=Jim Bob", Auths: []string{"42six", "ezbake"}}
	if err := a.Store(ctx, "users", in.DN, in); err != nil {
		t.Fatalf("Store() error: %v", err)
	}

	var out user
	found, err := b.Load(ctx, "users", in.DN, &out)
	if err != nil || !found {
		t.Fatalf("Load() = %v, %v; want hit", found, err)
	}
	if out.DN != in.DN || len(out.Auths) != 2 {
		t.Errorf("Load() = %+v, want %+v", out, in)
	}

	if err := b.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate() error: %v", err)
	}
	found, err = a.Load(ctx, "users", in.DN, &out)
	if err != nil {
		t.Fatalf("Load() after invalidate error: %v", err)
	}
	if found {
		t.Error("Load() hit after Invalidate, want miss")
	}
}

// TestIntegration_Cache_ForeignIdentity verifies that an instance with a
// different identity cannot read entries it did not write.
func TestIntegration_Cache_ForeignIdentity(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	a, err := cache.New(client, cache.Config{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	b, err := cache.New(client, cache.Config{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := a.Store(ctx, "users", "CN=Jim Bob", user{DN: "CN=Jim Bob"}); err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	var out user
	found, err := b.Load(ctx, "users", "CN=Jim Bob", &out)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if found {
		t.Error("foreign instance read an entry it cannot decrypt")
	}
}
