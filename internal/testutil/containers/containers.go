//go:build integration

// Package containers starts the backing services of an ezsecurity
// deployment in Docker for integration tests.
//
// Every helper is gated behind the "integration" build tag so unit test
// builds do not pull in Docker dependencies. Use them only from test files
// carrying the same tag:
//
//	//go:build integration
//
// Each Start function returns a result holding the container and a
// ready-to-use client configuration. The caller terminates the container:
//
//	pg, err := containers.StartPostgres(ctx)
//	if err != nil { ... }
//	defer pg.Container.Terminate(ctx)
//	client, err := postgres.NewClient(ctx, pg.Config)
package containers

import (
	"context"
	"fmt"

	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/StricklySoft/ezsecurity/pkg/clients/minio"
	"github.com/StricklySoft/ezsecurity/pkg/clients/neo4j"
	"github.com/StricklySoft/ezsecurity/pkg/clients/postgres"
	"github.com/StricklySoft/ezsecurity/pkg/clients/redis"
)

// Container images and throwaway credentials.
const (
	PostgresImage    = "docker.io/postgres:16-alpine"
	PostgresDatabase = "ezsecurity_test"
	PostgresUser     = "ezsecurity"
	PostgresPassword = "testpassword"

	RedisImage = "docker.io/redis:7-alpine"

	MinIOImage     = "docker.io/minio/minio:latest"
	MinIOAccessKey = "minioadmin"
	MinIOSecretKey = "minioadmin"
	MinIOBucket    = "ezsecurity-test"

	Neo4jImage    = "docker.io/neo4j:5-community"
	Neo4jUsername = "neo4j"
	Neo4jPassword = "testpassword"
)

// ===========================================================================
// PostgreSQL
// ===========================================================================

// PostgresResult holds a started PostgreSQL container. Config connects
// over the mapped port with sslmode=disable.
type PostgresResult struct {
	Container *tcpostgres.PostgresContainer
	Config    postgres.Config
}

// StartPostgres starts PostgreSQL and waits until it accepts connections.
func StartPostgres(ctx context.Context) (*PostgresResult, error) {
	container, err := tcpostgres.Run(ctx,
		PostgresImage,
		tcpostgres.WithDatabase(PostgresDatabase),
		tcpostgres.WithUsername(PostgresUser),
		tcpostgres.WithPassword(PostgresPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: start postgres: %w", err)
	}
	uri, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: postgres connection string: %w", err)
	}
	cfg := *postgres.DefaultConfig()
	cfg.URI = uri
	cfg.MaxConns = 5
	return &PostgresResult{Container: container, Config: cfg}, nil
}

// ===========================================================================
// Redis
// ===========================================================================

// RedisResult holds a started Redis container without authentication.
type RedisResult struct {
	Container *tcredis.RedisContainer
	Config    redis.Config
}

// StartRedis starts Redis.
func StartRedis(ctx context.Context) (*RedisResult, error) {
	container, err := tcredis.Run(ctx, RedisImage)
	if err != nil {
		return nil, fmt.Errorf("containers: start redis: %w", err)
	}
	uri, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: redis connection string: %w", err)
	}
	cfg := *redis.DefaultConfig()
	cfg.URI = uri
	return &RedisResult{Container: container, Config: cfg}, nil
}

// ===========================================================================
// MinIO
// ===========================================================================

// MinIOResult holds a started MinIO container. Config names
// [MinIOBucket], which the client creates on connect.
type MinIOResult struct {
	Container *tcminio.MinioContainer
	Config    minio.Config
}

// StartMinIO starts MinIO with root credentials.
func StartMinIO(ctx context.Context) (*MinIOResult, error) {
	container, err := tcminio.Run(ctx,
		MinIOImage,
		tcminio.WithUsername(MinIOAccessKey),
		tcminio.WithPassword(MinIOSecretKey),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: start minio: %w", err)
	}
	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: minio endpoint: %w", err)
	}
	cfg := *minio.DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.AccessKey = MinIOAccessKey
	cfg.SecretKey = minio.Secret(MinIOSecretKey)
	cfg.Bucket = MinIOBucket
	return &MinIOResult{Container: container, Config: cfg}, nil
}

// ===========================================================================
// Neo4j
// ===========================================================================

// Neo4jResult holds a started Neo4j Community container.
type Neo4jResult struct {
	Container *tcneo4j.Neo4jContainer
	Config    neo4j.Config
}

// StartNeo4j starts Neo4j with authentication enabled.
func StartNeo4j(ctx context.Context) (*Neo4jResult, error) {
	container, err := tcneo4j.Run(ctx,
		Neo4jImage,
		tcneo4j.WithAdminPassword(Neo4jPassword),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: start neo4j: %w", err)
	}
	boltURL, err := container.BoltUrl(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: neo4j bolt url: %w", err)
	}
	cfg := *neo4j.DefaultConfig()
	cfg.URI = boltURL
	cfg.Username = Neo4jUsername
	cfg.Password = neo4j.Secret(Neo4jPassword)
	return &Neo4jResult{Container: container, Config: cfg}, nil
}
