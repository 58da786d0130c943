package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

const startupTimeout = 30 * time.Second

// PostgresContainer is a disposable rule and delivery store.
type PostgresContainer struct {
	*postgres.PostgresContainer
	ConnectionString string
}

// RedisContainer is a disposable dedup backend.
type RedisContainer struct {
	*tcredis.RedisContainer
	Addr string
}

// MailpitContainer is an SMTP sink whose REST API lists received messages.
type MailpitContainer struct {
	testcontainers.Container
	SMTPHost string
	SMTPPort int
	APIHost  string
	APIPort  int
}

// NewPostgresContainer starts PostgreSQL with an empty "alerting" database.
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	c, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("alerting"),
		postgres.WithUsername("alerting"),
		postgres.WithPassword("alerting"),
		// postgres restarts once after init
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	return &PostgresContainer{PostgresContainer: c, ConnectionString: dsn}, nil
}

// NewRedisContainer starts a Redis server.
func NewRedisContainer(ctx context.Context) (*RedisContainer, error) {
	c, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("start redis: %w", err)
	}

	addr, err := c.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		return nil, fmt.Errorf("redis endpoint: %w", err)
	}
	return &RedisContainer{RedisContainer: c, Addr: addr}, nil
}

// NewMailpitContainer starts Mailpit with SMTP on 1025 and the API on 8025.
func NewMailpitContainer(ctx context.Context) (*MailpitContainer, error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "ghcr.io/axllent/mailpit:latest",
			ExposedPorts: []string{"1025/tcp", "8025/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("1025/tcp"),
				wait.ForHTTP("/api/v1/info").WithPort("8025/tcp"),
			).WithDeadline(startupTimeout),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start mailpit: %w", err)
	}

	smtpHost, smtpPort, err := hostPort(ctx, c, "1025/tcp")
	if err != nil {
		return nil, err
	}
	apiHost, apiPort, err := hostPort(ctx, c, "8025/tcp")
	if err != nil {
		return nil, err
	}

	return &MailpitContainer{
		Container: c,
		SMTPHost:  smtpHost,
		SMTPPort:  smtpPort,
		APIHost:   apiHost,
		APIPort:   apiPort,
	}, nil
}

func hostPort(ctx context.Context, c testcontainers.Container, port nat.Port) (string, int, error) {
	host, err := c.Host(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("container host: %w", err)
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		return "", 0, fmt.Errorf("mapped port %s: %w", port, err)
	}
	return host, mapped.Int(), nil
}
