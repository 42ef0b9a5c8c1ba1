package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/incident-orchestrator/internal/pkg/postgres"
	"github.com/bissquit/incident-orchestrator/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a postgres testcontainer.
type PostgresContainer struct {
	*tcpostgres.PostgresContainer
	ConnectionString string
}

// NewPostgresContainer creates a new PostgreSQL container for testing.
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("get connection string: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		ConnectionString:  connStr,
	}, nil
}

// NewMigratedPostgresContainer starts a container and applies the embedded
// schema migrations.
func NewMigratedPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	c, err := NewPostgresContainer(ctx)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(migrations.FS, c.ConnectionString); err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return c, nil
}

// NewPool connects a pgx pool to the container.
func (c *PostgresContainer) NewPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, c.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return pool, nil
}

// Truncate empties all incident, audit and runbook tables. The audit
// tables refuse DELETE, so TRUNCATE is the only way to reset them.
func Truncate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `TRUNCATE incident_timeline, incidents, audit_entries, runbooks RESTART IDENTITY`)
	if err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	_, err = pool.Exec(ctx, `ALTER SEQUENCE incident_number_seq RESTART WITH 1`)
	if err != nil {
		return fmt.Errorf("reset incident numbers: %w", err)
	}
	return nil
}
