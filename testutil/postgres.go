// Package testutil starts PostgreSQL test containers for the catalog and
// orchestrator integration tests; each SetupTestPostgres call starts its
// own container.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const defaultPostgresImage = "postgres:17-alpine"

// TestPostgres wraps a running container and a connection to it.
type TestPostgres struct {
	container *postgres.PostgresContainer
	Conn      *sql.DB
	DSN       string
}

// SetupTestPostgres starts a fresh PostgreSQL container and returns a
// connection to it. Callers should defer Terminate.
func SetupTestPostgres(ctx context.Context, t *testing.T) *TestPostgres {
	t.Helper()

	image := os.Getenv("PGMERGE_TEST_POSTGRES_IMAGE")
	if image == "" {
		image = defaultPostgresImage
	}

	ctr, err := postgres.Run(ctx, image,
		postgres.WithDatabase("pgmerge_test"),
		postgres.WithUsername("pgmerge"),
		postgres.WithPassword("pgmerge"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("reading container connection string: %v", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("opening test connection: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("pinging test database: %v", err)
	}

	return &TestPostgres{container: ctr, Conn: db, DSN: dsn}
}

// Terminate closes the connection and stops the container.
func (tp *TestPostgres) Terminate(ctx context.Context, t *testing.T) {
	if tp.Conn != nil {
		tp.Conn.Close()
	}
	if err := tp.container.Terminate(ctx); err != nil && t != nil {
		t.Logf("terminating postgres container: %v", err)
	}
}

// ResetSchema drops and recreates a schema so successive tests in a
// shared-container suite start from a clean slate.
func (tp *TestPostgres) ResetSchema(ctx context.Context, schema string) error {
	if _, err := tp.Conn.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %q CASCADE", schema)); err != nil {
		return fmt.Errorf("dropping schema %s: %w", schema, err)
	}
	if _, err := tp.Conn.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %q", schema)); err != nil {
		return fmt.Errorf("creating schema %s: %w", schema, err)
	}
	return nil
}

// ApplyDDL creates the schema if needed and executes the given DDL
// against it, leaving search_path pointed at the schema.
func (tp *TestPostgres) ApplyDDL(ctx context.Context, schema, ddl string) error {
	if _, err := tp.Conn.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", schema)); err != nil {
		return fmt.Errorf("creating schema %s: %w", schema, err)
	}
	if _, err := tp.Conn.ExecContext(ctx, fmt.Sprintf("SET search_path TO %q", schema)); err != nil {
		return fmt.Errorf("setting search_path: %w", err)
	}
	if _, err := tp.Conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("applying ddl: %w", err)
	}
	return nil
}
