// Package testutil provides integration test helpers for the Postgres and
// Redis document stores, plus a line-protocol client for transport tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cory-johannsen/stylesync/internal/config"
	"github.com/cory-johannsen/stylesync/internal/storage/postgres"
)

// DockerEnv opts integration tests into starting their own containers when
// TEST_DSN / TEST_REDIS_URL are not provided.
const DockerEnv = "TEST_DOCKER"

// PostgresContainer wraps a testcontainers PostgreSQL instance.
type PostgresContainer struct {
	container testcontainers.Container
	Pool      *postgres.Pool
	RawPool   *pgxpool.Pool
	Config    config.DatabaseConfig
}

// NewPostgresContainer starts a PostgreSQL test container and returns
// a connected Pool.
//
// Precondition: Docker must be available.
// Postcondition: Returns a running container with a connected pool,
// or fails the test.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "stylesync_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v [%s]", err, time.Since(start))
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	dbCfg := config.DatabaseConfig{
		Host:            host,
		Port:            mappedPort.Int(),
		User:            "test",
		Password:        "test",
		Name:            "stylesync_test",
		SSLMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
	}

	pool, err := postgres.NewPool(ctx, dbCfg)
	if err != nil {
		t.Fatalf("connecting to test postgres: %v [%s]", err, time.Since(start))
	}
	t.Cleanup(pool.Close)

	t.Logf("postgres container started [%s]", time.Since(start))
	return &PostgresContainer{
		container: container,
		Pool:      pool,
		RawPool:   pool.DB(),
		Config:    dbCfg,
	}
}

// ApplyMigrations runs every *.up.sql file under migrations/ in name order.
//
// Precondition: Pool must be connected.
// Postcondition: The room tables exist in the test database.
func (pc *PostgresContainer) ApplyMigrations(t *testing.T) {
	t.Helper()
	applyMigrations(t, pc.RawPool)
}

// DSN returns the connection string for the test database.
func (pc *PostgresContainer) DSN() string {
	return pc.Config.DSN()
}

// NewPool returns a pool bound to a fresh, migrated schema that is dropped on
// cleanup, so concurrently running test packages never see each other's rows.
// It uses TEST_DSN when set, starts a container when TEST_DOCKER is set, and
// skips the test otherwise.
func NewPool(t *testing.T) *postgres.Pool {
	t.Helper()
	ctx := context.Background()

	var dsn string
	switch {
	case os.Getenv("TEST_DSN") != "":
		dsn = os.Getenv("TEST_DSN")
	case os.Getenv(DockerEnv) != "":
		dsn = NewPostgresContainer(t).DSN()
	default:
		t.Skip("TEST_DSN not set; skipping integration test")
	}

	admin, err := postgres.NewPoolFromDSN(ctx, dsn, nil)
	if err != nil {
		t.Fatalf("connecting to test DB: %v", err)
	}
	t.Cleanup(admin.Close)

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := admin.DB().Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("creating schema %s: %v", schema, err)
	}
	t.Cleanup(func() {
		_, _ = admin.DB().Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
	})

	pool, err := postgres.NewPoolFromDSN(ctx, dsn, func(pc *pgxpool.Config) {
		pc.ConnConfig.RuntimeParams["search_path"] = schema
	})
	if err != nil {
		t.Fatalf("connecting to test schema: %v", err)
	}
	t.Cleanup(pool.Close)

	applyMigrations(t, pool.DB())
	return pool
}

func applyMigrations(t *testing.T, db *pgxpool.Pool) {
	t.Helper()
	start := time.Now()

	files, err := filepath.Glob(filepath.Join(MigrationsDir(), "*.up.sql"))
	if err != nil {
		t.Fatalf("listing migrations: %v", err)
	}
	if len(files) == 0 {
		t.Fatalf("no migrations found in %s", MigrationsDir())
	}
	sort.Strings(files)
	for _, f := range files {
		sql, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("reading migration %s: %v", f, err)
		}
		if _, err := db.Exec(context.Background(), string(sql)); err != nil {
			t.Fatalf("applying migration %s: %v", filepath.Base(f), err)
		}
	}
	t.Logf("migrations applied [%s]", time.Since(start))
}

// MigrationsDir returns the absolute path of the repository's migrations directory.
func MigrationsDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		panic("testutil: cannot locate migrations directory")
	}
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}
