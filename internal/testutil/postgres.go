// Package testutil starts throwaway PostgreSQL containers carrying the hub schema.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cory-johannsen/tabletop-hub/internal/config"
	"github.com/cory-johannsen/tabletop-hub/internal/storage/postgres"
)

// DefaultImage is used unless HUB_TEST_POSTGRES_IMAGE names another.
const DefaultImage = "postgres:16-alpine"

// hubTables lists every table in dependency order, parents first.
var hubTables = []string{
	"masters", "games", "maps", "characters", "items",
	"fog_erace_points", "audio_files", "video_files",
}

// PostgresContainer is a running database reachable through Pool.
type PostgresContainer struct {
	container testcontainers.Container
	Pool      *postgres.Pool
	RawPool   *pgxpool.Pool
	Config    config.DatabaseConfig
}

// NewPostgresContainer starts an empty database.
//
// Precondition: Docker must be reachable; otherwise, and under -short, the
// test is skipped.
// Postcondition: The container is terminated and the pool closed on test cleanup.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	start := time.Now()
	image := os.Getenv("HUB_TEST_POSTGRES_IMAGE")
	if image == "" {
		image = DefaultImage
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "hub",
				"POSTGRES_PASSWORD": "hub",
				"POSTGRES_DB":       "hub_test",
			},
			// The server restarts once after initdb.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(45 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting %s: %v", image, err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	cfg := config.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		User:            "hub",
		Password:        "hub",
		Name:            "hub_test",
		SSLMode:         "disable",
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
	}
	pool, err := postgres.NewPool(ctx, cfg, postgres.WithConnectRetry(10*time.Second))
	if err != nil {
		t.Fatalf("connecting to %s: %v", image, err)
	}
	t.Cleanup(pool.Close)

	t.Logf("%s ready on %s:%d [%s]", image, host, cfg.Port, time.Since(start))
	return &PostgresContainer{container: container, Pool: pool, RawPool: pool.DB(), Config: cfg}
}

// ApplyMigrations runs every *.up.sql file in name order without the migrate tool.
//
// Postcondition: The hub schema exists in the database.
func (pc *PostgresContainer) ApplyMigrations(t *testing.T) {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(MigrationsDir(t), "*.up.sql"))
	if err != nil || len(files) == 0 {
		t.Fatalf("no up migrations found: %v", err)
	}
	sort.Strings(files)
	for _, f := range files {
		sql, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("reading %s: %v", f, err)
		}
		if _, err := pc.RawPool.Exec(context.Background(), string(sql)); err != nil {
			t.Fatalf("applying %s: %v", filepath.Base(f), err)
		}
	}
}

// Truncate empties every hub table and resets identity sequences.
func (pc *PostgresContainer) Truncate(t *testing.T) {
	t.Helper()
	stmt := "TRUNCATE " + strings.Join(hubTables, ", ") + " RESTART IDENTITY CASCADE"
	if _, err := pc.RawPool.Exec(context.Background(), stmt); err != nil {
		t.Fatalf("truncating: %v", err)
	}
}

// MigrationsDir is the absolute path of the repository's migrations directory.
func MigrationsDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("locating testutil source")
	}
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// DSN is the connection string of the test database.
func (pc *PostgresContainer) DSN() string {
	return pc.Config.DSN()
}
