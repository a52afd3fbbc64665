// Package testutil starts a migrated PostgreSQL container for integration tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ad-tracker/youtube-stats-collector/internal/db"
)

const (
	testDatabase = "ytstats_test"
	testUser     = "test"
	testPassword = "test"
	postgresImg  = "postgres:17-alpine"
)

// collectorTables lists every table of the schema, children first.
var collectorTables = []string{"video_stats", "video_schedule", "videos", "channels", "bin_ticks", "api_quota_usage"}

// TestDatabase is a running container with the schema applied.
type TestDatabase struct {
	Pool      *pgxpool.Pool
	Container *postgres.PostgresContainer
	ConnStr   string
}

// SetupTestDatabase starts PostgreSQL, applies migrationsDir (relative to the
// calling package) and connects through db.NewPool. The container is removed
// when the test ends.
func SetupTestDatabase(t *testing.T, migrationsDir string) *TestDatabase {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		postgresImg,
		postgres.WithDatabase(testDatabase),
		postgres.WithUsername(testUser),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	td := &TestDatabase{Container: container}
	t.Cleanup(func() { td.Cleanup(t) })

	td.ConnStr, err = container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, ApplyMigrations(td.ConnStr, migrationsDir))

	td.Pool, err = db.NewPool(ctx, &db.Config{URL: td.ConnStr, MaxConns: 4})
	require.NoError(t, err)

	return td
}

// ApplyMigrations runs every up migration in dir against connStr.
func ApplyMigrations(connStr, dir string) error {
	path, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", path), connStr)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Cleanup closes the pool and terminates the container. It is safe to call twice.
func (td *TestDatabase) Cleanup(t *testing.T) {
	db.Close(td.Pool)
	td.Pool = nil

	if td.Container != nil {
		require.NoError(t, td.Container.Terminate(context.Background()))
		td.Container = nil
	}
}

// TruncateTables empties the schema between subtests.
func (td *TestDatabase) TruncateTables(t *testing.T) {
	ctx := context.Background()

	// The immutability trigger on video_stats does not fire in replica mode.
	_, err := td.Pool.Exec(ctx, "SET session_replication_role = replica")
	require.NoError(t, err)

	query := "TRUNCATE TABLE "
	for i, table := range collectorTables {
		if i > 0 {
			query += ", "
		}
		query += table
	}
	_, err = td.Pool.Exec(ctx, query+" RESTART IDENTITY CASCADE")
	require.NoError(t, err)

	_, err = td.Pool.Exec(ctx, "SET session_replication_role = DEFAULT")
	require.NoError(t, err)
}
