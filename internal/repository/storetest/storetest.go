// Package storetest opens every ticket store backend for tests that must hold
// on all of them.
package storetest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/queue-service/internal/config"
	"github.com/spec-kit/queue-service/internal/persistence"
	"github.com/spec-kit/queue-service/internal/repository"
)

// PostgresDSNEnv names the variable that enables the postgres backend.
const PostgresDSNEnv = "POSTGRES_TEST_DSN"

// Factory opens an empty store for one test.
type Factory func(t *testing.T) repository.TicketStore

// Backends returns a factory per available backend. Memory and SQLite are
// always present; postgres joins when PostgresDSNEnv is set. migrationsDir is
// relative to the calling package.
func Backends(t *testing.T, migrationsDir string) map[string]Factory {
	t.Helper()
	factories := map[string]Factory{
		"memory": func(t *testing.T) repository.TicketStore {
			return repository.NewMemoryTicketStore()
		},
		"sqlite": SQLite,
	}
	if dsn := os.Getenv(PostgresDSNEnv); dsn != "" {
		factories["postgres"] = func(t *testing.T) repository.TicketStore {
			return postgres(t, dsn, migrationsDir)
		}
	}
	return factories
}

// SQLite opens a file-backed store under t.TempDir.
func SQLite(t *testing.T) repository.TicketStore {
	t.Helper()
	db, err := persistence.OpenSQLite(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "queue.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return repository.NewSQLiteTicketStore(db.DB, db.Read)
}

// postgres migrates a throwaway schema so packages testing in parallel do not
// see each other's rows.
func postgres(t *testing.T, dsn, migrationsDir string) repository.TicketStore {
	t.Helper()
	ctx := context.Background()
	schema := "queue_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		_ = admin.Close(context.Background())
	})

	pg, err := persistence.NewPostgres(ctx, config.PostgresConfig{DSN: withSearchPath(dsn, schema), MaxConns: 16}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pg.Close)
	require.NoError(t, persistence.RunMigrations(ctx, pg.PoolHandle(), migrationsDir, zap.NewNop()))
	return repository.NewPostgresTicketStore(pg.PoolHandle())
}

func withSearchPath(dsn, schema string) string {
	if !strings.Contains(dsn, "://") {
		return dsn + " search_path=" + schema
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&search_path=" + schema
	}
	return dsn + "?search_path=" + schema
}
