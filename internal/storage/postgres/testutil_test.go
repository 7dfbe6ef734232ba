package postgres

import (
	"context"
	"io/fs"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a throwaway Postgres, applies the schema and registers
// teardown with t.Cleanup.
func setupTestDB(t *testing.T) *Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("candles"),
		tcpostgres.WithUsername("candles"),
		tcpostgres.WithPassword("candles"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPoolWithOptions(ctx, dsn, PoolOptions{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applySchema(t, ctx, pool)
	return pool
}

// applySchema runs the shipped schema files. The migrations package imports
// this one, so the files are read from disk rather than through it.
func applySchema(t *testing.T, ctx context.Context, pool *Pool) {
	t.Helper()

	schema := os.DirFS("../migrations/postgres")
	files, err := fs.Glob(schema, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files, "no postgres schema files")
	sort.Strings(files)

	for _, file := range files {
		sql, err := fs.ReadFile(schema, file)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, string(sql))
		require.NoError(t, err, "apply %s", file)
	}
}
