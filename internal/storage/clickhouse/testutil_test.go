package clickhouse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a ClickHouse server with the candle schema applied.
// Teardown is registered with t.Cleanup.
func setupTestDB(t *testing.T) *Conn {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.8-alpine",
		ExposedPorts: []string{"9000/tcp", "8123/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Application: Ready for connections").
				WithStartupTimeout(60*time.Second),
			wait.ForListeningPort("9000/tcp"),
		),
		Env: map[string]string{
			"CLICKHOUSE_DB":       "candles",
			"CLICKHOUSE_USER":     "default",
			"CLICKHOUSE_PASSWORD": "",
		},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	dsn := fmt.Sprintf("clickhouse://%s:%s/candles", host, port.Port())

	conn, err := NewConn(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	runMigrations(t, conn)
	return conn
}

// runMigrations applies the schema files shipped with the migrations package.
func runMigrations(t *testing.T, conn *Conn) {
	t.Helper()
	ctx := context.Background()

	files, err := filepath.Glob(filepath.Join("..", "migrations", "clickhouse", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "no clickhouse migrations found")
	sort.Strings(files)

	for _, f := range files {
		content, err := os.ReadFile(f)
		require.NoError(t, err)

		for _, stmt := range strings.Split(string(content), ";") {
			if !hasStatement(stmt) {
				continue
			}
			require.NoError(t, conn.Exec(ctx, stmt), "failed to apply migration %s", f)
		}
	}
}

// hasStatement reports whether chunk holds anything besides comments and whitespace.
func hasStatement(chunk string) bool {
	for _, line := range strings.Split(chunk, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
			return true
		}
	}
	return false
}
