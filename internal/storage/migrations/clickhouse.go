package migrations

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	chstore "dex-candles/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the DSN's database if needed, applies the
// embedded ClickHouse files statement by statement and returns a connection
// to that database. The files only use IF NOT EXISTS DDL, so reruns are safe.
func RunClickhouseMigrations(ctx context.Context, dsn string, logger *zap.Logger) (*chstore.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	files, err := Load(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}
	database, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := createDatabase(ctx, dsn, database); err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, database)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse %s: %w", database, err)
	}

	for _, m := range files {
		// the native protocol takes one statement per Exec
		for _, stmt := range SplitStatements(m.SQL) {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
		}
		logger.Info("clickhouse migration applied", zap.String("file", m.Name))
	}
	return conn, nil
}

func createDatabase(ctx context.Context, dsn, database string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse admin: %w", err)
	}
	defer admin.Close()

	if err := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS `"+database+"`"); err != nil {
		return fmt.Errorf("create database %s: %w", database, err)
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	database := strings.Trim(u.Path, "/")
	if database == "" {
		return "", errors.New("clickhouse dsn has no database")
	}
	if strings.ContainsAny(database, "`/") {
		return "", fmt.Errorf("invalid clickhouse database name %q", database)
	}
	return database, nil
}
