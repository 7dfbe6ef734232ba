package migrations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"dex-candles/internal/storage/postgres"
)

const createLedger = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT        PRIMARY KEY,
    name       TEXT        NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// RunPostgresMigrations applies every embedded Postgres file not yet recorded
// in schema_migrations. Each file runs in its own transaction together with
// its ledger row.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	files, err := Load(PostgresFS, "postgres")
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createLedger); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return err
	}

	for _, m := range files {
		if applied[m.Version] {
			continue
		}
		if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name)
			return err
		}); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		logger.Info("postgres migration applied", zap.String("file", m.Name))
	}
	return nil
}

func appliedVersions(ctx context.Context, pool *postgres.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan schema_migrations: %w", err)
	}

	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}
