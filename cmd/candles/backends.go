package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"dex-candles/internal/candles"
	"dex-candles/internal/config"
	"dex-candles/internal/pipeline"
	"dex-candles/internal/storage"
	chstore "dex-candles/internal/storage/clickhouse"
	"dex-candles/internal/storage/memory"
	"dex-candles/internal/storage/migrations"
	pgstore "dex-candles/internal/storage/postgres"
	redisstore "dex-candles/internal/storage/redis"
)

// backends holds the open database connections selected by the config.
type backends struct {
	pg     *pgstore.Pool
	ch     *chstore.Conn
	redis  *redisstore.Client
	logger *zap.Logger
}

// openBackends connects to every backend the config selects.
func openBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool) (*backends, error) {
	b := &backends{logger: logger}
	s := cfg.Storage

	if s.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, s.PostgresDSN)
		if err != nil {
			return nil, err
		}
		b.pg = pool
		if migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
				b.Close()
				return nil, err
			}
			logger.Info("postgres migrations applied")
		}
	}

	if s.Candles == config.BackendClickhouse {
		var (
			conn *chstore.Conn
			err  error
		)
		if migrate {
			conn, err = migrations.RunClickhouseMigrations(ctx, s.ClickhouseDSN, logger)
		} else {
			conn, err = chstore.NewConn(ctx, s.ClickhouseDSN)
		}
		if err != nil {
			b.Close()
			return nil, err
		}
		b.ch = conn
	}

	if s.Live == config.BackendRedis || cfg.Features.PublishClosedCandles {
		client, err := redisstore.NewClient(ctx, redisstore.Options{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
			Logger:   logger,
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.redis = client
	}

	return b, nil
}

// stores builds the pipeline stores behind their kill switches.
func (b *backends) stores(cfg *config.Config, logger *zap.Logger) (pipeline.Stores, error) {
	var (
		txs  storage.TransactionStore
		cs   storage.CandleStore
		live storage.LiveCandleStore
	)

	if (cfg.Storage.Transactions == config.BackendPostgres || cfg.Storage.Candles == config.BackendPostgres ||
		cfg.Storage.Live == config.BackendPostgres) && b.pg == nil {
		return pipeline.Stores{}, errors.New("postgres backend selected without a connection")
	}

	switch cfg.Storage.Transactions {
	case config.BackendPostgres:
		txs = pgstore.NewTransactionStore(b.pg)
	default:
		txs = memory.NewTransactionStore()
	}

	switch cfg.Storage.Candles {
	case config.BackendPostgres:
		cs = pgstore.NewCandleStore(b.pg)
	case config.BackendClickhouse:
		cs = chstore.NewCandleStore(b.ch)
	default:
		cs = memory.NewCandleStore()
	}

	switch cfg.Storage.Live {
	case config.BackendPostgres:
		live = pgstore.NewLiveCandleStore(b.pg)
	case config.BackendRedis:
		live = redisstore.NewLiveCandleStore(b.redis)
	default:
		live = memory.NewLiveCandleStore()
	}

	f := cfg.Features
	return pipeline.Stores{
		Transactions: storage.NewGatedTransactionStore(txs, f.AllowTransactionInsertion, logger),
		Candles:      storage.NewGatedCandleStore(cs, f.AllowCandlestickInsertion, logger),
		LiveCandles:  storage.NewGatedLiveCandleStore(live, f.ModifyLiveCandles, logger),
	}, nil
}

// catalog returns the catalog store, or nil when update_info is off.
func (b *backends) catalog(cfg *config.Config) storage.CatalogStore {
	if !cfg.Features.UpdateInfo {
		return nil
	}
	if b.pg != nil {
		return pgstore.NewCatalogStore(b.pg)
	}
	return memory.NewCatalogStore()
}

// notifier returns the closed candle publisher, or nil when publication is off.
func (b *backends) notifier(cfg *config.Config) candles.Notifier {
	if !cfg.Features.PublishClosedCandles || b.redis == nil {
		return nil
	}
	return redisstore.NewPublisher(b.redis)
}

// Close releases every open connection.
func (b *backends) Close() {
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			b.logger.Warn("close redis", zap.Error(err))
		}
	}
	if b.ch != nil {
		if err := b.ch.Close(); err != nil {
			b.logger.Warn("close clickhouse", zap.Error(err))
		}
	}
	if b.pg != nil {
		b.pg.Close()
	}
}

// runMigrations applies the embedded schema to every configured SQL backend.
func runMigrations(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	applied := 0

	if cfg.Storage.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
			return err
		}
		logger.Info("postgres migrations applied")
		applied++
	}

	if cfg.Storage.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN, logger)
		if err != nil {
			return err
		}
		conn.Close()
		logger.Info("clickhouse migrations applied")
		applied++
	}

	if applied == 0 {
		return errors.New("no postgres_dsn or clickhouse_dsn configured")
	}
	return nil
}
