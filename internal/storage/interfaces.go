package storage

import (
	"context"

	"dex-candles/internal/domain"
)

// TransactionStore provides access to normalized swap transactions.
type TransactionStore interface {
	// Insert adds a transaction. Returns ErrDuplicateKey if (pool_contract, block_number, log_index) exists.
	Insert(ctx context.Context, tx *domain.Transaction) error

	// InsertBulk adds multiple transactions atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, txs []*domain.Transaction) error

	// GetLast returns the highest (block_number, log_index) transaction of a pool.
	// Returns ErrNotFound if the pool has none.
	GetLast(ctx context.Context, pool string) (*domain.Transaction, error)

	// GetFromBlock returns transactions with block_number >= fromBlock,
	// ordered by (block_number, log_index) ASC.
	GetFromBlock(ctx context.Context, pool string, fromBlock uint64) ([]*domain.Transaction, error)

	// GetInBlock returns the transactions of a single block ordered by log_index ASC.
	GetInBlock(ctx context.Context, pool string, block uint64) ([]*domain.Transaction, error)
}

// CandleStore provides access to closed candlesticks. Append-only.
type CandleStore interface {
	// Insert adds a closed candle. Returns ErrDuplicateKey if (pool_contract, interval, open_time) exists.
	Insert(ctx context.Context, c *domain.Candlestick) error

	// InsertBulk adds multiple candles atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, candles []*domain.Candlestick) error

	// GetLastClosed returns the candle with the highest open_time.
	// Returns ErrNotFound if none exists.
	GetLastClosed(ctx context.Context, pool, interval string) (*domain.Candlestick, error)

	// GetRange returns candles with open_time in [from, to), ordered by open_time ASC.
	GetRange(ctx context.Context, pool, interval string, from, to int64) ([]*domain.Candlestick, error)
}

// LiveCandleStore holds the single open candle per (pool, interval).
type LiveCandleStore interface {
	// Upsert overwrites every field of the row, creating it if missing.
	Upsert(ctx context.Context, c *domain.LiveCandlestick) error

	// Merge atomically folds m into the row whose open_time equals openTime.
	// Returns ErrNotFound when no such row exists, e.g. after a re-seed moved it forward.
	Merge(ctx context.Context, pool, interval string, openTime int64, m domain.LiveCandleMerge) error

	// Get returns the row. Returns ErrNotFound if it was never seeded.
	Get(ctx context.Context, pool, interval string) (*domain.LiveCandlestick, error)
}

// CatalogStore publishes the static description of what the service tracks.
type CatalogStore interface {
	// ReplaceIntervals replaces the interval table.
	ReplaceIntervals(ctx context.Context, intervals []domain.Interval) error

	// ReplacePools replaces the pool table.
	ReplacePools(ctx context.Context, pools []domain.Pool) error

	// ReplaceProtocols replaces the protocol table.
	ReplaceProtocols(ctx context.Context, protocols []domain.ProtocolInfo) error
}
