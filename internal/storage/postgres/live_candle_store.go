package postgres

import (
	"context"
	"fmt"
	"time"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

// LiveCandleStore implements storage.LiveCandleStore using PostgreSQL.
type LiveCandleStore struct {
	pool *Pool
}

// NewLiveCandleStore creates a new LiveCandleStore.
func NewLiveCandleStore(pool *Pool) *LiveCandleStore {
	return &LiveCandleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LiveCandleStore = (*LiveCandleStore)(nil)

// Upsert overwrites every field of the row, creating it if missing.
func (s *LiveCandleStore) Upsert(ctx context.Context, c *domain.LiveCandlestick) (err error) {
	defer observe("upsert_live_candle", time.Now(), &err)

	query := `
		INSERT INTO live_candlesticks (
			pool_contract, interval, open_time, open, high, low, close, volume
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (pool_contract, interval) DO UPDATE SET
			open_time = EXCLUDED.open_time,
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			updated_at = NOW()
	`

	_, err = s.pool.Exec(ctx, query,
		c.PoolContract, c.Interval, c.OpenTime,
		c.Open, c.High, c.Low, c.Close, c.Volume,
	)
	if err != nil {
		return fmt.Errorf("upsert live candle: %w", err)
	}
	return nil
}

// Merge atomically folds m into the row whose open_time equals openTime.
// A single UPDATE evaluates every SET expression against the old row.
func (s *LiveCandleStore) Merge(ctx context.Context, pool, interval string, openTime int64, m domain.LiveCandleMerge) (err error) {
	defer observe("merge_live_candle", time.Now(), &err)

	query := `
		UPDATE live_candlesticks SET
			open = CASE WHEN open = 0 AND volume = 0 THEN $4 ELSE open END,
			high = CASE WHEN open = 0 AND volume = 0 THEN $5 ELSE GREATEST(high, $5) END,
			low = CASE WHEN open = 0 AND volume = 0 THEN $6 ELSE LEAST(low, $6) END,
			close = $7,
			volume = volume + $8,
			updated_at = NOW()
		WHERE pool_contract = $1 AND interval = $2 AND open_time = $3
	`

	tag, err := s.pool.Exec(ctx, query,
		pool, interval, openTime,
		m.Open, m.High, m.Low, m.Close, m.VolumeDelta,
	)
	if err != nil {
		return fmt.Errorf("merge live candle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Get returns the row. Returns ErrNotFound if it was never seeded.
func (s *LiveCandleStore) Get(ctx context.Context, pool, interval string) (_ *domain.LiveCandlestick, err error) {
	defer observe("get_live_candle", time.Now(), &err)

	query := `
		SELECT pool_contract, interval, open_time, open, high, low, close, volume
		FROM live_candlesticks
		WHERE pool_contract = $1 AND interval = $2
	`

	var c domain.LiveCandlestick
	err = s.pool.QueryRow(ctx, query, pool, interval).Scan(
		&c.PoolContract,
		&c.Interval,
		&c.OpenTime,
		&c.Open,
		&c.High,
		&c.Low,
		&c.Close,
		&c.Volume,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get live candle: %w", err)
	}
	return &c, nil
}
