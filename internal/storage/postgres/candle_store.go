package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

// CandleStore implements storage.CandleStore using PostgreSQL.
type CandleStore struct {
	pool *Pool
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(pool *Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

const insertCandle = `
	INSERT INTO candlesticks (
		pool_contract, interval, open_time, protocol, token_name, pair_name,
		block_number, open, high, low, close, volume
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

const selectCandles = `
	SELECT pool_contract, interval, open_time, protocol, token_name, pair_name,
		block_number, open, high, low, close, volume
	FROM candlesticks
`

// Insert adds a closed candle. Returns ErrDuplicateKey if (pool_contract, interval, open_time) exists.
func (s *CandleStore) Insert(ctx context.Context, c *domain.Candlestick) (err error) {
	defer observe("insert_candle", time.Now(), &err)

	_, err = s.pool.Exec(ctx, insertCandle, candleRow(c)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert candle: %w", err)
	}
	return nil
}

// InsertBulk adds multiple candles atomically. Fails entire batch on any duplicate.
func (s *CandleStore) InsertBulk(ctx context.Context, candles []*domain.Candlestick) (err error) {
	if len(candles) == 0 {
		return nil
	}
	defer observe("insert_candles_bulk", time.Now(), &err)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range candles {
		_, err = tx.Exec(ctx, insertCandle, candleRow(c)...)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert candle in bulk: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetLastClosed returns the candle with the highest open_time.
func (s *CandleStore) GetLastClosed(ctx context.Context, pool, interval string) (_ *domain.Candlestick, err error) {
	defer observe("get_last_closed_candle", time.Now(), &err)

	query := selectCandles + `
		WHERE pool_contract = $1 AND interval = $2
		ORDER BY open_time DESC
		LIMIT 1
	`

	c, err := scanCandle(s.pool.QueryRow(ctx, query, pool, interval))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get last closed candle: %w", err)
	}
	return c, nil
}

// GetRange returns candles with open_time in [from, to), ordered by open_time ASC.
func (s *CandleStore) GetRange(ctx context.Context, pool, interval string, from, to int64) (_ []*domain.Candlestick, err error) {
	defer observe("get_candle_range", time.Now(), &err)

	query := selectCandles + `
		WHERE pool_contract = $1 AND interval = $2 AND open_time >= $3 AND open_time < $4
		ORDER BY open_time ASC
	`

	rows, err := s.pool.Query(ctx, query, pool, interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("get candle range: %w", err)
	}
	defer rows.Close()

	var candles []*domain.Candlestick
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return candles, nil
}

func candleRow(c *domain.Candlestick) []any {
	return []any{
		c.PoolContract,
		c.Interval,
		c.OpenTime,
		string(c.Protocol),
		c.TokenName,
		c.PairName,
		int64(c.BlockNumber),
		c.Open,
		c.High,
		c.Low,
		c.Close,
		c.Volume,
	}
}

// scanCandle scans a single candle from a row or the current position of rows.
func scanCandle(row pgx.Row) (*domain.Candlestick, error) {
	var (
		c        domain.Candlestick
		protocol string
		block    int64
	)

	err := row.Scan(
		&c.PoolContract,
		&c.Interval,
		&c.OpenTime,
		&protocol,
		&c.TokenName,
		&c.PairName,
		&block,
		&c.Open,
		&c.High,
		&c.Low,
		&c.Close,
		&c.Volume,
	)
	if err != nil {
		return nil, err
	}
	c.Protocol = domain.Protocol(protocol)
	c.BlockNumber = uint64(block)

	return &c, nil
}
