package clickhouse

import (
	"context"
	"fmt"
	"time"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse.
// The table is a ReplacingMergeTree, so uniqueness is checked before insert
// and reads use FINAL.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

const selectCandles = `
	SELECT pool_contract, interval, open_time, protocol, token_name, pair_name,
		block_number, open, high, low, close, volume
	FROM candlesticks FINAL
`

// Insert adds a closed candle. Returns ErrDuplicateKey if (pool_contract, interval, open_time) exists.
func (s *CandleStore) Insert(ctx context.Context, c *domain.Candlestick) error {
	return s.InsertBulk(ctx, []*domain.Candlestick{c})
}

// InsertBulk adds multiple candles. Fails entire batch on any duplicate.
func (s *CandleStore) InsertBulk(ctx context.Context, candles []*domain.Candlestick) (err error) {
	if len(candles) == 0 {
		return nil
	}
	defer observe("insert_candles_bulk", time.Now(), &err)

	type key struct {
		pool     string
		interval string
		openTime int64
	}
	seen := make(map[key]struct{}, len(candles))
	for _, c := range candles {
		k := key{c.PoolContract, c.Interval, c.OpenTime}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, c := range candles {
		exists, err := s.exists(ctx, c.PoolContract, c.Interval, c.OpenTime)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candlesticks (
			pool_contract, interval, open_time, protocol, token_name, pair_name,
			block_number, open, high, low, close, volume
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			c.PoolContract, c.Interval, c.OpenTime, string(c.Protocol), c.TokenName, c.PairName,
			c.BlockNumber, c.Open, c.High, c.Low, c.Close, c.Volume,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetLastClosed returns the candle with the highest open_time.
func (s *CandleStore) GetLastClosed(ctx context.Context, pool, interval string) (_ *domain.Candlestick, err error) {
	defer observe("get_last_closed_candle", time.Now(), &err)

	query := selectCandles + `
		WHERE pool_contract = ? AND interval = ?
		ORDER BY open_time DESC
		LIMIT 1
	`

	rows, err := s.conn.Query(ctx, query, pool, interval)
	if err != nil {
		return nil, fmt.Errorf("query last closed candle: %w", err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, storage.ErrNotFound
	}
	return candles[0], nil
}

// GetRange returns candles with open_time in [from, to), ordered by open_time ASC.
func (s *CandleStore) GetRange(ctx context.Context, pool, interval string, from, to int64) (_ []*domain.Candlestick, err error) {
	defer observe("get_candle_range", time.Now(), &err)

	query := selectCandles + `
		WHERE pool_contract = ? AND interval = ? AND open_time >= ? AND open_time < ?
		ORDER BY open_time ASC
	`

	rows, err := s.conn.Query(ctx, query, pool, interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("query candle range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// exists checks if a candle with the given key exists.
func (s *CandleStore) exists(ctx context.Context, pool, interval string, openTime int64) (bool, error) {
	query := `
		SELECT count(*) FROM candlesticks
		WHERE pool_contract = ? AND interval = ? AND open_time = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, pool, interval, openTime).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanCandles scans multiple rows.
func scanCandles(rows chRows) ([]*domain.Candlestick, error) {
	var candles []*domain.Candlestick

	for rows.Next() {
		var (
			c        domain.Candlestick
			protocol string
		)

		err := rows.Scan(
			&c.PoolContract,
			&c.Interval,
			&c.OpenTime,
			&protocol,
			&c.TokenName,
			&c.PairName,
			&c.BlockNumber,
			&c.Open,
			&c.High,
			&c.Low,
			&c.Close,
			&c.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c.Protocol = domain.Protocol(protocol)

		candles = append(candles, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return candles, nil
}
