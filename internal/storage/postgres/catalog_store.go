package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

// CatalogStore implements storage.CatalogStore using PostgreSQL.
// Each Replace call swaps a whole table inside one transaction.
type CatalogStore struct {
	pool *Pool
}

// NewCatalogStore creates a new CatalogStore.
func NewCatalogStore(pool *Pool) *CatalogStore {
	return &CatalogStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CatalogStore = (*CatalogStore)(nil)

// ReplaceIntervals replaces the interval table.
func (s *CatalogStore) ReplaceIntervals(ctx context.Context, intervals []domain.Interval) (err error) {
	defer observe("replace_intervals", time.Now(), &err)

	batch := &pgx.Batch{}
	for _, iv := range intervals {
		batch.Queue(`
			INSERT INTO intervals (name, seconds, trading_view, hours, minutes)
			VALUES ($1, $2, $3, $4, $5)
		`, iv.Name, iv.Seconds, iv.TradingView, toInt32s(iv.Hours), toInt32s(iv.Minutes))
	}
	return s.replace(ctx, "intervals", batch)
}

// ReplacePools replaces the pool table.
func (s *CatalogStore) ReplacePools(ctx context.Context, pools []domain.Pool) (err error) {
	defer observe("replace_pools", time.Now(), &err)

	batch := &pgx.Batch{}
	for _, p := range pools {
		batch.Queue(`
			INSERT INTO pools (
				pool_contract, protocol, pool_ratio, token_name, token_contract, token_decimals,
				pair_name, pair_contract, pair_decimals, inverse_price, from_block
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			p.PoolContract, string(p.Protocol), p.PoolRatio,
			p.TokenName, p.TokenContract, p.TokenDecimals,
			p.PairName, p.PairContract, p.PairDecimals,
			p.InversePrice, int64(p.FromBlock),
		)
	}
	return s.replace(ctx, "pools", batch)
}

// ReplaceProtocols replaces the protocol table.
func (s *CatalogStore) ReplaceProtocols(ctx context.Context, protocols []domain.ProtocolInfo) (err error) {
	defer observe("replace_protocols", time.Now(), &err)

	batch := &pgx.Batch{}
	for _, p := range protocols {
		batch.Queue(`
			INSERT INTO protocols (name, display_name, event_name)
			VALUES ($1, $2, $3)
		`, string(p.Name), p.DisplayName, p.EventName)
	}
	return s.replace(ctx, "protocols", batch)
}

// replace empties table and runs the queued inserts atomically.
func (s *CatalogStore) replace(ctx context.Context, table string, batch *pgx.Batch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM "+pgx.Identifier{table}.Sanitize()); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}

	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func toInt32s(vals []int) []int32 {
	out := make([]int32, len(vals))
	for i, v := range vals {
		out[i] = int32(v)
	}
	return out
}
