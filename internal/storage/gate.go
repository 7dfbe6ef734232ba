package storage

import (
	"context"

	"go.uber.org/zap"

	"dex-candles/internal/domain"
)

// Kill switches. A gated store forwards reads unconditionally; writes become
// no-ops when the switch is off. Skipped writes are not errors.

// GatedTransactionStore drops transaction writes unless Enabled is set.
type GatedTransactionStore struct {
	TransactionStore
	Enabled bool
	Logger  *zap.Logger
}

// NewGatedTransactionStore wraps store behind the allow_transaction_insertion switch.
func NewGatedTransactionStore(store TransactionStore, enabled bool, logger *zap.Logger) *GatedTransactionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatedTransactionStore{TransactionStore: store, Enabled: enabled, Logger: logger}
}

func (s *GatedTransactionStore) Insert(ctx context.Context, tx *domain.Transaction) error {
	if !s.Enabled {
		s.Logger.Debug("transaction insertion disabled, skipping write",
			zap.String("pool", tx.PoolContract), zap.Uint64("block", tx.BlockNumber))
		return nil
	}
	return s.TransactionStore.Insert(ctx, tx)
}

func (s *GatedTransactionStore) InsertBulk(ctx context.Context, txs []*domain.Transaction) error {
	if !s.Enabled {
		s.Logger.Debug("transaction insertion disabled, skipping bulk write", zap.Int("count", len(txs)))
		return nil
	}
	return s.TransactionStore.InsertBulk(ctx, txs)
}

// GatedCandleStore drops closed-candle writes unless Enabled is set.
type GatedCandleStore struct {
	CandleStore
	Enabled bool
	Logger  *zap.Logger
}

// NewGatedCandleStore wraps store behind the allow_candlestick_insertion switch.
func NewGatedCandleStore(store CandleStore, enabled bool, logger *zap.Logger) *GatedCandleStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatedCandleStore{CandleStore: store, Enabled: enabled, Logger: logger}
}

func (s *GatedCandleStore) Insert(ctx context.Context, c *domain.Candlestick) error {
	if !s.Enabled {
		s.Logger.Debug("candlestick insertion disabled, skipping write",
			zap.String("pool", c.PoolContract), zap.String("interval", c.Interval), zap.Int64("open_time", c.OpenTime))
		return nil
	}
	return s.CandleStore.Insert(ctx, c)
}

func (s *GatedCandleStore) InsertBulk(ctx context.Context, candles []*domain.Candlestick) error {
	if !s.Enabled {
		s.Logger.Debug("candlestick insertion disabled, skipping bulk write", zap.Int("count", len(candles)))
		return nil
	}
	return s.CandleStore.InsertBulk(ctx, candles)
}

// GatedLiveCandleStore drops live-candle writes unless Enabled is set.
type GatedLiveCandleStore struct {
	LiveCandleStore
	Enabled bool
	Logger  *zap.Logger
}

// NewGatedLiveCandleStore wraps store behind the modify_live_candles switch.
func NewGatedLiveCandleStore(store LiveCandleStore, enabled bool, logger *zap.Logger) *GatedLiveCandleStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatedLiveCandleStore{LiveCandleStore: store, Enabled: enabled, Logger: logger}
}

func (s *GatedLiveCandleStore) Upsert(ctx context.Context, c *domain.LiveCandlestick) error {
	if !s.Enabled {
		s.Logger.Debug("live candle modification disabled, skipping upsert",
			zap.String("pool", c.PoolContract), zap.String("interval", c.Interval))
		return nil
	}
	return s.LiveCandleStore.Upsert(ctx, c)
}

func (s *GatedLiveCandleStore) Merge(ctx context.Context, pool, interval string, openTime int64, m domain.LiveCandleMerge) error {
	if !s.Enabled {
		s.Logger.Debug("live candle modification disabled, skipping merge",
			zap.String("pool", pool), zap.String("interval", interval))
		return nil
	}
	return s.LiveCandleStore.Merge(ctx, pool, interval, openTime, m)
}

// Compile-time interface checks.
var (
	_ TransactionStore = (*GatedTransactionStore)(nil)
	_ CandleStore      = (*GatedCandleStore)(nil)
	_ LiveCandleStore  = (*GatedLiveCandleStore)(nil)
)
