package memory

import (
	"context"
	"sync"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

// LiveCandleStore is an in-memory implementation of storage.LiveCandleStore.
type LiveCandleStore struct {
	mu   sync.Mutex
	rows map[seriesKey]*domain.LiveCandlestick
}

// NewLiveCandleStore creates a new in-memory live candle store.
func NewLiveCandleStore() *LiveCandleStore {
	return &LiveCandleStore{rows: make(map[seriesKey]*domain.LiveCandlestick)}
}

// Upsert overwrites the row.
func (s *LiveCandleStore) Upsert(_ context.Context, c *domain.LiveCandlestick) error {
	if c == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.rows[seriesKey{c.PoolContract, c.Interval}] = &cp
	return nil
}

// Merge folds m into the row if its open time matches.
func (s *LiveCandleStore) Merge(_ context.Context, pool, interval string, openTime int64, m domain.LiveCandleMerge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[seriesKey{pool, interval}]
	if !ok || row.OpenTime != openTime {
		return storage.ErrNotFound
	}
	row.Apply(m)
	return nil
}

// Get returns a copy of the row.
func (s *LiveCandleStore) Get(_ context.Context, pool, interval string) (*domain.LiveCandlestick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[seriesKey{pool, interval}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

// Verify interface compliance at compile time.
var _ storage.LiveCandleStore = (*LiveCandleStore)(nil)
