package memory

import (
	"context"
	"sort"
	"sync"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

type seriesKey struct {
	Pool     string
	Interval string
}

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu     sync.RWMutex
	series map[seriesKey][]*domain.Candlestick // sorted by open time
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{series: make(map[seriesKey][]*domain.Candlestick)}
}

// Insert adds a closed candle. Returns ErrDuplicateKey if (pool, interval, open time) exists.
func (s *CandleStore) Insert(_ context.Context, c *domain.Candlestick) error {
	if c == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exists(c) {
		return storage.ErrDuplicateKey
	}
	s.add(c)
	return nil
}

// InsertBulk adds multiple candles atomically. Fails entire batch on any duplicate.
func (s *CandleStore) InsertBulk(_ context.Context, candles []*domain.Candlestick) error {
	if len(candles) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		seriesKey
		openTime int64
	}
	batchKeys := make(map[key]bool, len(candles))
	for _, c := range candles {
		if c == nil {
			return storage.ErrInvalidInput
		}
		k := key{seriesKey{c.PoolContract, c.Interval}, c.OpenTime}
		if s.exists(c) || batchKeys[k] {
			return storage.ErrDuplicateKey
		}
		batchKeys[k] = true
	}

	for _, c := range candles {
		s.add(c)
	}
	return nil
}

func (s *CandleStore) exists(c *domain.Candlestick) bool {
	rows := s.series[seriesKey{c.PoolContract, c.Interval}]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].OpenTime >= c.OpenTime })
	return i < len(rows) && rows[i].OpenTime == c.OpenTime
}

func (s *CandleStore) add(c *domain.Candlestick) {
	cp := *c
	k := seriesKey{c.PoolContract, c.Interval}
	rows := s.series[k]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].OpenTime > cp.OpenTime })
	rows = append(rows, nil)
	copy(rows[i+1:], rows[i:])
	rows[i] = &cp
	s.series[k] = rows
}

// GetLastClosed returns the candle with the highest open time. Returns ErrNotFound if none.
func (s *CandleStore) GetLastClosed(_ context.Context, pool, interval string) (*domain.Candlestick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.series[seriesKey{pool, interval}]
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	cp := *rows[len(rows)-1]
	return &cp, nil
}

// GetRange returns candles with open time in [from, to).
func (s *CandleStore) GetRange(_ context.Context, pool, interval string, from, to int64) ([]*domain.Candlestick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candlestick
	for _, c := range s.series[seriesKey{pool, interval}] {
		if c.OpenTime >= from && c.OpenTime < to {
			cp := *c
			result = append(result, &cp)
		}
	}
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.CandleStore = (*CandleStore)(nil)
