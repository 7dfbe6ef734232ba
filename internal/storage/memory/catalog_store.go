package memory

import (
	"context"
	"sync"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

// CatalogStore is an in-memory implementation of storage.CatalogStore.
type CatalogStore struct {
	mu        sync.RWMutex
	intervals []domain.Interval
	pools     []domain.Pool
	protocols []domain.ProtocolInfo
}

// NewCatalogStore creates an empty catalog.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{}
}

func (s *CatalogStore) ReplaceIntervals(_ context.Context, intervals []domain.Interval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervals = append([]domain.Interval(nil), intervals...)
	return nil
}

func (s *CatalogStore) ReplacePools(_ context.Context, pools []domain.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools = append([]domain.Pool(nil), pools...)
	return nil
}

func (s *CatalogStore) ReplaceProtocols(_ context.Context, protocols []domain.ProtocolInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocols = append([]domain.ProtocolInfo(nil), protocols...)
	return nil
}

// Intervals returns the stored interval table.
func (s *CatalogStore) Intervals() []domain.Interval {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Interval(nil), s.intervals...)
}

// Pools returns the stored pool table.
func (s *CatalogStore) Pools() []domain.Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Pool(nil), s.pools...)
}

// Protocols returns the stored protocol table.
func (s *CatalogStore) Protocols() []domain.ProtocolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ProtocolInfo(nil), s.protocols...)
}

// Verify interface compliance at compile time.
var _ storage.CatalogStore = (*CatalogStore)(nil)
