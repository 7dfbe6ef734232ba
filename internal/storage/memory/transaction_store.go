package memory

import (
	"context"
	"sort"
	"sync"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

// TransactionStore is an in-memory implementation of storage.TransactionStore.
type TransactionStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.Transaction // pool -> transactions, kept sorted
	keys map[domain.TransactionKey]bool
}

// NewTransactionStore creates a new in-memory transaction store.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		data: make(map[string][]*domain.Transaction),
		keys: make(map[domain.TransactionKey]bool),
	}
}

// Insert adds a transaction. Returns ErrDuplicateKey if (pool, block, log index) exists.
func (s *TransactionStore) Insert(_ context.Context, tx *domain.Transaction) error {
	if tx == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys[tx.Key()] {
		return storage.ErrDuplicateKey
	}
	s.add(tx)
	return nil
}

// InsertBulk adds multiple transactions atomically. Fails entire batch on any duplicate.
func (s *TransactionStore) InsertBulk(_ context.Context, txs []*domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for duplicates (both existing and intra-batch)
	batchKeys := make(map[domain.TransactionKey]bool, len(txs))
	for _, tx := range txs {
		if tx == nil {
			return storage.ErrInvalidInput
		}
		key := tx.Key()
		if s.keys[key] || batchKeys[key] {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = true
	}

	for _, tx := range txs {
		s.add(tx)
	}
	return nil
}

// add stores a copy of tx keeping the pool's slice ordered. Caller holds the lock.
func (s *TransactionStore) add(tx *domain.Transaction) {
	cp := *tx
	rows := s.data[tx.PoolContract]
	i := sort.Search(len(rows), func(i int) bool {
		return domain.CompareTransactions(rows[i], &cp) > 0
	})
	rows = append(rows, nil)
	copy(rows[i+1:], rows[i:])
	rows[i] = &cp
	s.data[tx.PoolContract] = rows
	s.keys[tx.Key()] = true
}

// GetLast returns the latest transaction of a pool. Returns ErrNotFound if none.
func (s *TransactionStore) GetLast(_ context.Context, pool string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.data[pool]
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	cp := *rows[len(rows)-1]
	return &cp, nil
}

// GetFromBlock returns transactions with block >= fromBlock in ascending order.
func (s *TransactionStore) GetFromBlock(_ context.Context, pool string, fromBlock uint64) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.data[pool]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].BlockNumber >= fromBlock })

	result := make([]*domain.Transaction, 0, len(rows)-i)
	for _, tx := range rows[i:] {
		cp := *tx
		result = append(result, &cp)
	}
	return result, nil
}

// GetInBlock returns the transactions of one block ordered by log index.
func (s *TransactionStore) GetInBlock(_ context.Context, pool string, block uint64) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.data[pool]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].BlockNumber >= block })

	var result []*domain.Transaction
	for _, tx := range rows[i:] {
		if tx.BlockNumber != block {
			break
		}
		cp := *tx
		result = append(result, &cp)
	}
	return result, nil
}

// Count returns the number of stored transactions of a pool.
func (s *TransactionStore) Count(pool string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[pool])
}

// Verify interface compliance at compile time.
var _ storage.TransactionStore = (*TransactionStore)(nil)
