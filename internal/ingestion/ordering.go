package ingestion

import (
	"errors"
	"sort"

	"dex-candles/internal/domain"
)

// ErrInvalidOrdering is returned when transactions are not strictly ordered.
var ErrInvalidOrdering = errors.New("transactions are not in deterministic order")

// SortTransactions orders by (block ASC, log index ASC, timestamp ASC).
func SortTransactions(txs []*domain.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return domain.CompareTransactions(txs[i], txs[j]) < 0
	})
}

// ValidateOrdering checks that txs are strictly increasing by (block, log index).
// Returns ErrInvalidOrdering if not.
func ValidateOrdering(txs []*domain.Transaction) error {
	for i := 1; i < len(txs); i++ {
		prev, cur := txs[i-1], txs[i]
		if prev.BlockNumber > cur.BlockNumber ||
			(prev.BlockNumber == cur.BlockNumber && prev.LogIndex >= cur.LogIndex) {
			return ErrInvalidOrdering
		}
	}
	return nil
}
