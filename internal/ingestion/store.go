package ingestion

import (
	"context"
	"errors"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

// storeTransactions persists txs in one bulk write, falling back to single
// inserts to skip rows that already exist.
func storeTransactions(ctx context.Context, store storage.TransactionStore, txs []*domain.Transaction) (stored, dupes int, err error) {
	if len(txs) == 0 {
		return 0, 0, nil
	}

	err = store.InsertBulk(ctx, txs)
	if err == nil {
		return len(txs), 0, nil
	}
	if !errors.Is(err, storage.ErrDuplicateKey) {
		return 0, 0, err
	}

	// Insert one by one to find which are duplicates
	for _, tx := range txs {
		if err := store.Insert(ctx, tx); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				dupes++
				continue
			}
			return stored, dupes, err
		}
		stored++
	}
	return stored, dupes, nil
}
