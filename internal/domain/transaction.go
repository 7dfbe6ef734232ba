package domain

// Transaction is a swap event reduced to price and quote volume.
// Unique per (PoolContract, BlockNumber, LogIndex). Immutable once created.
type Transaction struct {
	Protocol     Protocol // AMM family of the pool
	PoolContract string   // pool address
	BlockNumber  uint64   // block containing the swap
	LogIndex     uint     // position of the log within the block
	Timestamp    int64    // block time, Unix seconds
	Price        float64  // quote price, rounded to 10 decimals
	Volume       float64  // quote asset amount
}

// TransactionKey is the storage uniqueness key of a Transaction.
type TransactionKey struct {
	PoolContract string
	BlockNumber  uint64
	LogIndex     uint
}

// Key returns the uniqueness key of t.
func (t *Transaction) Key() TransactionKey {
	return TransactionKey{PoolContract: t.PoolContract, BlockNumber: t.BlockNumber, LogIndex: t.LogIndex}
}

// CompareTransactions orders by (block ASC, log index ASC, timestamp ASC).
// Returns negative, zero or positive like strings.Compare.
func CompareTransactions(a, b *Transaction) int {
	if a.BlockNumber != b.BlockNumber {
		if a.BlockNumber < b.BlockNumber {
			return -1
		}
		return 1
	}
	if a.LogIndex != b.LogIndex {
		if a.LogIndex < b.LogIndex {
			return -1
		}
		return 1
	}
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	}
	return 0
}
